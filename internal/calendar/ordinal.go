package calendar

// ToAbsoluteDay returns the number of days between the schema epoch and ts.
// Days before the epoch are negative.
func ToAbsoluteDay(s *Schema, ts Timestamp) (int64, error) {
	if err := usable(s); err != nil {
		return 0, err
	}
	if err := s.check(ts); err != nil {
		return 0, err
	}
	years := int64(ts.Year) - int64(s.Epoch.Year)
	days := years*int64(s.DaysPerYear()) + int64(s.dayOfYear(ts.MonthID, ts.Day))
	return days - int64(s.dayOfYear(s.Epoch.MonthID, s.Epoch.Day)), nil
}

// FromAbsoluteDay is the inverse of ToAbsoluteDay and yields a
// day-precision timestamp.
func FromAbsoluteDay(s *Schema, calendarID string, day int64) (Timestamp, error) {
	if err := usable(s); err != nil {
		return Timestamp{}, err
	}
	perYear := int64(s.DaysPerYear())
	shifted := day + int64(s.dayOfYear(s.Epoch.MonthID, s.Epoch.Day)) - 1
	yearOffset := floorDiv(shifted, perYear)
	index := shifted - yearOffset*perYear
	return s.DateFromDayOfYear(calendarID, s.Epoch.Year+int(yearOffset), int(index)+1)
}

// ToOrdinal returns the absolute minute index of ts since the schema epoch.
// Day-precision timestamps are treated as midnight.
func ToOrdinal(s *Schema, ts Timestamp) (int64, error) {
	day, err := ToAbsoluteDay(s, ts)
	if err != nil {
		return 0, err
	}
	hour, minute := ts.clock()
	return (day*int64(s.HoursPerDay)+int64(hour))*int64(s.MinutesPerHour) + int64(minute), nil
}

// FromOrdinal converts an absolute minute index back into a timestamp of the
// requested precision. Day precision truncates to the containing day.
func FromOrdinal(s *Schema, calendarID string, ordinal int64, precision Precision) (Timestamp, error) {
	if err := usable(s); err != nil {
		return Timestamp{}, err
	}
	perDay := s.MinutesPerDay()
	day := floorDiv(ordinal, perDay)
	date, err := FromAbsoluteDay(s, calendarID, day)
	if err != nil {
		return Timestamp{}, err
	}
	if precision != PrecisionMinute {
		return date, nil
	}
	rem := ordinal - day*perDay
	mph := int64(s.MinutesPerHour)
	return date.At(int(rem/mph), int(rem%mph)), nil
}

// Compare orders a and b by their ordinals and returns -1, 0 or 1.
func Compare(s *Schema, a, b Timestamp) (int, error) {
	oa, err := ToOrdinal(s, a)
	if err != nil {
		return 0, err
	}
	ob, err := ToOrdinal(s, b)
	if err != nil {
		return 0, err
	}
	switch {
	case oa < ob:
		return -1, nil
	case oa > ob:
		return 1, nil
	default:
		return 0, nil
	}
}

// Weekday returns the 0-based week-day index of ts. The epoch is week-day 0.
func Weekday(s *Schema, ts Timestamp) (int, error) {
	day, err := ToAbsoluteDay(s, ts)
	if err != nil {
		return 0, err
	}
	return int(Mod(day, int64(s.DaysPerWeek))), nil
}

// Mod is the euclidean remainder; the result has the sign of divisor.
func Mod(value, divisor int64) int64 {
	return ((value % divisor) + divisor) % divisor
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// usable guards the arithmetic against schemas that would divide by zero.
func usable(s *Schema) error {
	if s == nil {
		return &SchemaError{Fields: map[string]string{"schema": "is nil"}}
	}
	if s.DaysPerYear() <= 0 || s.MinutesPerDay() <= 0 || s.DaysPerWeek <= 0 {
		return &SchemaError{SchemaID: s.ID, Fields: map[string]string{"schema": "has no usable units"}}
	}
	return nil
}
