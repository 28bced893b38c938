package calendar

import "fmt"

// Unit is the granularity of an Advance call.
type Unit string

const (
	UnitDay    Unit = "day"
	UnitHour   Unit = "hour"
	UnitMinute Unit = "minute"
)

// ParseUnit accepts the unit names and their common short forms.
func ParseUnit(s string) (Unit, error) {
	switch s {
	case "day", "days", "d":
		return UnitDay, nil
	case "hour", "hours", "h":
		return UnitHour, nil
	case "minute", "minutes", "min", "m":
		return UnitMinute, nil
	default:
		return "", fmt.Errorf("calendar: unknown time unit %q", s)
	}
}

// AdvanceResult wraps the moved timestamp so callers can attach diagnostics.
type AdvanceResult struct {
	Timestamp Timestamp `json:"timestamp"`
	// Normalized reports that the move crossed at least one year boundary.
	Normalized bool `json:"normalized"`
	// CarriedDays is the whole-day difference between input and result.
	CarriedDays int64 `json:"carried_days"`
}

// UnitMinutes returns the ordinal delta of one unit in schema s.
func UnitMinutes(s *Schema, unit Unit) (int64, error) {
	switch unit {
	case UnitDay:
		return s.MinutesPerDay(), nil
	case UnitHour:
		return int64(s.MinutesPerHour), nil
	case UnitMinute:
		return 1, nil
	default:
		return 0, fmt.Errorf("calendar: unknown time unit %q", unit)
	}
}

// Advance moves ts by amount units (negative amounts rewind). The result
// keeps the precision of ts. For a day-precision input, sub-day amounts only
// move the date by whole days, truncated toward zero, so advancing by n and
// then by -n always returns the original timestamp.
func Advance(s *Schema, ts Timestamp, amount int64, unit Unit) (AdvanceResult, error) {
	if err := usable(s); err != nil {
		return AdvanceResult{}, err
	}
	step, err := UnitMinutes(s, unit)
	if err != nil {
		return AdvanceResult{}, err
	}
	delta := amount * step
	if amount != 0 && delta/amount != step {
		return AdvanceResult{}, fmt.Errorf("%w: advancing by %d %s overflows", ErrInvalidTimestamp, amount, unit)
	}

	start, err := ToOrdinal(s, ts)
	if err != nil {
		return AdvanceResult{}, err
	}

	precision := ts.Precision
	target := start + delta
	if (delta > 0 && target < start) || (delta < 0 && target > start) {
		return AdvanceResult{}, fmt.Errorf("%w: advancing by %d %s overflows", ErrInvalidTimestamp, amount, unit)
	}
	if precision != PrecisionMinute {
		target = start + (delta/s.MinutesPerDay())*s.MinutesPerDay()
	}

	next, err := FromOrdinal(s, ts.CalendarID, target, precision)
	if err != nil {
		return AdvanceResult{}, err
	}

	perDay := s.MinutesPerDay()
	return AdvanceResult{
		Timestamp:   next,
		Normalized:  next.Year != ts.Year,
		CarriedDays: floorDiv(target, perDay) - floorDiv(start, perDay),
	}, nil
}
