package calendar

// Precision marks whether the clock fields of a Timestamp are meaningful.
type Precision string

const (
	PrecisionDay    Precision = "day"
	PrecisionMinute Precision = "minute"
)

func (p Precision) valid() bool {
	return p == PrecisionDay || p == PrecisionMinute
}

// Timestamp is a point in campaign time relative to a Schema.
//
// Timestamps are values: every operation returns a new one. A day-precision
// timestamp produced by this package always has Hour and Minute set to zero,
// so comparing two timestamps with == is meaningful.
type Timestamp struct {
	CalendarID string    `yaml:"calendar_id" json:"calendar_id"`
	Year       int       `yaml:"year" json:"year"`
	MonthID    string    `yaml:"month_id" json:"month_id"`
	Day        int       `yaml:"day" json:"day"`
	Hour       int       `yaml:"hour,omitempty" json:"hour,omitempty"`
	Minute     int       `yaml:"minute,omitempty" json:"minute,omitempty"`
	Precision  Precision `yaml:"precision" json:"precision"`
}

// DayTimestamp builds a day-precision timestamp.
func DayTimestamp(calendarID string, year int, monthID string, day int) Timestamp {
	return Timestamp{
		CalendarID: calendarID,
		Year:       year,
		MonthID:    monthID,
		Day:        day,
		Precision:  PrecisionDay,
	}
}

// MinuteTimestamp builds a minute-precision timestamp.
func MinuteTimestamp(calendarID string, year int, monthID string, day, hour, minute int) Timestamp {
	return Timestamp{
		CalendarID: calendarID,
		Year:       year,
		MonthID:    monthID,
		Day:        day,
		Hour:       hour,
		Minute:     minute,
		Precision:  PrecisionMinute,
	}
}

// Normalized drops clock fields that a day-precision timestamp must not carry.
func (t Timestamp) Normalized() Timestamp {
	if t.Precision != PrecisionMinute {
		t.Hour = 0
		t.Minute = 0
	}
	return t
}

// Date returns the day-precision timestamp of the same day.
func (t Timestamp) Date() Timestamp {
	return DayTimestamp(t.CalendarID, t.Year, t.MonthID, t.Day)
}

// At returns the minute-precision timestamp of the same day at hour:minute.
func (t Timestamp) At(hour, minute int) Timestamp {
	return MinuteTimestamp(t.CalendarID, t.Year, t.MonthID, t.Day, hour, minute)
}

// HasClock reports whether Hour and Minute are meaningful.
func (t Timestamp) HasClock() bool {
	return t.Precision == PrecisionMinute
}

// clock returns hour and minute, treating day precision as midnight.
func (t Timestamp) clock() (int, int) {
	if t.Precision != PrecisionMinute {
		return 0, 0
	}
	return t.Hour, t.Minute
}
