package calendar

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultHoursPerDay is used by document loaders when a schema omits it.
	DefaultHoursPerDay = 24
	// DefaultMinutesPerHour is used by document loaders when a schema omits it.
	DefaultMinutesPerHour = 60
)

// Month is one named month of a campaign calendar year.
type Month struct {
	ID     string `yaml:"id" json:"id" validate:"required"`
	Name   string `yaml:"name" json:"name"`
	Length int    `yaml:"length" json:"length" validate:"min=1"`
}

// Epoch is the date that maps to ordinal zero.
type Epoch struct {
	Year    int    `yaml:"year" json:"year"`
	MonthID string `yaml:"month_id" json:"month_id" validate:"required"`
	Day     int    `yaml:"day" json:"day" validate:"min=1"`
}

// Schema describes the structure of a campaign calendar. A Schema is treated
// as immutable once validated; every function in this package only reads it.
type Schema struct {
	ID             string  `yaml:"id" json:"id" validate:"required"`
	Name           string  `yaml:"name" json:"name"`
	Description    string  `yaml:"description,omitempty" json:"description,omitempty"`
	Months         []Month `yaml:"months" json:"months" validate:"required,min=1,dive"`
	DaysPerWeek    int     `yaml:"days_per_week" json:"days_per_week" validate:"min=1"`
	HoursPerDay    int     `yaml:"hours_per_day" json:"hours_per_day" validate:"min=1"`
	MinutesPerHour int     `yaml:"minutes_per_hour" json:"minutes_per_hour" validate:"min=1"`
	Epoch          Epoch   `yaml:"epoch" json:"epoch"`
}

// validate is safe for concurrent use and caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks the structural invariants of the schema: at least one
// month, positive lengths and subdivisions, unique month IDs and an epoch
// that resolves against the months.
func (s *Schema) Validate() error {
	if s == nil {
		return &SchemaError{Fields: map[string]string{"schema": "is nil"}}
	}

	verr := &SchemaError{SchemaID: s.ID}

	if err := validate.Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validate schema %s: %w", s.ID, err)
		}
		for _, fe := range fieldErrs {
			verr.add(fieldPath(fe.Namespace()), describeTag(fe))
		}
	}

	seen := make(map[string]struct{}, len(s.Months))
	for i, m := range s.Months {
		if m.ID == "" {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			verr.add(fmt.Sprintf("months[%d].id", i), "duplicate month id "+m.ID)
		}
		seen[m.ID] = struct{}{}
	}

	if s.Epoch.MonthID != "" {
		month, ok := s.Month(s.Epoch.MonthID)
		switch {
		case !ok:
			verr.add("epoch.month_id", "unknown month "+s.Epoch.MonthID)
		case s.Epoch.Day > month.Length:
			verr.add("epoch.day", fmt.Sprintf("exceeds length %d of month %s", month.Length, month.ID))
		}
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func fieldPath(namespace string) string {
	// Drop the leading "Schema." added by the validator.
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

// DaysPerYear is the sum of all month lengths.
func (s *Schema) DaysPerYear() int {
	total := 0
	for _, m := range s.Months {
		total += m.Length
	}
	return total
}

// MinutesPerDay is HoursPerDay * MinutesPerHour.
func (s *Schema) MinutesPerDay() int64 {
	return int64(s.HoursPerDay) * int64(s.MinutesPerHour)
}

// Month looks up a month by ID.
func (s *Schema) Month(id string) (Month, bool) {
	for _, m := range s.Months {
		if m.ID == id {
			return m, true
		}
	}
	return Month{}, false
}

// MonthName returns the display name of a month, falling back to its ID.
func (s *Schema) MonthName(id string) string {
	if m, ok := s.Month(id); ok && m.Name != "" {
		return m.Name
	}
	return id
}

// DayOfYear returns the 1-indexed day of year of ts.
func (s *Schema) DayOfYear(ts Timestamp) (int, error) {
	if err := s.check(ts); err != nil {
		return 0, err
	}
	return s.dayOfYear(ts.MonthID, ts.Day), nil
}

func (s *Schema) dayOfYear(monthID string, day int) int {
	days := 0
	for _, m := range s.Months {
		if m.ID == monthID {
			break
		}
		days += m.Length
	}
	return days + day
}

// DateFromDayOfYear resolves a 1-indexed day of year into a day-precision
// timestamp for the given year.
func (s *Schema) DateFromDayOfYear(calendarID string, year, dayOfYear int) (Timestamp, error) {
	if dayOfYear < 1 || dayOfYear > s.DaysPerYear() {
		return Timestamp{}, invalidTimestamp(Timestamp{CalendarID: calendarID, Year: year, Day: dayOfYear},
			"day of year %d outside 1..%d", dayOfYear, s.DaysPerYear())
	}
	remaining := dayOfYear
	for _, m := range s.Months {
		if remaining <= m.Length {
			return DayTimestamp(calendarID, year, m.ID, remaining), nil
		}
		remaining -= m.Length
	}
	// Unreachable for a validated schema.
	return Timestamp{}, invalidTimestamp(Timestamp{CalendarID: calendarID, Year: year, Day: dayOfYear},
		"day of year %d did not resolve", dayOfYear)
}

// check verifies that ts resolves against the schema.
func (s *Schema) check(ts Timestamp) error {
	if !ts.Precision.valid() {
		return invalidTimestamp(ts, "unknown precision %q", ts.Precision)
	}
	month, ok := s.Month(ts.MonthID)
	if !ok {
		return invalidTimestamp(ts, "unknown month %q in schema %s", ts.MonthID, s.ID)
	}
	if ts.Day < 1 {
		return invalidTimestamp(ts, "day must be at least 1")
	}
	if ts.Day > month.Length {
		return invalidTimestamp(ts, "day exceeds length %d of month %s", month.Length, month.ID)
	}
	if ts.Precision == PrecisionMinute {
		if ts.Hour < 0 || ts.Hour >= s.HoursPerDay {
			return invalidTimestamp(ts, "hour %d outside 0..%d", ts.Hour, s.HoursPerDay-1)
		}
		if ts.Minute < 0 || ts.Minute >= s.MinutesPerHour {
			return invalidTimestamp(ts, "minute %d outside 0..%d", ts.Minute, s.MinutesPerHour-1)
		}
	}
	return nil
}

// Check reports whether ts resolves against the schema.
func (s *Schema) Check(ts Timestamp) error {
	return s.check(ts)
}
