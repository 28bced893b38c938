package calendar

import (
	"fmt"
	"strconv"
	"strings"
)

// Format renders ts for display. monthName overrides the month ID when set.
func Format(ts Timestamp, monthName string) string {
	month := monthName
	if month == "" {
		month = ts.MonthID
	}
	if ts.Precision != PrecisionMinute {
		return fmt.Sprintf("Year %d, Day %d of %s", ts.Year, ts.Day, month)
	}
	return fmt.Sprintf("Year %d, Day %d of %s, %02d:%02d", ts.Year, ts.Day, month, ts.Hour, ts.Minute)
}

// FormatWithSchema renders ts using the month name from s.
func FormatWithSchema(s *Schema, ts Timestamp) string {
	return Format(ts, s.MonthName(ts.MonthID))
}

// String renders the compact YEAR/MONTH/DAY[ HH:MM] form accepted by
// ParseTimestamp.
func (t Timestamp) String() string {
	if t.Precision != PrecisionMinute {
		return fmt.Sprintf("%d/%s/%d", t.Year, t.MonthID, t.Day)
	}
	return fmt.Sprintf("%d/%s/%d %02d:%02d", t.Year, t.MonthID, t.Day, t.Hour, t.Minute)
}

// ParseTimestamp parses "YEAR/MONTH/DAY" or "YEAR/MONTH/DAY HH:MM". MONTH
// matches a month ID or name case-insensitively. The result is validated
// against s.
func ParseTimestamp(s *Schema, calendarID, value string) (Timestamp, error) {
	value = strings.TrimSpace(value)
	datePart, clockPart, hasClock := strings.Cut(value, " ")

	fields := strings.Split(datePart, "/")
	if len(fields) != 3 {
		return Timestamp{}, fmt.Errorf("calendar: parse %q: want YEAR/MONTH/DAY", value)
	}
	year, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return Timestamp{}, fmt.Errorf("calendar: parse %q: year: %w", value, err)
	}
	monthID, ok := resolveMonth(s, strings.TrimSpace(fields[1]))
	if !ok {
		return Timestamp{}, invalidTimestamp(Timestamp{CalendarID: calendarID, Year: year, MonthID: fields[1]},
			"unknown month %q in schema %s", fields[1], s.ID)
	}
	day, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return Timestamp{}, fmt.Errorf("calendar: parse %q: day: %w", value, err)
	}

	ts := DayTimestamp(calendarID, year, monthID, day)
	if hasClock {
		hh, mm, ok := strings.Cut(strings.TrimSpace(clockPart), ":")
		if !ok {
			return Timestamp{}, fmt.Errorf("calendar: parse %q: want HH:MM", value)
		}
		hour, err := strconv.Atoi(hh)
		if err != nil {
			return Timestamp{}, fmt.Errorf("calendar: parse %q: hour: %w", value, err)
		}
		minute, err := strconv.Atoi(mm)
		if err != nil {
			return Timestamp{}, fmt.Errorf("calendar: parse %q: minute: %w", value, err)
		}
		ts = ts.At(hour, minute)
	}

	if err := s.check(ts); err != nil {
		return Timestamp{}, err
	}
	return ts, nil
}

func resolveMonth(s *Schema, token string) (string, bool) {
	for _, m := range s.Months {
		if strings.EqualFold(m.ID, token) || (m.Name != "" && strings.EqualFold(m.Name, token)) {
			return m.ID, true
		}
	}
	return "", false
}
