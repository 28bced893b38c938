package calendar

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidTimestamp is reported when a timestamp does not resolve
	// against its schema (unknown month, day or clock fields out of range).
	ErrInvalidTimestamp = errors.New("calendar: invalid timestamp")

	// ErrInvalidSchema is reported by Schema.Validate.
	ErrInvalidSchema = errors.New("calendar: invalid schema")
)

// TimestampError describes why a timestamp was rejected.
type TimestampError struct {
	Timestamp Timestamp
	Reason    string
}

func (e *TimestampError) Error() string {
	return fmt.Sprintf("calendar: invalid timestamp %d/%s/%d: %s",
		e.Timestamp.Year, e.Timestamp.MonthID, e.Timestamp.Day, e.Reason)
}

// Is lets errors.Is match ErrInvalidTimestamp.
func (e *TimestampError) Is(target error) bool {
	return target == ErrInvalidTimestamp
}

func invalidTimestamp(ts Timestamp, format string, args ...any) error {
	return &TimestampError{Timestamp: ts, Reason: fmt.Sprintf(format, args...)}
}

// SchemaError collects field level schema problems.
type SchemaError struct {
	SchemaID string
	Fields   map[string]string
}

func (e *SchemaError) Error() string {
	if len(e.Fields) == 0 {
		return "calendar: invalid schema " + e.SchemaID
	}
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	sort.Strings(parts)
	return "calendar: invalid schema " + e.SchemaID + ": " + strings.Join(parts, "; ")
}

// Is lets errors.Is match ErrInvalidSchema.
func (e *SchemaError) Is(target error) bool {
	return target == ErrInvalidSchema
}

func (e *SchemaError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
}
