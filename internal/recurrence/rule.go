// Package recurrence evaluates repeat rules against a campaign calendar
// schema. Every evaluation is a pure function of its inputs; the only shared
// state is the custom strategy registry, which is populated at startup.
package recurrence

import (
	"errors"
	"fmt"
)

// Kind identifies a repeat rule variant.
type Kind string

const (
	KindAnnualOffset    Kind = "annual_offset"
	KindMonthlyPosition Kind = "monthly_position"
	KindWeeklyDayIndex  Kind = "weekly_dayIndex"
	KindCustom          Kind = "custom"
)

// Rule is one of AnnualOffset, MonthlyPosition, WeeklyDayIndex or Custom.
type Rule interface {
	Kind() Kind
	isRule()
}

// AnnualOffset recurs every year on a 1-indexed day of year. Offsets larger
// than the year wrap around.
type AnnualOffset struct {
	OffsetDayOfYear int
}

// MonthlyPosition recurs every year in MonthID on Day.
type MonthlyPosition struct {
	MonthID string
	Day     int
}

// WeeklyDayIndex recurs every Interval weeks on week-day DayIndex, phased
// from the first matching week-day on or after the anchor.
type WeeklyDayIndex struct {
	DayIndex int
	Interval int
}

// Custom delegates to a Strategy registered under CustomRuleID.
type Custom struct {
	CustomRuleID string
}

func (AnnualOffset) Kind() Kind    { return KindAnnualOffset }
func (MonthlyPosition) Kind() Kind { return KindMonthlyPosition }
func (WeeklyDayIndex) Kind() Kind  { return KindWeeklyDayIndex }
func (Custom) Kind() Kind          { return KindCustom }

func (AnnualOffset) isRule()    {}
func (MonthlyPosition) isRule() {}
func (WeeklyDayIndex) isRule()  {}
func (Custom) isRule()          {}

var (
	// ErrInvalidRule marks a structurally invalid rule payload.
	ErrInvalidRule = errors.New("recurrence: invalid rule")

	// ErrDuplicateRule is returned when a custom rule ID is registered twice.
	ErrDuplicateRule = errors.New("recurrence: custom rule already registered")
)

// RuleError explains why a rule could not be evaluated.
type RuleError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *RuleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recurrence: invalid %s rule: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("recurrence: invalid %s rule: %s", e.Kind, e.Reason)
}

// Is lets errors.Is match ErrInvalidRule.
func (e *RuleError) Is(target error) bool {
	return target == ErrInvalidRule
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

func ruleError(kind Kind, format string, args ...any) error {
	return &RuleError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}
