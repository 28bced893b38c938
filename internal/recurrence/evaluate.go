package recurrence

import (
	"fmt"
	"sort"

	"almanac/internal/calendar"
	appLog "almanac/internal/log"
)

// DefaultMaxLookaheadYears bounds next-occurrence searches when no explicit
// bound is given.
const DefaultMaxLookaheadYears = 100

// Evaluator expands rules into concrete base timestamps. The zero value uses
// the process-wide registry for custom rules.
type Evaluator struct {
	Registry *Registry
}

func NewEvaluator(reg *Registry) *Evaluator {
	return &Evaluator{Registry: reg}
}

func (e *Evaluator) registry() *Registry {
	if e == nil || e.Registry == nil {
		return defaultRegistry
	}
	return e.Registry
}

// Validate checks a rule payload against the schema without evaluating it.
func Validate(s *calendar.Schema, rule Rule) error {
	switch r := rule.(type) {
	case AnnualOffset:
		if r.OffsetDayOfYear < 1 {
			return ruleError(KindAnnualOffset, "offsetDayOfYear %d must be at least 1", r.OffsetDayOfYear)
		}
	case MonthlyPosition:
		if _, ok := s.Month(r.MonthID); !ok {
			return ruleError(KindMonthlyPosition, "unknown month %q", r.MonthID)
		}
		if r.Day < 1 {
			return ruleError(KindMonthlyPosition, "day %d must be at least 1", r.Day)
		}
	case WeeklyDayIndex:
		if r.DayIndex < 0 || r.DayIndex >= s.DaysPerWeek {
			return ruleError(KindWeeklyDayIndex, "dayIndex %d outside 0..%d", r.DayIndex, s.DaysPerWeek-1)
		}
		if r.Interval <= 0 {
			return ruleError(KindWeeklyDayIndex, "interval %d must be at least 1", r.Interval)
		}
	case Custom:
		if r.CustomRuleID == "" {
			return ruleError(KindCustom, "customRuleId is empty")
		}
	case nil:
		return &RuleError{Kind: "", Reason: "rule is nil"}
	default:
		return &RuleError{Kind: rule.Kind(), Reason: fmt.Sprintf("unsupported rule type %T", rule)}
	}
	return nil
}

// Occurrences returns the base occurrences whose start lies in
// [rangeStart, rangeEnd), ascending and without duplicates. Built-in rules
// yield day-precision timestamps.
func (e *Evaluator) Occurrences(s *calendar.Schema, calendarID string, rule Rule, anchor, rangeStart, rangeEnd calendar.Timestamp) ([]calendar.Timestamp, error) {
	from, err := calendar.ToOrdinal(s, rangeStart)
	if err != nil {
		return nil, err
	}
	to, err := calendar.ToOrdinal(s, rangeEnd)
	if err != nil {
		return nil, err
	}
	perDay := s.MinutesPerDay()
	return e.between(s, calendarID, rule, anchor, ceilDiv(from, perDay), ceilDiv(to, perDay))
}

// between returns the base occurrences falling on absolute days in
// [fromDay, toDay).
func (e *Evaluator) between(s *calendar.Schema, calendarID string, rule Rule, anchor calendar.Timestamp, fromDay, toDay int64) ([]calendar.Timestamp, error) {
	if err := Validate(s, rule); err != nil {
		return nil, err
	}
	if _, err := calendar.ToAbsoluteDay(s, anchor); err != nil {
		return nil, err
	}
	if toDay <= fromDay {
		return nil, nil
	}

	switch r := rule.(type) {
	case AnnualOffset:
		return annualOccurrences(s, calendarID, r, fromDay, toDay)
	case MonthlyPosition:
		return monthlyOccurrences(s, calendarID, r, fromDay, toDay)
	case WeeklyDayIndex:
		return weeklyOccurrences(s, calendarID, r, anchor, fromDay, toDay)
	case Custom:
		return e.customOccurrences(s, calendarID, r, anchor, fromDay, toDay)
	}
	return nil, nil
}

// yearSpan returns the first and last calendar year touched by the window.
func yearSpan(s *calendar.Schema, calendarID string, fromDay, toDay int64) (int, int, error) {
	first, err := calendar.FromAbsoluteDay(s, calendarID, fromDay)
	if err != nil {
		return 0, 0, err
	}
	last, err := calendar.FromAbsoluteDay(s, calendarID, toDay-1)
	if err != nil {
		return 0, 0, err
	}
	return first.Year, last.Year, nil
}

func annualOccurrences(s *calendar.Schema, calendarID string, r AnnualOffset, fromDay, toDay int64) ([]calendar.Timestamp, error) {
	firstYear, lastYear, err := yearSpan(s, calendarID, fromDay, toDay)
	if err != nil {
		return nil, err
	}
	perYear := s.DaysPerYear()
	offset := (r.OffsetDayOfYear-1)%perYear + 1

	out := make([]calendar.Timestamp, 0, lastYear-firstYear+1)
	for year := firstYear; year <= lastYear; year++ {
		ts, err := s.DateFromDayOfYear(calendarID, year, offset)
		if err != nil {
			return nil, err
		}
		if ok, err := dayInWindow(s, ts, fromDay, toDay); err != nil {
			return nil, err
		} else if ok {
			out = append(out, ts)
		}
	}
	return out, nil
}

func monthlyOccurrences(s *calendar.Schema, calendarID string, r MonthlyPosition, fromDay, toDay int64) ([]calendar.Timestamp, error) {
	month, _ := s.Month(r.MonthID)
	if r.Day > month.Length {
		// The day never exists in this schema; skipped rather than clamped.
		appLog.Debug("recurrence: monthly position day exceeds month length",
			"month", r.MonthID, "day", r.Day, "length", month.Length)
		return nil, nil
	}

	firstYear, lastYear, err := yearSpan(s, calendarID, fromDay, toDay)
	if err != nil {
		return nil, err
	}

	out := make([]calendar.Timestamp, 0, lastYear-firstYear+1)
	for year := firstYear; year <= lastYear; year++ {
		ts := calendar.DayTimestamp(calendarID, year, r.MonthID, r.Day)
		if ok, err := dayInWindow(s, ts, fromDay, toDay); err != nil {
			return nil, err
		} else if ok {
			out = append(out, ts)
		}
	}
	return out, nil
}

func weeklyOccurrences(s *calendar.Schema, calendarID string, r WeeklyDayIndex, anchor calendar.Timestamp, fromDay, toDay int64) ([]calendar.Timestamp, error) {
	anchorDay, err := calendar.ToAbsoluteDay(s, anchor)
	if err != nil {
		return nil, err
	}
	perWeek := int64(s.DaysPerWeek)
	weekday := calendar.Mod(anchorDay, perWeek)
	base := anchorDay + calendar.Mod(int64(r.DayIndex)-weekday, perWeek)
	period := int64(r.Interval) * perWeek

	day := base + ceilDiv(fromDay-base, period)*period
	out := make([]calendar.Timestamp, 0, (toDay-fromDay)/period+1)
	for ; day < toDay; day += period {
		ts, err := calendar.FromAbsoluteDay(s, calendarID, day)
		if err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, nil
}

func (e *Evaluator) customOccurrences(s *calendar.Schema, calendarID string, r Custom, anchor calendar.Timestamp, fromDay, toDay int64) ([]calendar.Timestamp, error) {
	st, ok := e.registry().Lookup(r.CustomRuleID)
	if !ok {
		appLog.Debug("recurrence: custom rule not registered; no occurrences", "custom_rule_id", r.CustomRuleID)
		return nil, nil
	}

	rangeStart, err := calendar.FromAbsoluteDay(s, calendarID, fromDay)
	if err != nil {
		return nil, err
	}
	rangeEnd, err := calendar.FromAbsoluteDay(s, calendarID, toDay)
	if err != nil {
		return nil, err
	}

	raw, err := st.Occurrences(s, anchor, rangeStart, rangeEnd)
	if err != nil {
		return nil, &RuleError{Kind: KindCustom, Reason: "strategy " + r.CustomRuleID + " failed", Err: err}
	}

	perDay := s.MinutesPerDay()
	lo, hi := fromDay*perDay, toDay*perDay

	type keyed struct {
		ord int64
		ts  calendar.Timestamp
	}
	items := make([]keyed, 0, len(raw))
	for _, ts := range raw {
		ts = ts.Normalized()
		if ts.CalendarID == "" {
			ts.CalendarID = calendarID
		}
		ord, err := calendar.ToOrdinal(s, ts)
		if err != nil {
			return nil, &RuleError{Kind: KindCustom, Reason: "strategy " + r.CustomRuleID + " returned an invalid timestamp", Err: err}
		}
		if ord < lo || ord >= hi {
			continue
		}
		items = append(items, keyed{ord: ord, ts: ts})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].ord < items[j].ord })

	out := make([]calendar.Timestamp, 0, len(items))
	for i, it := range items {
		if i > 0 && it.ord == items[i-1].ord {
			continue
		}
		out = append(out, it.ts)
	}
	return out, nil
}

// SearchWidths lists the window sizes in days used by widening searches:
// one day, one week, one year, then doubling year counts up to maxYears.
func SearchWidths(s *calendar.Schema, maxYears int) []int64 {
	perYear := int64(s.DaysPerYear())
	widths := []int64{1, int64(s.DaysPerWeek) + 1, perYear + 1}
	for years := int64(2); years < int64(maxYears); years *= 2 {
		widths = append(widths, years*perYear+1)
	}
	return append(widths, int64(maxYears)*perYear+1)
}

func dayInWindow(s *calendar.Schema, ts calendar.Timestamp, fromDay, toDay int64) (bool, error) {
	day, err := calendar.ToAbsoluteDay(s, ts)
	if err != nil {
		return false, err
	}
	return day >= fromDay && day < toDay, nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 {
	return -floorDiv(-a, b)
}
