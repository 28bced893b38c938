package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"almanac/internal/calendar"
)

// RRuleStrategy evaluates an iCalendar RRULE over the campaign's day axis:
// absolute day N of the schema is mapped onto the N-th day after the Unix
// epoch, expanded with rrule-go and mapped back. Only FREQ=DAILY with
// INTERVAL and COUNT is meaningful on that axis, so other parts are rejected.
type RRuleStrategy struct {
	raw string
	opt rrule.ROption
}

const secondsPerAxisDay = 24 * 60 * 60

// NewRRuleStrategy parses raw (e.g. "FREQ=DAILY;INTERVAL=3;COUNT=10").
func NewRRuleStrategy(raw string) (*RRuleStrategy, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "RRULE:")
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return nil, fmt.Errorf("recurrence: parse rrule %q: %w", raw, err)
	}
	if opt.Freq != rrule.DAILY {
		return nil, fmt.Errorf("recurrence: rrule %q: only FREQ=DAILY is supported on custom calendars", raw)
	}
	if !opt.Until.IsZero() {
		return nil, fmt.Errorf("recurrence: rrule %q: UNTIL is not supported, bound the event instead", raw)
	}
	if len(opt.Byweekday)+len(opt.Bymonth)+len(opt.Bymonthday)+len(opt.Byyearday)+
		len(opt.Byweekno)+len(opt.Bysetpos)+len(opt.Byeaster) > 0 {
		return nil, fmt.Errorf("recurrence: rrule %q: BY* parts are not supported on custom calendars", raw)
	}
	return &RRuleStrategy{raw: raw, opt: *opt}, nil
}

func (r *RRuleStrategy) String() string {
	return r.raw
}

func (r *RRuleStrategy) Occurrences(s *calendar.Schema, anchor, rangeStart, rangeEnd calendar.Timestamp) ([]calendar.Timestamp, error) {
	anchorDay, err := calendar.ToAbsoluteDay(s, anchor)
	if err != nil {
		return nil, err
	}
	fromDay, err := calendar.ToAbsoluteDay(s, rangeStart)
	if err != nil {
		return nil, err
	}
	toDay, err := calendar.ToAbsoluteDay(s, rangeEnd)
	if err != nil {
		return nil, err
	}

	opt := r.opt
	opt.Dtstart = axisTime(anchorDay)
	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("recurrence: build rrule %q: %w", r.raw, err)
	}

	times := rule.Between(axisTime(fromDay), axisTime(toDay), true)
	out := make([]calendar.Timestamp, 0, len(times))
	for _, t := range times {
		day := axisDay(t)
		if day >= toDay {
			continue
		}
		ts, err := calendar.FromAbsoluteDay(s, anchor.CalendarID, day)
		if err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, nil
}

func axisTime(day int64) time.Time {
	return time.Unix(day*secondsPerAxisDay, 0).UTC()
}

func axisDay(t time.Time) int64 {
	return floorDiv(t.Unix(), secondsPerAxisDay)
}
