package schedule

import (
	"fmt"

	"almanac/internal/calendar"
	"almanac/internal/model"
)

// span is a resolved occurrence window.
type span struct {
	start    calendar.Timestamp
	end      calendar.Timestamp
	ord      int64
	duration int
}

// singleSpan resolves a single event. Timed events start at StartTime (or the
// clock of Date); EndTime stretches the duration and wraps past midnight.
// All-day events without a duration cover one full day.
func singleSpan(s *calendar.Schema, ev model.Event) (span, error) {
	start := ev.Date.Normalized()
	if !ev.AllDay {
		hour, minute := start.Hour, start.Minute
		if ev.StartTime != nil {
			hour, minute = ev.StartTime.Hour, ev.StartTime.Minute
		}
		start = start.At(hour, minute)
	}

	duration := 0
	if ev.DurationMinutes != nil {
		duration = *ev.DurationMinutes
	}
	if ev.EndTime != nil {
		from := model.TimeOfDay{}
		if ev.StartTime != nil {
			from = *ev.StartTime
		}
		if d := durationBetween(s, from, *ev.EndTime); d > duration {
			duration = d
		}
	}
	if duration <= 0 {
		duration = 0
		if ev.AllDay {
			duration = int(s.MinutesPerDay())
		}
	}
	return finish(s, start, duration)
}

// policySpan places a rule match (a day-precision base) according to policy.
func policySpan(s *calendar.Schema, base calendar.Timestamp, policy model.TimePolicy, startTime *model.TimeOfDay, offset int, duration *int) (span, error) {
	switch policy {
	case model.PolicyAllDay, "":
		d := int(s.MinutesPerDay())
		if duration != nil {
			d = *duration
		}
		return finish(s, base.Date(), d)
	case model.PolicyFixed:
		tod := model.TimeOfDay{}
		if startTime != nil {
			tod = *startTime
		}
		start := base.At(tod.Hour, tod.Minute)
		if err := s.Check(start); err != nil {
			return span{}, err
		}
		return finish(s, start, deref(duration))
	case model.PolicyOffset:
		moved, err := calendar.Advance(s, base.At(0, 0), int64(offset), calendar.UnitMinute)
		if err != nil {
			return span{}, err
		}
		return finish(s, moved.Timestamp, deref(duration))
	default:
		return span{}, fmt.Errorf("schedule: unsupported time policy %q", policy)
	}
}

func finish(s *calendar.Schema, start calendar.Timestamp, duration int) (span, error) {
	ord, err := calendar.ToOrdinal(s, start)
	if err != nil {
		return span{}, err
	}
	if duration < 0 {
		duration = 0
	}
	end := start
	if duration > 0 {
		moved, err := calendar.Advance(s, start, int64(duration), calendar.UnitMinute)
		if err != nil {
			return span{}, err
		}
		end = moved.Timestamp
	}
	return span{start: start, end: end, ord: ord, duration: duration}, nil
}

// durationBetween returns the minutes from one time of day to another;
// an end at or before the start rolls over into the next day.
func durationBetween(s *calendar.Schema, from, to model.TimeOfDay) int {
	mph := s.MinutesPerHour
	raw := (to.Hour*mph + to.Minute) - (from.Hour*mph + from.Minute)
	if raw <= 0 {
		return int(s.MinutesPerDay()) + raw
	}
	return raw
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
