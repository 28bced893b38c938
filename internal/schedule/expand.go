package schedule

import (
	"errors"
	"fmt"
	"sort"

	"almanac/internal/calendar"
	appLog "almanac/internal/log"
	"almanac/internal/model"
	"almanac/internal/recurrence"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls a merged expansion for one calendar.
type ExpandConfig struct {
	// Start / End define the [Start, End) window.
	Start calendar.Timestamp
	End   calendar.Timestamp

	IncludeStart bool

	// Limit caps the merged result after sorting. Zero means no limit.
	Limit int

	// MaxOccurrencesPerEvent is a safety cap against degenerate rules over
	// huge windows. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int

	Evaluator *recurrence.Evaluator
}

// Diagnostic records an event or phenomenon skipped during expansion.
type Diagnostic struct {
	SourceID string `json:"source_id"`
	Err      error  `json:"-"`
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %v", d.SourceID, d.Err)
}

// Result wraps the merged occurrences and what was left out of them.
type Result struct {
	Occurrences []model.Occurrence
	// Skipped lists sources whose rule or data could not be evaluated.
	Skipped []Diagnostic
	// Truncated records source IDs that hit MaxOccurrencesPerEvent.
	Truncated []string
}

// Expand merges events of calendarID (events with an empty CalendarID are
// kept too) and phenomena visible to it into one sequence ordered by start,
// then priority (highest first), then source ID.
//
// An invalid window or schema fails the whole call. A broken event only
// lands in Result.Skipped.
func Expand(s *calendar.Schema, calendarID string, events []model.Event, phenomena []model.Phenomenon, cfg ExpandConfig) (Result, error) {
	var result Result

	if err := s.Validate(); err != nil {
		return result, err
	}
	w, err := newWindow(s, cfg.Start, cfg.End, cfg.IncludeStart)
	if err != nil {
		return result, err
	}
	if w.hi < w.lo {
		return result, errors.New("schedule: window end is before start")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	all := make([]keyed, 0)
	collect := func(id string, src source, err error) {
		if err == nil {
			var items []keyed
			items, err = occurrences(s, calendarID, src, w, cfg.Evaluator)
			if err == nil {
				if len(items) > cfg.MaxOccurrencesPerEvent {
					items = items[:cfg.MaxOccurrencesPerEvent]
					result.Truncated = append(result.Truncated, id)
					appLog.Error("schedule: truncated occurrences due to cap",
						errors.New("max occurrences reached"),
						"source_id", id,
						"cap", cfg.MaxOccurrencesPerEvent,
					)
				}
				all = append(all, items...)
				return
			}
		}
		result.Skipped = append(result.Skipped, Diagnostic{SourceID: id, Err: err})
		appLog.Error("schedule: skipping source", err, "source_id", id, "calendar", calendarID)
	}

	for _, ev := range events {
		if ev.CalendarID != "" && ev.CalendarID != calendarID {
			continue
		}
		src, err := eventSource(ev)
		collect(ev.ID, src, err)
	}
	for _, p := range phenomena {
		if !p.VisibleFor(calendarID) {
			continue
		}
		src, err := phenomenonSource(s, calendarID, p)
		collect(p.ID, src, err)
	}

	sortKeyed(all)
	result.Occurrences = unwrap(all, cfg.Limit)

	appLog.Debug("schedule: expanded",
		"calendar", calendarID,
		"occurrences", len(result.Occurrences),
		"skipped", len(result.Skipped),
	)
	return result, nil
}

// sortKeyed orders by start, priority (desc), source ID, instance key.
func sortKeyed(items []keyed) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.ord != b.ord {
			return a.ord < b.ord
		}
		if a.occ.Priority != b.occ.Priority {
			return a.occ.Priority > b.occ.Priority
		}
		if a.occ.SourceID != b.occ.SourceID {
			return a.occ.SourceID < b.occ.SourceID
		}
		return a.occ.InstanceKey < b.occ.InstanceKey
	})
}
