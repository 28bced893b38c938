package schedule

import (
	"sort"

	"almanac/internal/calendar"
	"almanac/internal/model"
)

// Window is the span covered by a conflict group.
type Window struct {
	Start calendar.Timestamp `json:"start"`
	End   calendar.Timestamp `json:"end"`
}

// ConflictGroup is a maximal run of occurrences whose spans overlap.
type ConflictGroup struct {
	Window      Window             `json:"window"`
	Occurrences []model.Occurrence `json:"occurrences"`
}

// Resolution picks the occurrence that wins a conflict group.
type Resolution struct {
	Window           Window                 `json:"window"`
	Ordered          []model.Occurrence     `json:"ordered"`
	Active           model.Occurrence       `json:"active"`
	Suppressed       []model.Occurrence     `json:"suppressed,omitempty"`
	TriggeredHooks   []model.HookDescriptor `json:"triggered_hooks,omitempty"`
	TriggeredEffects []model.Effect         `json:"triggered_effects,omitempty"`
}

// DetectConflicts groups occurrences whose [Start, End) spans overlap and
// returns the groups holding more than one occurrence, in start order.
// Spans that merely touch do not overlap.
func DetectConflicts(s *calendar.Schema, occs []model.Occurrence) ([]ConflictGroup, error) {
	type spanned struct {
		keyed
		end int64
	}
	items := make([]spanned, 0, len(occs))
	for _, occ := range occs {
		start, err := calendar.ToOrdinal(s, occ.Start)
		if err != nil {
			return nil, err
		}
		end, err := calendar.ToOrdinal(s, occ.End)
		if err != nil {
			return nil, err
		}
		if end < start {
			end = start
		}
		items = append(items, spanned{keyed: keyed{ord: start, occ: occ}, end: end})
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.ord != b.ord {
			return a.ord < b.ord
		}
		if a.occ.Priority != b.occ.Priority {
			return a.occ.Priority > b.occ.Priority
		}
		return a.occ.SourceID < b.occ.SourceID
	})

	var groups []ConflictGroup
	var current []spanned
	var currentEnd int64
	flush := func() {
		if len(current) < 2 {
			return
		}
		g := ConflictGroup{Window: Window{Start: current[0].occ.Start}}
		latest := current[0]
		for _, it := range current {
			if it.end > latest.end {
				latest = it
			}
			g.Occurrences = append(g.Occurrences, it.occ)
		}
		g.Window.End = latest.occ.End
		groups = append(groups, g)
	}

	for _, it := range items {
		if len(current) > 0 && it.ord < currentEnd {
			current = append(current, it)
			if it.end > currentEnd {
				currentEnd = it.end
			}
			continue
		}
		flush()
		current = []spanned{it}
		currentEnd = it.end
	}
	flush()
	return groups, nil
}

// ResolveConflicts orders each group by priority (highest first), keeping
// start order and then source ID among equals. The first occurrence is
// active; its hooks and effects are the ones triggered.
func ResolveConflicts(groups []ConflictGroup) []Resolution {
	out := make([]Resolution, 0, len(groups))
	for _, g := range groups {
		if len(g.Occurrences) == 0 {
			continue
		}
		ordered := append([]model.Occurrence(nil), g.Occurrences...)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Priority > ordered[j].Priority
		})
		active := ordered[0]
		out = append(out, Resolution{
			Window:           g.Window,
			Ordered:          ordered,
			Active:           active,
			Suppressed:       ordered[1:],
			TriggeredHooks:   model.SortHooks(active.Hooks),
			TriggeredEffects: active.Effects,
		})
	}
	return out
}
