// Package schedule turns events and phenomena into concrete, ordered
// occurrences over a window of campaign time.
package schedule

import (
	"fmt"
	"sort"

	"almanac/internal/calendar"
	"almanac/internal/model"
	"almanac/internal/recurrence"
)

// RangeOptions tunes a range query. Limit 0 means no limit.
type RangeOptions struct {
	// IncludeStart keeps an occurrence that starts exactly at the window
	// start. Paging callers leave it false to avoid rendering one twice.
	IncludeStart bool
	Limit        int
	// Evaluator resolves custom rules; nil uses the process-wide registry.
	Evaluator *recurrence.Evaluator
}

// NextOptions tunes a next-occurrence query.
type NextOptions struct {
	IncludeStart bool
	// MaxLookaheadYears bounds the search; 0 means
	// recurrence.DefaultMaxLookaheadYears.
	MaxLookaheadYears int
	Evaluator         *recurrence.Evaluator
}

// source is the shape shared by events and phenomena once prepared for
// expansion. A nil rule marks a single event.
type source struct {
	typ      model.SourceType
	id       string
	eventID  string
	title    string
	category string
	priority int
	hooks    []model.HookDescriptor
	effects  []model.Effect

	single *model.Event

	rule      recurrence.Rule
	anchor    calendar.Timestamp
	bounds    *model.Bounds
	allDay    bool
	policy    model.TimePolicy
	startTime *model.TimeOfDay
	offset    int
	duration  *int
}

func eventSource(ev model.Event) (source, error) {
	src := source{
		id:       ev.ID,
		eventID:  ev.ID,
		title:    ev.Title,
		category: ev.Category,
		priority: ev.Priority,
		hooks:    model.SortHooks(ev.Hooks),
	}
	switch ev.Kind {
	case model.KindSingle:
		src.typ = model.SourceSingle
		src.single = &ev
	case model.KindRecurring:
		src.typ = model.SourceRecurring
		src.rule = ev.Rule
		if src.rule == nil {
			return source{}, &recurrence.RuleError{Reason: "recurring event " + ev.ID + " has no rule"}
		}
		src.anchor = ev.Anchor()
		src.bounds = ev.Bounds
		src.policy = ev.TimePolicy
		src.allDay = ev.TimePolicy == model.PolicyAllDay || (ev.TimePolicy == "" && ev.AllDay)
		src.startTime = ev.StartTime
		src.offset = ev.OffsetMinutes
		src.duration = ev.DurationMinutes
	default:
		return source{}, fmt.Errorf("schedule: event %s: unknown kind %q", ev.ID, ev.Kind)
	}
	return src, nil
}

func phenomenonSource(s *calendar.Schema, calendarID string, p model.Phenomenon) (source, error) {
	if p.Rule == nil {
		return source{}, &recurrence.RuleError{Reason: "phenomenon " + p.ID + " has no rule"}
	}
	anchor := calendar.Timestamp{}
	if p.Anchor != nil {
		anchor = *p.Anchor
	} else {
		epoch, err := calendar.FromAbsoluteDay(s, calendarID, 0)
		if err != nil {
			return source{}, err
		}
		anchor = epoch
	}
	return source{
		typ:       model.SourcePhenomenon,
		id:        p.ID,
		title:     p.Name,
		category:  p.Category,
		priority:  p.Priority,
		hooks:     model.SortHooks(p.Hooks),
		effects:   p.Effects,
		rule:      p.Rule,
		anchor:    anchor,
		allDay:    p.TimePolicy == model.PolicyAllDay || p.TimePolicy == "",
		policy:    p.TimePolicy,
		startTime: p.StartTime,
		offset:    p.OffsetMinutes,
		duration:  p.DurationMinutes,
	}, nil
}

// keyed pairs an occurrence with its start ordinal for sorting.
type keyed struct {
	ord int64
	occ model.Occurrence
}

// window is a query range in ordinals: (lo, hi), or [lo, hi) when includeLo.
type window struct {
	lo, hi    int64
	includeLo bool
}

func (w window) contains(ord int64) bool {
	if ord < w.lo || ord >= w.hi {
		return false
	}
	return ord > w.lo || w.includeLo
}

func newWindow(s *calendar.Schema, start, end calendar.Timestamp, includeStart bool) (window, error) {
	lo, err := calendar.ToOrdinal(s, start)
	if err != nil {
		return window{}, err
	}
	hi, err := calendar.ToOrdinal(s, end)
	if err != nil {
		return window{}, err
	}
	return window{lo: lo, hi: hi, includeLo: includeStart}, nil
}

// occurrences expands src inside w, ascending by start.
func occurrences(s *calendar.Schema, calendarID string, src source, w window, evaluator *recurrence.Evaluator) ([]keyed, error) {
	if w.hi <= w.lo {
		return nil, nil
	}
	if src.single != nil {
		sp, err := singleSpan(s, *src.single)
		if err != nil {
			return nil, err
		}
		if !w.contains(sp.ord) {
			return nil, nil
		}
		return []keyed{{ord: sp.ord, occ: build(src, calendarID, sp)}}, nil
	}

	perDay := s.MinutesPerDay()
	fromDay := floorDiv(w.lo, perDay)
	toDay := floorDiv(w.hi-1, perDay) + 1
	if src.policy == model.PolicyOffset && src.offset != 0 {
		margin := floorDiv(abs(int64(src.offset))+perDay-1, perDay)
		fromDay -= margin
		toDay += margin
	}

	var lower, upper *int64
	if src.bounds != nil {
		if src.bounds.Start != nil {
			ord, err := calendar.ToOrdinal(s, *src.bounds.Start)
			if err != nil {
				return nil, err
			}
			lower = &ord
			if d := floorDiv(ord, perDay); d > fromDay {
				fromDay = d
			}
		}
		if src.bounds.End != nil {
			ord, err := calendar.ToOrdinal(s, *src.bounds.End)
			if err != nil {
				return nil, err
			}
			upper = &ord
			if d := floorDiv(ord, perDay) + 1; d < toDay {
				toDay = d
			}
		}
	}
	if toDay <= fromDay {
		// Still validate so a broken rule is reported even for empty windows.
		return nil, recurrence.Validate(s, src.rule)
	}

	rangeStart, err := calendar.FromAbsoluteDay(s, calendarID, fromDay)
	if err != nil {
		return nil, err
	}
	rangeEnd, err := calendar.FromAbsoluteDay(s, calendarID, toDay)
	if err != nil {
		return nil, err
	}
	bases, err := evaluator.Occurrences(s, calendarID, src.rule, src.anchor, rangeStart, rangeEnd)
	if err != nil {
		return nil, err
	}

	out := make([]keyed, 0, len(bases))
	for _, base := range bases {
		baseOrd, err := calendar.ToOrdinal(s, base)
		if err != nil {
			return nil, err
		}
		if (lower != nil && baseOrd < *lower) || (upper != nil && baseOrd > *upper) {
			continue
		}
		sp, err := policySpan(s, base, src.policy, src.startTime, src.offset, src.duration)
		if err != nil {
			return nil, err
		}
		if !w.contains(sp.ord) {
			continue
		}
		out = append(out, keyed{ord: sp.ord, occ: build(src, calendarID, sp)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ord < out[j].ord })
	return out, nil
}

func build(src source, calendarID string, sp span) model.Occurrence {
	allDay := src.allDay
	if src.single != nil {
		allDay = src.single.AllDay
	}
	return model.Occurrence{
		SourceType:      src.typ,
		SourceID:        src.id,
		EventID:         src.eventID,
		CalendarID:      calendarID,
		InstanceKey:     src.id + "@" + sp.start.String(),
		Title:           src.title,
		Category:        src.category,
		Start:           sp.start,
		End:             sp.end,
		DurationMinutes: sp.duration,
		AllDay:          allDay,
		Priority:        src.priority,
		Hooks:           src.hooks,
		Effects:         src.effects,
	}
}

func unwrap(items []keyed, limit int) []model.Occurrence {
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]model.Occurrence, len(items))
	for i, it := range items {
		out[i] = it.occ
	}
	return out
}

// EventOccurrencesInRange lists the occurrences of ev starting inside
// [start, end), excluding one exactly at start unless opts.IncludeStart.
// A single event yields at most its own date.
func EventOccurrencesInRange(ev model.Event, s *calendar.Schema, calendarID string, start, end calendar.Timestamp, opts RangeOptions) ([]model.Occurrence, error) {
	w, err := newWindow(s, start, end, opts.IncludeStart)
	if err != nil {
		return nil, err
	}
	src, err := eventSource(ev)
	if err != nil {
		return nil, err
	}
	items, err := occurrences(s, calendarID, src, w, opts.Evaluator)
	if err != nil {
		return nil, err
	}
	return unwrap(items, opts.Limit), nil
}

// PhenomenonOccurrencesInRange is EventOccurrencesInRange for a phenomenon.
// Visibility is not checked here; Expand filters by calendar.
func PhenomenonOccurrencesInRange(p model.Phenomenon, s *calendar.Schema, calendarID string, start, end calendar.Timestamp, opts RangeOptions) ([]model.Occurrence, error) {
	w, err := newWindow(s, start, end, opts.IncludeStart)
	if err != nil {
		return nil, err
	}
	src, err := phenomenonSource(s, calendarID, p)
	if err != nil {
		return nil, err
	}
	items, err := occurrences(s, calendarID, src, w, opts.Evaluator)
	if err != nil {
		return nil, err
	}
	return unwrap(items, opts.Limit), nil
}

// NextEventOccurrence returns the first occurrence of ev after from, or nil
// when none starts within the lookahead bound.
func NextEventOccurrence(ev model.Event, s *calendar.Schema, calendarID string, from calendar.Timestamp, opts NextOptions) (*model.Occurrence, error) {
	src, err := eventSource(ev)
	if err != nil {
		return nil, err
	}
	return next(s, calendarID, src, from, opts)
}

func NextPhenomenonOccurrence(p model.Phenomenon, s *calendar.Schema, calendarID string, from calendar.Timestamp, opts NextOptions) (*model.Occurrence, error) {
	src, err := phenomenonSource(s, calendarID, p)
	if err != nil {
		return nil, err
	}
	return next(s, calendarID, src, from, opts)
}

func next(s *calendar.Schema, calendarID string, src source, from calendar.Timestamp, opts NextOptions) (*model.Occurrence, error) {
	lo, err := calendar.ToOrdinal(s, from)
	if err != nil {
		return nil, err
	}
	if src.single != nil {
		sp, err := singleSpan(s, *src.single)
		if err != nil {
			return nil, err
		}
		if sp.ord > lo || (sp.ord == lo && opts.IncludeStart) {
			occ := build(src, calendarID, sp)
			return &occ, nil
		}
		return nil, nil
	}

	maxYears := opts.MaxLookaheadYears
	if maxYears <= 0 {
		maxYears = recurrence.DefaultMaxLookaheadYears
	}
	perDay := s.MinutesPerDay()
	horizon := lo + int64(maxYears)*int64(s.DaysPerYear())*perDay

	for _, width := range recurrence.SearchWidths(s, maxYears) {
		hi := lo + width*perDay
		if hi > horizon {
			hi = horizon
		}
		items, err := occurrences(s, calendarID, src, window{lo: lo, hi: hi, includeLo: opts.IncludeStart}, opts.Evaluator)
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			occ := items[0].occ
			return &occ, nil
		}
		if hi >= horizon {
			break
		}
	}
	return nil, nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
