package model

import (
	"sort"

	"almanac/internal/calendar"
	"almanac/internal/recurrence"
)

// EventKind distinguishes one-off events from rule based series.
type EventKind string

const (
	KindSingle    EventKind = "single"
	KindRecurring EventKind = "recurring"
)

// HookDescriptor is an opaque automation attached to an event or
// phenomenon. The engine only orders hooks; it never runs them.
type HookDescriptor struct {
	ID       string         `yaml:"id" json:"id"`
	Type     string         `yaml:"type" json:"type"`
	Config   map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	Priority int            `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// SortHooks returns a copy of hooks ordered by priority (highest first),
// then by ID.
func SortHooks(hooks []HookDescriptor) []HookDescriptor {
	if len(hooks) == 0 {
		return nil
	}
	out := append([]HookDescriptor(nil), hooks...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type TimeOfDay struct {
	Hour   int `yaml:"hour" json:"hour"`
	Minute int `yaml:"minute" json:"minute"`
}

// TimePolicy decides where inside the matched day a rule based occurrence
// starts.
type TimePolicy string

const (
	// PolicyAllDay spans the whole day (or DurationMinutes from midnight).
	PolicyAllDay TimePolicy = "all_day"
	// PolicyFixed starts at StartTime on the matched day.
	PolicyFixed TimePolicy = "fixed"
	// PolicyOffset starts OffsetMinutes after midnight of the matched day.
	PolicyOffset TimePolicy = "offset"
)

func (p TimePolicy) Valid() bool {
	switch p {
	case PolicyAllDay, PolicyFixed, PolicyOffset:
		return true
	}
	return false
}

// Bounds limits a recurring series. Both ends are inclusive and optional.
type Bounds struct {
	Start *calendar.Timestamp `yaml:"start,omitempty" json:"start,omitempty"`
	End   *calendar.Timestamp `yaml:"end,omitempty" json:"end,omitempty"`
}

// Event is a campaign calendar entry. Date is the anchor of a single event
// and the default anchor of a recurring one.
type Event struct {
	ID          string             `json:"id"`
	CalendarID  string             `json:"calendar_id"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Kind        EventKind          `json:"kind"`
	Date        calendar.Timestamp `json:"date"`
	AllDay      bool               `json:"all_day"`
	Category    string             `json:"category,omitempty"`
	Tags        []string           `json:"tags,omitempty"`
	Priority    int                `json:"priority"`
	Hooks       []HookDescriptor   `json:"hooks,omitempty"`

	// Single events.
	StartTime       *TimeOfDay `json:"start_time,omitempty"`
	EndTime         *TimeOfDay `json:"end_time,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`

	// Recurring events.
	Rule          recurrence.Rule `json:"-"`
	TimePolicy    TimePolicy      `json:"time_policy,omitempty"`
	OffsetMinutes int             `json:"offset_minutes,omitempty"`
	Bounds        *Bounds         `json:"bounds,omitempty"`
}

// Anchor is the timestamp a recurring series is phased from.
func (e Event) Anchor() calendar.Timestamp {
	if e.Kind == KindRecurring && e.Bounds != nil && e.Bounds.Start != nil {
		return *e.Bounds.Start
	}
	return e.Date
}

type Visibility string

const (
	VisibleAll      Visibility = "all_calendars"
	VisibleSelected Visibility = "selected"
)

// Effect is a payload a phenomenon hands to the host when it is active.
type Effect struct {
	Type      string         `yaml:"type" json:"type"`
	Payload   map[string]any `yaml:"payload,omitempty" json:"payload,omitempty"`
	AppliesTo []string       `yaml:"applies_to,omitempty" json:"applies_to,omitempty"`
}

// Phenomenon is a world rhythm (season, tide, moon) that may be shared across
// calendars. Its rule is phased from Anchor when set, otherwise from the
// epoch of the schema.
type Phenomenon struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Category        string              `json:"category,omitempty"`
	Visibility      Visibility          `json:"visibility"`
	AppliesTo       []string            `json:"applies_to,omitempty"`
	Rule            recurrence.Rule     `json:"-"`
	Anchor          *calendar.Timestamp `json:"anchor,omitempty"`
	TimePolicy      TimePolicy          `json:"time_policy"`
	StartTime       *TimeOfDay          `json:"start_time,omitempty"`
	OffsetMinutes   int                 `json:"offset_minutes,omitempty"`
	DurationMinutes *int                `json:"duration_minutes,omitempty"`
	Priority        int                 `json:"priority"`
	Tags            []string            `json:"tags,omitempty"`
	Hooks           []HookDescriptor    `json:"hooks,omitempty"`
	Effects         []Effect            `json:"effects,omitempty"`
}

func (p Phenomenon) VisibleFor(calendarID string) bool {
	if p.Visibility == VisibleAll {
		return true
	}
	for _, id := range p.AppliesTo {
		if id == calendarID {
			return true
		}
	}
	return false
}

// SourceType records where an occurrence came from.
type SourceType string

const (
	SourceSingle     SourceType = "event_single"
	SourceRecurring  SourceType = "event_recurring"
	SourcePhenomenon SourceType = "phenomenon"
)

// Occurrence is one concrete instance of an event or phenomenon. Start and
// End are always resolved timestamps.
type Occurrence struct {
	SourceType SourceType `json:"source_type"`
	SourceID   string     `json:"source_id"`
	EventID    string     `json:"event_id,omitempty"`
	CalendarID string     `json:"calendar_id"`

	// InstanceKey uniquely identifies one occurrence of a series, derived
	// from the source and the resolved start.
	InstanceKey string `json:"instance_key"`

	Title    string `json:"title"`
	Category string `json:"category,omitempty"`

	Start           calendar.Timestamp `json:"start"`
	End             calendar.Timestamp `json:"end"`
	DurationMinutes int                `json:"duration_minutes"`
	AllDay          bool               `json:"all_day"`

	Priority int              `json:"priority"`
	Hooks    []HookDescriptor `json:"hooks,omitempty"`
	Effects  []Effect         `json:"effects,omitempty"`
}

func (o Occurrence) Timestamp() calendar.Timestamp {
	return o.Start
}
