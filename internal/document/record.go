package document

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"almanac/internal/calendar"
	"almanac/internal/model"
	"almanac/internal/recurrence"
)

// The types in this file are the on-disk shapes. They are translated into
// model and recurrence values on load and back on save.

type fileDocument struct {
	Version   int                `yaml:"version"`
	Calendars []calendarRecord   `yaml:"calendars"`
	Phenomena []phenomenonRecord `yaml:"phenomena,omitempty"`
}

type calendarRecord struct {
	Schema  calendar.Schema     `yaml:"schema"`
	Current *calendar.Timestamp `yaml:"current,omitempty"`
	Events  []eventRecord       `yaml:"events,omitempty"`
}

// RuleRecord is the flat, type-tagged form of a recurrence rule.
type RuleRecord struct {
	Type            recurrence.Kind `yaml:"type" json:"type"`
	OffsetDayOfYear int             `yaml:"offset_day_of_year,omitempty" json:"offset_day_of_year,omitempty"`
	MonthID         string          `yaml:"month_id,omitempty" json:"month_id,omitempty"`
	Day             int             `yaml:"day,omitempty" json:"day,omitempty"`
	DayIndex        int             `yaml:"day_index,omitempty" json:"day_index,omitempty"`
	Interval        int             `yaml:"interval,omitempty" json:"interval,omitempty"`
	CustomRuleID    string          `yaml:"custom_rule_id,omitempty" json:"custom_rule_id,omitempty"`
}

// Rule converts the record. Payload values are not range checked here;
// that happens when the rule is evaluated against a schema. A weekly rule
// without an interval repeats every week.
func (r RuleRecord) Rule() (recurrence.Rule, error) {
	switch r.Type {
	case recurrence.KindAnnualOffset:
		return recurrence.AnnualOffset{OffsetDayOfYear: r.OffsetDayOfYear}, nil
	case recurrence.KindMonthlyPosition:
		return recurrence.MonthlyPosition{MonthID: r.MonthID, Day: r.Day}, nil
	case recurrence.KindWeeklyDayIndex:
		interval := r.Interval
		if interval == 0 {
			interval = 1
		}
		return recurrence.WeeklyDayIndex{DayIndex: r.DayIndex, Interval: interval}, nil
	case recurrence.KindCustom:
		return recurrence.Custom{CustomRuleID: r.CustomRuleID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown rule type %q", recurrence.ErrInvalidRule, r.Type)
	}
}

// RecordFor is the inverse of RuleRecord.Rule.
func RecordFor(rule recurrence.Rule) *RuleRecord {
	switch r := rule.(type) {
	case recurrence.AnnualOffset:
		return &RuleRecord{Type: r.Kind(), OffsetDayOfYear: r.OffsetDayOfYear}
	case recurrence.MonthlyPosition:
		return &RuleRecord{Type: r.Kind(), MonthID: r.MonthID, Day: r.Day}
	case recurrence.WeeklyDayIndex:
		return &RuleRecord{Type: r.Kind(), DayIndex: r.DayIndex, Interval: r.Interval}
	case recurrence.Custom:
		return &RuleRecord{Type: r.Kind(), CustomRuleID: r.CustomRuleID}
	}
	return nil
}

type eventRecord struct {
	ID          string                 `yaml:"id,omitempty"`
	Title       string                 `yaml:"title"`
	Description string                 `yaml:"description,omitempty"`
	Kind        model.EventKind        `yaml:"kind,omitempty"`
	Date        calendar.Timestamp     `yaml:"date"`
	AllDay      *bool                  `yaml:"all_day,omitempty"`
	Category    string                 `yaml:"category,omitempty"`
	Tags        []string               `yaml:"tags,omitempty"`
	Priority    int                    `yaml:"priority,omitempty"`
	Hooks       []model.HookDescriptor `yaml:"hooks,omitempty"`

	StartTime       *model.TimeOfDay `yaml:"start_time,omitempty"`
	EndTime         *model.TimeOfDay `yaml:"end_time,omitempty"`
	DurationMinutes *int             `yaml:"duration_minutes,omitempty"`

	Rule          *RuleRecord      `yaml:"rule,omitempty"`
	TimePolicy    model.TimePolicy `yaml:"time_policy,omitempty"`
	OffsetMinutes int              `yaml:"offset_minutes,omitempty"`
	Bounds        *model.Bounds    `yaml:"bounds,omitempty"`
}

type phenomenonRecord struct {
	ID              string                 `yaml:"id,omitempty"`
	Name            string                 `yaml:"name"`
	Category        string                 `yaml:"category,omitempty"`
	Visibility      model.Visibility       `yaml:"visibility,omitempty"`
	AppliesTo       []string               `yaml:"applies_to,omitempty"`
	Rule            RuleRecord             `yaml:"rule"`
	Anchor          *calendar.Timestamp    `yaml:"anchor,omitempty"`
	TimePolicy      model.TimePolicy       `yaml:"time_policy,omitempty"`
	StartTime       *model.TimeOfDay       `yaml:"start_time,omitempty"`
	OffsetMinutes   int                    `yaml:"offset_minutes,omitempty"`
	DurationMinutes *int                   `yaml:"duration_minutes,omitempty"`
	Priority        int                    `yaml:"priority,omitempty"`
	Tags            []string               `yaml:"tags,omitempty"`
	Hooks           []model.HookDescriptor `yaml:"hooks,omitempty"`
	Effects         []model.Effect         `yaml:"effects,omitempty"`
}

// idNamespace seeds the name-based IDs given to records written without one.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("almanac.document"))

// derivedID is a UUIDv5 over parts, so an ID-less record keeps the same ID
// across reloads for as long as its identifying fields do not change.
func derivedID(parts ...string) string {
	return uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "\x00"))).String()
}

// derivedIDs hands out derived IDs, numbering records whose identifying
// fields repeat.
type derivedIDs map[string]int

func (d derivedIDs) next(parts ...string) string {
	key := strings.Join(parts, "\x00")
	n := d[key]
	d[key] = n + 1
	if n > 0 {
		parts = append(parts, strconv.Itoa(n))
	}
	return derivedID(parts...)
}

func (r eventRecord) identity(calendarID string) []string {
	return []string{"event", calendarID, r.Title, strconv.Itoa(r.Date.Year), r.Date.MonthID, strconv.Itoa(r.Date.Day)}
}

func (r phenomenonRecord) identity() []string {
	return []string{"phenomenon", r.Name, string(r.Rule.Type), r.Rule.MonthID, strconv.Itoa(r.Rule.Day),
		strconv.Itoa(r.Rule.OffsetDayOfYear), strconv.Itoa(r.Rule.DayIndex), r.Rule.CustomRuleID}
}

// fillTimestamp completes a timestamp written by hand: the calendar ID
// defaults to the owning calendar and a missing precision is inferred from
// the clock fields.
func fillTimestamp(ts *calendar.Timestamp, calendarID string) {
	if ts == nil {
		return
	}
	if ts.CalendarID == "" {
		ts.CalendarID = calendarID
	}
	if ts.Precision == "" {
		ts.Precision = calendar.PrecisionDay
		if ts.Hour != 0 || ts.Minute != 0 {
			ts.Precision = calendar.PrecisionMinute
		}
	}
	*ts = ts.Normalized()
}

func (r eventRecord) toEvent(calendarID string) (model.Event, error) {
	fillTimestamp(&r.Date, calendarID)

	ev := model.Event{
		ID:              r.ID,
		CalendarID:      calendarID,
		Title:           r.Title,
		Description:     r.Description,
		Kind:            r.Kind,
		Date:            r.Date,
		AllDay:          r.Date.Precision == calendar.PrecisionDay,
		Category:        r.Category,
		Tags:            r.Tags,
		Priority:        r.Priority,
		Hooks:           r.Hooks,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		DurationMinutes: r.DurationMinutes,
		TimePolicy:      r.TimePolicy,
		OffsetMinutes:   r.OffsetMinutes,
		Bounds:          r.Bounds,
	}
	if r.AllDay != nil {
		ev.AllDay = *r.AllDay
	}
	if ev.Kind == "" {
		ev.Kind = model.KindSingle
		if r.Rule != nil {
			ev.Kind = model.KindRecurring
		}
	}

	switch ev.Kind {
	case model.KindSingle:
	case model.KindRecurring:
		if r.Rule == nil {
			return model.Event{}, fmt.Errorf("event %s: %w: recurring event without rule", r.ID, recurrence.ErrInvalidRule)
		}
		rule, err := r.Rule.Rule()
		if err != nil {
			return model.Event{}, fmt.Errorf("event %s: %w", r.ID, err)
		}
		ev.Rule = rule
		if ev.TimePolicy == "" {
			// A timed anchor without an explicit start repeats at its clock.
			if !ev.AllDay && ev.StartTime == nil && ev.OffsetMinutes == 0 && ev.Date.HasClock() {
				ev.StartTime = &model.TimeOfDay{Hour: ev.Date.Hour, Minute: ev.Date.Minute}
			}
			ev.TimePolicy = inferPolicy(ev.StartTime, ev.OffsetMinutes)
		}
		if ev.Bounds != nil {
			fillTimestamp(ev.Bounds.Start, calendarID)
			fillTimestamp(ev.Bounds.End, calendarID)
		}
	default:
		return model.Event{}, fmt.Errorf("event %s: unknown kind %q", r.ID, ev.Kind)
	}
	if ev.TimePolicy != "" && !ev.TimePolicy.Valid() {
		return model.Event{}, fmt.Errorf("event %s: unknown time policy %q", r.ID, ev.TimePolicy)
	}
	return ev, nil
}

func inferPolicy(start *model.TimeOfDay, offset int) model.TimePolicy {
	switch {
	case start != nil:
		return model.PolicyFixed
	case offset != 0:
		return model.PolicyOffset
	}
	return model.PolicyAllDay
}

func fromEvent(ev model.Event) eventRecord {
	allDay := ev.AllDay
	r := eventRecord{
		ID:              ev.ID,
		Title:           ev.Title,
		Description:     ev.Description,
		Kind:            ev.Kind,
		Date:            ev.Date,
		AllDay:          &allDay,
		Category:        ev.Category,
		Tags:            ev.Tags,
		Priority:        ev.Priority,
		Hooks:           ev.Hooks,
		StartTime:       ev.StartTime,
		EndTime:         ev.EndTime,
		DurationMinutes: ev.DurationMinutes,
		TimePolicy:      ev.TimePolicy,
		OffsetMinutes:   ev.OffsetMinutes,
		Bounds:          ev.Bounds,
	}
	if ev.Rule != nil {
		r.Rule = RecordFor(ev.Rule)
	}
	return r
}

func (r phenomenonRecord) toPhenomenon() (model.Phenomenon, error) {
	rule, err := r.Rule.Rule()
	if err != nil {
		return model.Phenomenon{}, fmt.Errorf("phenomenon %s: %w", r.ID, err)
	}
	if r.Visibility == "" {
		r.Visibility = model.VisibleAll
	}
	if r.Visibility != model.VisibleAll && r.Visibility != model.VisibleSelected {
		return model.Phenomenon{}, fmt.Errorf("phenomenon %s: unknown visibility %q", r.ID, r.Visibility)
	}
	if r.TimePolicy == "" {
		r.TimePolicy = inferPolicy(r.StartTime, r.OffsetMinutes)
	}
	if !r.TimePolicy.Valid() {
		return model.Phenomenon{}, fmt.Errorf("phenomenon %s: unknown time policy %q", r.ID, r.TimePolicy)
	}
	if r.Anchor != nil {
		fillTimestamp(r.Anchor, r.Anchor.CalendarID)
	}
	return model.Phenomenon{
		ID:              r.ID,
		Name:            r.Name,
		Category:        r.Category,
		Visibility:      r.Visibility,
		AppliesTo:       r.AppliesTo,
		Rule:            rule,
		Anchor:          r.Anchor,
		TimePolicy:      r.TimePolicy,
		StartTime:       r.StartTime,
		OffsetMinutes:   r.OffsetMinutes,
		DurationMinutes: r.DurationMinutes,
		Priority:        r.Priority,
		Tags:            r.Tags,
		Hooks:           r.Hooks,
		Effects:         r.Effects,
	}, nil
}

func fromPhenomenon(p model.Phenomenon) phenomenonRecord {
	r := phenomenonRecord{
		ID:              p.ID,
		Name:            p.Name,
		Category:        p.Category,
		Visibility:      p.Visibility,
		AppliesTo:       p.AppliesTo,
		Anchor:          p.Anchor,
		TimePolicy:      p.TimePolicy,
		StartTime:       p.StartTime,
		OffsetMinutes:   p.OffsetMinutes,
		DurationMinutes: p.DurationMinutes,
		Priority:        p.Priority,
		Tags:            p.Tags,
		Hooks:           p.Hooks,
		Effects:         p.Effects,
	}
	if rr := RecordFor(p.Rule); rr != nil {
		r.Rule = *rr
	}
	return r
}
