// Package document stores campaign calendars, their events, shared
// phenomena and the per-calendar "current time" in one YAML file.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"almanac/internal/atomicfile"
	"almanac/internal/calendar"
	appLog "almanac/internal/log"
	"almanac/internal/model"
)

const currentVersion = 1

// ErrUnknownCalendar is returned when a calendar ID is not in the document.
var ErrUnknownCalendar = errors.New("document: unknown calendar")

// Calendar is one schema with its events and current time cursor.
type Calendar struct {
	Schema  *calendar.Schema
	Current calendar.Timestamp
	Events  []model.Event
}

// Event returns the event with the given ID.
func (c *Calendar) Event(id string) (model.Event, bool) {
	for _, ev := range c.Events {
		if ev.ID == id {
			return ev, true
		}
	}
	return model.Event{}, false
}

// Document is the in-memory form of a campaign file. It is not safe for
// concurrent mutation; callers serialise AdvanceCurrent and Save.
type Document struct {
	Calendars []*Calendar
	Phenomena []model.Phenomenon
}

// Calendar returns the calendar with the given ID.
func (d *Document) Calendar(id string) (*Calendar, error) {
	for _, c := range d.Calendars {
		if c.Schema.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s (have %s)", ErrUnknownCalendar, id, strings.Join(d.IDs(), ", "))
}

// IDs lists calendar IDs in document order.
func (d *Document) IDs() []string {
	ids := make([]string, 0, len(d.Calendars))
	for _, c := range d.Calendars {
		ids = append(ids, c.Schema.ID)
	}
	return ids
}

// AdvanceCurrent moves the current time of a calendar and returns the move.
func (d *Document) AdvanceCurrent(calendarID string, amount int64, unit calendar.Unit) (calendar.AdvanceResult, error) {
	c, err := d.Calendar(calendarID)
	if err != nil {
		return calendar.AdvanceResult{}, err
	}
	res, err := calendar.Advance(c.Schema, c.Current, amount, unit)
	if err != nil {
		return calendar.AdvanceResult{}, err
	}
	appLog.Info("document: current time advanced",
		"calendar", calendarID,
		"from", c.Current.String(),
		"to", res.Timestamp.String(),
		"carried_days", res.CarriedDays,
	)
	c.Current = res.Timestamp
	return res, nil
}

// SetCurrent replaces the current time of a calendar after validating it.
func (d *Document) SetCurrent(calendarID string, ts calendar.Timestamp) error {
	c, err := d.Calendar(calendarID)
	if err != nil {
		return err
	}
	fillTimestamp(&ts, calendarID)
	if err := c.Schema.Check(ts); err != nil {
		return err
	}
	c.Current = ts
	return nil
}

// Decode reads a YAML document. Schemas are validated; missing event and
// phenomenon IDs are derived from the record's title (or name), date and
// rule, so they are the same on every decode of an unchanged file. Rule payloads are validated later, when
// they are evaluated.
func Decode(r io.Reader) (*Document, error) {
	var raw fileDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("document: decode: %w", err)
	}
	if raw.Version > currentVersion {
		return nil, fmt.Errorf("document: version %d is newer than supported version %d", raw.Version, currentVersion)
	}

	doc := &Document{}
	ids := derivedIDs{}
	seen := make(map[string]struct{}, len(raw.Calendars))
	for i := range raw.Calendars {
		rec := raw.Calendars[i]
		schema := rec.Schema
		if schema.HoursPerDay == 0 {
			schema.HoursPerDay = calendar.DefaultHoursPerDay
		}
		if schema.MinutesPerHour == 0 {
			schema.MinutesPerHour = calendar.DefaultMinutesPerHour
		}
		if err := schema.Validate(); err != nil {
			return nil, fmt.Errorf("document: calendar %d: %w", i, err)
		}
		if _, dup := seen[schema.ID]; dup {
			return nil, fmt.Errorf("document: duplicate calendar id %q", schema.ID)
		}
		seen[schema.ID] = struct{}{}

		c := &Calendar{Schema: &schema}
		if rec.Current != nil {
			cur := *rec.Current
			fillTimestamp(&cur, schema.ID)
			if err := schema.Check(cur); err != nil {
				return nil, fmt.Errorf("document: calendar %s: current: %w", schema.ID, err)
			}
			c.Current = cur
		} else {
			epoch, err := calendar.FromAbsoluteDay(&schema, schema.ID, 0)
			if err != nil {
				return nil, err
			}
			c.Current = epoch
		}

		eventIDs := make(map[string]struct{}, len(rec.Events))
		for _, er := range rec.Events {
			if er.ID == "" {
				er.ID = ids.next(er.identity(schema.ID)...)
			}
			ev, err := er.toEvent(schema.ID)
			if err != nil {
				return nil, fmt.Errorf("document: calendar %s: %w", schema.ID, err)
			}
			if _, dup := eventIDs[ev.ID]; dup {
				return nil, fmt.Errorf("document: calendar %s: duplicate event id %q", schema.ID, ev.ID)
			}
			eventIDs[ev.ID] = struct{}{}
			c.Events = append(c.Events, ev)
		}
		doc.Calendars = append(doc.Calendars, c)
	}

	for _, pr := range raw.Phenomena {
		if pr.ID == "" {
			pr.ID = ids.next(pr.identity()...)
		}
		p, err := pr.toPhenomenon()
		if err != nil {
			return nil, fmt.Errorf("document: %w", err)
		}
		doc.Phenomena = append(doc.Phenomena, p)
	}
	return doc, nil
}

// Encode writes doc as YAML. Phenomena are written sorted by ID so saves
// diff cleanly.
func Encode(w io.Writer, doc *Document) error {
	if doc == nil {
		return errors.New("document: nil document")
	}
	raw := fileDocument{Version: currentVersion}
	for _, c := range doc.Calendars {
		cur := c.Current
		rec := calendarRecord{Schema: *c.Schema, Current: &cur}
		for _, ev := range c.Events {
			rec.Events = append(rec.Events, fromEvent(ev))
		}
		raw.Calendars = append(raw.Calendars, rec)
	}
	phenomena := append([]model.Phenomenon(nil), doc.Phenomena...)
	sort.SliceStable(phenomena, func(i, j int) bool { return phenomena[i].ID < phenomena[j].ID })
	for _, p := range phenomena {
		raw.Phenomena = append(raw.Phenomena, fromPhenomenon(p))
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&raw); err != nil {
		return fmt.Errorf("document: encode: %w", err)
	}
	return enc.Close()
}

// Load reads the document at path.
//
// Behavior:
//   - If the file does not exist, a starter document is written with 0600
//     perms and returned.
//   - Otherwise the file is decoded and validated.
func Load(path string) (*Document, error) {
	if path == "" {
		return nil, errors.New("document path is empty")
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			doc := Starter()
			appLog.Info("document: creating starter document", "path", path)
			if err := Save(path, doc); err != nil {
				return doc, err
			}
			return doc, nil
		}
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Save writes doc to path atomically.
func Save(path string, doc *Document) error {
	var buf bytes.Buffer
	if err := Encode(&buf, doc); err != nil {
		return err
	}
	return atomicfile.Write(path, buf.Bytes(), ".almanac-doc-*.tmp")
}

// Starter returns a small document with one twelve-month calendar, used on
// first run.
func Starter() *Document {
	ids := []string{"hammer", "alturiak", "ches", "tarsakh", "mirtul", "kythorn",
		"flamerule", "eleasis", "eleint", "marpenoth", "uktar", "nightal"}
	names := []string{"Hammer", "Alturiak", "Ches", "Tarsakh", "Mirtul", "Kythorn",
		"Flamerule", "Eleasis", "Eleint", "Marpenoth", "Uktar", "Nightal"}
	months := make([]calendar.Month, len(ids))
	for i := range ids {
		months[i] = calendar.Month{ID: ids[i], Name: names[i], Length: 30}
	}
	schema := &calendar.Schema{
		ID:             "harptos",
		Name:           "Calendar of Harptos",
		Months:         months,
		DaysPerWeek:    10,
		HoursPerDay:    calendar.DefaultHoursPerDay,
		MinutesPerHour: calendar.DefaultMinutesPerHour,
		Epoch:          calendar.Epoch{Year: 1, MonthID: "hammer", Day: 1},
	}
	return &Document{
		Calendars: []*Calendar{{
			Schema:  schema,
			Current: calendar.DayTimestamp(schema.ID, 1492, "hammer", 1),
		}},
	}
}
