// Package agenda serves a loaded campaign document to the HTTP API and the
// CLI. It owns the locking around the document, persists cursor moves and
// runs the schedule engine against the selected calendar.
package agenda

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"almanac/internal/atomicfile"
	"almanac/internal/calendar"
	"almanac/internal/document"
	"almanac/internal/ics"
	appLog "almanac/internal/log"
	"almanac/internal/metrics"
	"almanac/internal/model"
	"almanac/internal/recurrence"
	"almanac/internal/schedule"
)

// ErrUnknownSource is returned when no event or visible phenomenon has the
// requested ID.
var ErrUnknownSource = errors.New("agenda: unknown event or phenomenon")

// Options tunes every query served by a Store.
type Options struct {
	// DefaultCalendar is used when a query names no calendar. Empty means
	// the first calendar of the document.
	DefaultCalendar string
	// HorizonDays is the agenda length when a query gives neither To nor Days.
	HorizonDays            int
	MaxLookaheadYears      int
	MaxOccurrencesPerEvent int
	Evaluator              *recurrence.Evaluator
	Metrics                *metrics.Metrics
}

// Store guards a document. Reads take a shared lock; cursor moves and
// reloads are exclusive and bump Generation.
type Store struct {
	path string
	opts Options

	mu         sync.RWMutex
	doc        *document.Document
	generation uint64
}

// Open loads (or creates) the document at path.
func Open(path string, opts Options) (*Store, error) {
	doc, err := document.Load(path)
	if err != nil {
		return nil, err
	}
	return New(doc, path, opts), nil
}

// New wraps an already decoded document. With an empty path cursor moves
// stay in memory.
func New(doc *document.Document, path string, opts Options) *Store {
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 30
	}
	return &Store{path: path, opts: opts, doc: doc, generation: 1}
}

// Reload re-reads the document from disk. On failure the loaded document is
// kept. The exclusive lock is held across the read so a concurrent cursor
// move is never replaced by the file as it was before that move was saved.
func (s *Store) Reload() error {
	if s.path == "" {
		return errors.New("agenda: store has no document path")
	}
	s.mu.Lock()
	doc, err := document.Load(s.path)
	if err == nil {
		s.doc = doc
		s.generation++
	}
	s.mu.Unlock()
	s.opts.Metrics.ObserveReload(err)
	if err != nil {
		return err
	}
	appLog.Info("agenda: document reloaded", "path", s.path, "calendars", len(doc.Calendars))
	return nil
}

// Generation changes whenever the document or a cursor changes, so callers
// can key caches on it.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// CalendarInfo summarises one calendar of the document.
type CalendarInfo struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Current     calendar.Timestamp `json:"current"`
	CurrentText string             `json:"current_text"`
	Weekday     int                `json:"weekday"`
	Events      int                `json:"events"`
	Schema      *calendar.Schema   `json:"schema"`
}

// Calendars lists every calendar in document order.
func (s *Store) Calendars() []CalendarInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CalendarInfo, 0, len(s.doc.Calendars))
	for _, c := range s.doc.Calendars {
		out = append(out, info(c))
	}
	return out
}

func info(c *document.Calendar) CalendarInfo {
	wd, _ := calendar.Weekday(c.Schema, c.Current)
	return CalendarInfo{
		ID:          c.Schema.ID,
		Name:        c.Schema.Name,
		Current:     c.Current,
		CurrentText: calendar.FormatWithSchema(c.Schema, c.Current),
		Weekday:     wd,
		Events:      len(c.Events),
		Schema:      c.Schema,
	}
}

// Calendar returns the summary of one calendar; an empty id selects the
// default calendar.
func (s *Store) Calendar(id string) (CalendarInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.lookup(id)
	if err != nil {
		return CalendarInfo{}, err
	}
	return info(c), nil
}

// lookup resolves a calendar ID. Callers hold s.mu.
func (s *Store) lookup(id string) (*document.Calendar, error) {
	if id == "" {
		id = s.opts.DefaultCalendar
	}
	if id == "" {
		if len(s.doc.Calendars) == 0 {
			return nil, fmt.Errorf("%w: document has no calendars", document.ErrUnknownCalendar)
		}
		return s.doc.Calendars[0], nil
	}
	return s.doc.Calendar(id)
}

// ParseTime parses "YEAR/MONTH/DAY[ HH:MM]" in the given calendar.
func (s *Store) ParseTime(calendarID, value string) (calendar.Timestamp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.lookup(calendarID)
	if err != nil {
		return calendar.Timestamp{}, err
	}
	return calendar.ParseTimestamp(c.Schema, c.Schema.ID, value)
}

// Query selects an agenda window. A nil From starts at the calendar's
// current time. A nil To ends Days (or the store horizon) days later.
type Query struct {
	Calendar     string
	From         *calendar.Timestamp
	To           *calendar.Timestamp
	Days         int
	IncludeStart bool
	Limit        int
}

// Agenda is the merged expansion of one calendar.
type Agenda struct {
	Calendar    string             `json:"calendar"`
	From        calendar.Timestamp `json:"from"`
	To          calendar.Timestamp `json:"to"`
	Occurrences []model.Occurrence `json:"occurrences"`
	Skipped     []string           `json:"skipped,omitempty"`
	Truncated   []string           `json:"truncated,omitempty"`

	schema *calendar.Schema
}

// Schema is the schema the agenda was expanded against.
func (a Agenda) Schema() *calendar.Schema { return a.schema }

// Agenda expands events and visible phenomena of the selected calendar.
func (s *Store) Agenda(q Query) (Agenda, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.lookup(q.Calendar)
	if err != nil {
		return Agenda{}, err
	}
	return s.agenda(c, q)
}

func (s *Store) agenda(c *document.Calendar, q Query) (Agenda, error) {
	id := c.Schema.ID
	from := c.Current
	if q.From != nil {
		from = *q.From
	}
	from.CalendarID = id

	var to calendar.Timestamp
	if q.To != nil {
		to = *q.To
		to.CalendarID = id
	} else {
		days := q.Days
		if days <= 0 {
			days = s.opts.HorizonDays
		}
		res, err := calendar.Advance(c.Schema, from, int64(days), calendar.UnitDay)
		if err != nil {
			return Agenda{}, err
		}
		to = res.Timestamp
	}

	res, err := schedule.Expand(c.Schema, id, c.Events, s.doc.Phenomena, schedule.ExpandConfig{
		Start:                  from,
		End:                    to,
		IncludeStart:           q.IncludeStart,
		Limit:                  q.Limit,
		MaxOccurrencesPerEvent: s.opts.MaxOccurrencesPerEvent,
		Evaluator:              s.opts.Evaluator,
	})
	if err != nil {
		return Agenda{}, err
	}
	s.opts.Metrics.ObserveExpansion(id, len(res.Occurrences), len(res.Skipped), len(res.Truncated))

	out := Agenda{
		Calendar:    id,
		From:        from,
		To:          to,
		Occurrences: res.Occurrences,
		Truncated:   res.Truncated,
		schema:      c.Schema,
	}
	if out.Occurrences == nil {
		out.Occurrences = []model.Occurrence{}
	}
	for _, d := range res.Skipped {
		out.Skipped = append(out.Skipped, d.Error())
	}
	return out, nil
}

// Conflicts expands q and resolves every group of overlapping occurrences.
func (s *Store) Conflicts(q Query) ([]schedule.Resolution, error) {
	a, err := s.Agenda(q)
	if err != nil {
		return nil, err
	}
	groups, err := schedule.DetectConflicts(a.schema, a.Occurrences)
	if err != nil {
		return nil, err
	}
	return schedule.ResolveConflicts(groups), nil
}

// Next returns the first occurrence of the event or phenomenon sourceID at
// or after from (nil means the current time). A nil occurrence means none
// within the lookahead horizon.
func (s *Store) Next(calendarID, sourceID string, from *calendar.Timestamp, includeStart bool) (*model.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.lookup(calendarID)
	if err != nil {
		return nil, err
	}
	start := s.start(c, from)
	opts := s.nextOptions(includeStart)

	if ev, ok := c.Event(sourceID); ok {
		return schedule.NextEventOccurrence(ev, c.Schema, c.Schema.ID, start, opts)
	}
	for _, p := range s.doc.Phenomena {
		if p.ID == sourceID && p.VisibleFor(c.Schema.ID) {
			return schedule.NextPhenomenonOccurrence(p, c.Schema, c.Schema.ID, start, opts)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
}

// Upcoming returns the next occurrence of every event and visible phenomenon,
// ordered by start. Sources that fail to evaluate are logged and left out.
func (s *Store) Upcoming(calendarID string, from *calendar.Timestamp, includeStart bool) ([]model.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.lookup(calendarID)
	if err != nil {
		return nil, err
	}
	id := c.Schema.ID
	start := s.start(c, from)
	opts := s.nextOptions(includeStart)

	type item struct {
		ord int64
		occ model.Occurrence
	}
	var items []item
	add := func(sourceID string, occ *model.Occurrence, err error) {
		if err != nil {
			appLog.Error("agenda: next occurrence failed", err, "calendar", id, "source", sourceID)
			return
		}
		if occ == nil {
			return
		}
		ord, err := calendar.ToOrdinal(c.Schema, occ.Start)
		if err != nil {
			appLog.Error("agenda: next occurrence out of schema", err, "calendar", id, "source", sourceID)
			return
		}
		items = append(items, item{ord: ord, occ: *occ})
	}
	for _, ev := range c.Events {
		if ev.CalendarID != "" && ev.CalendarID != id {
			continue
		}
		occ, err := schedule.NextEventOccurrence(ev, c.Schema, id, start, opts)
		add(ev.ID, occ, err)
	}
	for _, p := range s.doc.Phenomena {
		if !p.VisibleFor(id) {
			continue
		}
		occ, err := schedule.NextPhenomenonOccurrence(p, c.Schema, id, start, opts)
		add(p.ID, occ, err)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].ord != items[j].ord {
			return items[i].ord < items[j].ord
		}
		if items[i].occ.Priority != items[j].occ.Priority {
			return items[i].occ.Priority > items[j].occ.Priority
		}
		return items[i].occ.SourceID < items[j].occ.SourceID
	})
	out := make([]model.Occurrence, 0, len(items))
	for _, it := range items {
		out = append(out, it.occ)
	}
	return out, nil
}

func (s *Store) start(c *document.Calendar, from *calendar.Timestamp) calendar.Timestamp {
	if from == nil {
		return c.Current
	}
	ts := *from
	ts.CalendarID = c.Schema.ID
	return ts
}

func (s *Store) nextOptions(includeStart bool) schedule.NextOptions {
	return schedule.NextOptions{
		IncludeStart:      includeStart,
		MaxLookaheadYears: s.opts.MaxLookaheadYears,
		Evaluator:         s.opts.Evaluator,
	}
}

// Advance moves the calendar's current time and persists the document. If
// the save fails the cursor is restored.
func (s *Store) Advance(calendarID string, amount int64, unit calendar.Unit) (calendar.AdvanceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookup(calendarID)
	if err != nil {
		return calendar.AdvanceResult{}, err
	}
	prev := c.Current
	res, err := s.doc.AdvanceCurrent(c.Schema.ID, amount, unit)
	if err != nil {
		return calendar.AdvanceResult{}, err
	}
	if err := s.persist(); err != nil {
		c.Current = prev
		return calendar.AdvanceResult{}, err
	}
	s.generation++
	s.opts.Metrics.ObserveAdvance(c.Schema.ID, string(unit))
	return res, nil
}

// SetCurrent jumps the calendar's current time to ts and persists it.
func (s *Store) SetCurrent(calendarID string, ts calendar.Timestamp) (calendar.Timestamp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookup(calendarID)
	if err != nil {
		return calendar.Timestamp{}, err
	}
	prev := c.Current
	if err := s.doc.SetCurrent(c.Schema.ID, ts); err != nil {
		return calendar.Timestamp{}, err
	}
	if err := s.persist(); err != nil {
		c.Current = prev
		return calendar.Timestamp{}, err
	}
	s.generation++
	appLog.Info("agenda: current time set", "calendar", c.Schema.ID, "from", prev.String(), "to", c.Current.String())
	return c.Current, nil
}

func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	if err := document.Save(s.path, s.doc); err != nil {
		return fmt.Errorf("agenda: save document: %w", err)
	}
	return nil
}

// ExportICS writes the agenda selected by q as iCalendar. The calendar's
// current day is placed on realOrigin.
func (s *Store) ExportICS(w io.Writer, q Query, realOrigin time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.lookup(q.Calendar)
	if err != nil {
		return err
	}
	a, err := s.agenda(c, q)
	if err != nil {
		return err
	}
	return ics.Export(w, c.Schema, a.Occurrences, ics.Mapping{Origin: c.Current, RealOrigin: realOrigin})
}

// WriteICS is ExportICS into a file, replaced atomically.
func (s *Store) WriteICS(path string, q Query, realOrigin time.Time) error {
	var buf bytes.Buffer
	if err := s.ExportICS(&buf, q, realOrigin); err != nil {
		return err
	}
	if err := atomicfile.Write(path, buf.Bytes(), ".almanac-ics-*.tmp"); err != nil {
		return err
	}
	appLog.Info("agenda: ics export written", "path", path, "bytes", buf.Len())
	return nil
}

// ParseStep parses a signed amount with a unit suffix, such as "3d", "-4h",
// "90m" or "+2 days".
func ParseStep(s string) (int64, calendar.Unit, error) {
	raw := strings.TrimSpace(s)
	i := 0
	if i < len(raw) && (raw[i] == '+' || raw[i] == '-') {
		i++
	}
	for i < len(raw) && raw[i] >= '0' && raw[i] <= '9' {
		i++
	}
	amount, err := strconv.ParseInt(raw[:i], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("agenda: step %q: want a signed integer followed by a unit", s)
	}
	unitText := strings.ToLower(strings.TrimFunc(raw[i:], unicode.IsSpace))
	unit, err := calendar.ParseUnit(unitText)
	if err != nil {
		return 0, "", fmt.Errorf("agenda: step %q: %w", s, err)
	}
	return amount, unit, nil
}
