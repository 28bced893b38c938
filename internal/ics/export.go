// Package ics mirrors campaign occurrences into an iCalendar feed so an
// ordinary calendar app can show the agenda of a running campaign.
package ics

import (
	"errors"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"almanac/internal/calendar"
	appLog "almanac/internal/log"
	"almanac/internal/model"
)

const productID = "-//almanac//campaign calendar//EN"

// PropertySource carries the ID of the event or phenomenon behind a VEVENT.
const PropertySource ical.ComponentProperty = "X-ALMANAC-SOURCE"

// Mapping pins campaign time to real time: the campaign day of Origin is
// shown on the date of RealOrigin and every further campaign day on the next
// real day. The campaign day is scaled onto 24 real hours, so schemas with
// other day lengths still land inside the right real day.
type Mapping struct {
	Origin     calendar.Timestamp
	RealOrigin time.Time
	// Stamp is written as DTSTAMP; zero means now.
	Stamp time.Time
}

// RealTime converts ts under m, in UTC.
func (m Mapping) RealTime(s *calendar.Schema, ts calendar.Timestamp) (time.Time, error) {
	origin, err := calendar.ToOrdinal(s, m.Origin.Date())
	if err != nil {
		return time.Time{}, err
	}
	ord, err := calendar.ToOrdinal(s, ts)
	if err != nil {
		return time.Time{}, err
	}
	perDay := s.MinutesPerDay()
	delta := ord - origin
	days := delta / perDay
	rem := delta % perDay
	if rem < 0 {
		days--
		rem += perDay
	}

	y, mo, d := m.RealOrigin.UTC().Date()
	base := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
	secs := rem * 86400 / perDay
	return base.AddDate(0, 0, int(days)).Add(time.Duration(secs) * time.Second), nil
}

// Export writes occs as a VCALENDAR to w. Occurrences keep their instance
// key as UID so re-exports update events in place.
func Export(w io.Writer, s *calendar.Schema, occs []model.Occurrence, m Mapping) error {
	if s == nil {
		return errors.New("ics: nil schema")
	}
	stamp := m.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	name := s.Name
	if name == "" {
		name = s.ID
	}
	cal.SetXWRCalName(name)

	for _, occ := range occs {
		start, err := m.RealTime(s, occ.Start)
		if err != nil {
			return err
		}
		end, err := m.RealTime(s, occ.End)
		if err != nil {
			return err
		}

		ev := cal.AddEvent(occ.InstanceKey)
		ev.SetDtStampTime(stamp.UTC())
		ev.SetSummary(occ.Title)
		ev.SetDescription(calendar.FormatWithSchema(s, occ.Start))
		if occ.Category != "" {
			ev.SetProperty(ical.ComponentPropertyCategories, occ.Category)
		}
		ev.SetProperty(PropertySource, occ.SourceID)

		if occ.AllDay {
			endDay := end
			if !endDay.After(start) {
				endDay = start.AddDate(0, 0, 1)
			}
			ev.SetAllDayStartAt(start)
			ev.SetAllDayEndAt(endDay)
			continue
		}
		ev.SetStartAt(start)
		if end.After(start) {
			ev.SetEndAt(end)
		}
	}

	if err := cal.SerializeTo(w); err != nil {
		return err
	}
	appLog.Debug("ics: exported", "calendar", s.ID, "events", len(occs))
	return nil
}
