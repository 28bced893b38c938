package ics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"almanac/internal/calendar"
	"almanac/internal/model"
)

func testSchema() *calendar.Schema {
	return &calendar.Schema{
		ID:   "uneven",
		Name: "Uneven Reckoning",
		Months: []calendar.Month{
			{ID: "jan", Name: "Deepwinter", Length: 31},
			{ID: "feb", Name: "Thaw", Length: 28},
		},
		DaysPerWeek:    10,
		HoursPerDay:    20,
		MinutesPerHour: 50,
		Epoch:          calendar.Epoch{Year: 0, MonthID: "jan", Day: 1},
	}
}

func TestMappingRealTime(t *testing.T) {
	s := testSchema()
	m := Mapping{
		Origin:     calendar.MinuteTimestamp("uneven", 3, "feb", 27, 7, 0),
		RealOrigin: time.Date(2026, time.October, 14, 18, 30, 0, 0, time.UTC),
	}

	cases := []struct {
		ts   calendar.Timestamp
		want time.Time
	}{
		{calendar.DayTimestamp("uneven", 3, "feb", 27), time.Date(2026, time.October, 14, 0, 0, 0, 0, time.UTC)},
		// Half of a 1000-minute day is noon.
		{calendar.MinuteTimestamp("uneven", 3, "feb", 27, 10, 0), time.Date(2026, time.October, 14, 12, 0, 0, 0, time.UTC)},
		{calendar.DayTimestamp("uneven", 4, "jan", 1), time.Date(2026, time.October, 16, 0, 0, 0, 0, time.UTC)},
		{calendar.MinuteTimestamp("uneven", 3, "feb", 26, 15, 0), time.Date(2026, time.October, 13, 18, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := m.RealTime(s, tc.ts)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.ts.String())
	}

	_, err := m.RealTime(s, calendar.DayTimestamp("uneven", 3, "feb", 30))
	assert.ErrorIs(t, err, calendar.ErrInvalidTimestamp)
}

func TestExport(t *testing.T) {
	s := testSchema()
	m := Mapping{
		Origin:     calendar.DayTimestamp("uneven", 3, "jan", 1),
		RealOrigin: time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		Stamp:      time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC),
	}
	occs := []model.Occurrence{
		{
			SourceID:    "thaw-fair",
			InstanceKey: "thaw-fair@3/jan/2",
			Title:       "Thaw fair",
			Category:    "festival",
			Start:       calendar.DayTimestamp("uneven", 3, "jan", 2),
			End:         calendar.DayTimestamp("uneven", 3, "jan", 3),
			AllDay:      true,
		},
		{
			SourceID:    "council",
			InstanceKey: "council@3/jan/3 05:00",
			Title:       "Council",
			Start:       calendar.MinuteTimestamp("uneven", 3, "jan", 3, 5, 0),
			End:         calendar.MinuteTimestamp("uneven", 3, "jan", 3, 10, 0),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, s, occs, m))
	assert.True(t, strings.HasPrefix(buf.String(), "BEGIN:VCALENDAR"))

	cal, err := ical.ParseCalendar(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 2)

	fair := events[0]
	assert.Equal(t, "thaw-fair@3/jan/2", fair.Id())
	assert.Equal(t, "Thaw fair", fair.GetProperty(ical.ComponentPropertySummary).Value)
	assert.Equal(t, "festival", fair.GetProperty(ical.ComponentPropertyCategories).Value)
	assert.Equal(t, "thaw-fair", fair.GetProperty(PropertySource).Value)
	assert.Equal(t, "20260302", fair.GetProperty(ical.ComponentPropertyDtStart).Value)
	assert.Equal(t, "20260303", fair.GetProperty(ical.ComponentPropertyDtEnd).Value)

	council := events[1]
	start, err := council.GetStartAt()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.March, 3, 6, 0, 0, 0, time.UTC), start.UTC())
	end, err := council.GetEndAt()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.March, 3, 12, 0, 0, 0, time.UTC), end.UTC())
	assert.Contains(t, council.GetProperty(ical.ComponentPropertyDescription).Value, "Deepwinter")
}

func TestExport_NilSchema(t *testing.T) {
	assert.Error(t, Export(&bytes.Buffer{}, nil, nil, Mapping{}))
}
