package calendar

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var monthIDs = []string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}

func thirtyDaySchema() *Schema {
	months := make([]Month, 0, len(monthIDs))
	for _, id := range monthIDs {
		months = append(months, Month{ID: id, Name: id, Length: 30})
	}
	return &Schema{
		ID:             "harptos",
		Name:           "Thirty",
		Months:         months,
		DaysPerWeek:    7,
		HoursPerDay:    24,
		MinutesPerHour: 60,
		Epoch:          Epoch{Year: 1, MonthID: "jan", Day: 1},
	}
}

func unevenSchema() *Schema {
	return &Schema{
		ID: "uneven",
		Months: []Month{
			{ID: "jan", Name: "January", Length: 31},
			{ID: "feb", Name: "February", Length: 28},
			{ID: "mar", Name: "March", Length: 31},
		},
		DaysPerWeek:    10,
		HoursPerDay:    20,
		MinutesPerHour: 50,
		Epoch:          Epoch{Year: 0, MonthID: "feb", Day: 14},
	}
}

func TestSchemaValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, thirtyDaySchema().Validate())
	require.NoError(t, unevenSchema().Validate())

	tests := []struct {
		name   string
		mutate func(s *Schema)
		field  string
	}{
		{"no months", func(s *Schema) { s.Months = nil }, "months"},
		{"zero length", func(s *Schema) { s.Months[1].Length = 0 }, "months[1].length"},
		{"zero days per week", func(s *Schema) { s.DaysPerWeek = 0 }, "days_per_week"},
		{"zero hours", func(s *Schema) { s.HoursPerDay = 0 }, "hours_per_day"},
		{"unknown epoch month", func(s *Schema) { s.Epoch.MonthID = "smarch" }, "epoch.month_id"},
		{"epoch day too large", func(s *Schema) { s.Epoch.Day = 31 }, "epoch.day"},
		{"duplicate month", func(s *Schema) { s.Months[2].ID = "jan" }, "months[2].id"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := thirtyDaySchema()
			tc.mutate(s)

			err := s.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSchema))

			var serr *SchemaError
			require.True(t, errors.As(err, &serr))
			assert.Contains(t, serr.Fields, tc.field)
		})
	}
}

func TestToOrdinal_EpochIsZero(t *testing.T) {
	t.Parallel()

	for _, s := range []*Schema{thirtyDaySchema(), unevenSchema()} {
		epoch := DayTimestamp(s.ID, s.Epoch.Year, s.Epoch.MonthID, s.Epoch.Day)
		ord, err := ToOrdinal(s, epoch)
		require.NoError(t, err)
		assert.Equal(t, int64(0), ord, s.ID)
	}
}

func TestToOrdinal_Values(t *testing.T) {
	t.Parallel()
	s := thirtyDaySchema()

	ord, err := ToOrdinal(s, DayTimestamp("harptos", 2, "jan", 1))
	require.NoError(t, err)
	assert.Equal(t, int64(360*24*60), ord)

	ord, err = ToOrdinal(s, MinuteTimestamp("harptos", 1, "jan", 2, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, int64((1*24+3)*60+4), ord)

	ord, err = ToOrdinal(s, DayTimestamp("harptos", 0, "dec", 30))
	require.NoError(t, err)
	assert.Equal(t, int64(-24*60), ord)

	// Epoch in the middle of the year: the day before it is -1.
	u := unevenSchema()
	day, err := ToAbsoluteDay(u, DayTimestamp("uneven", 0, "feb", 13))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), day)
	day, err = ToAbsoluteDay(u, DayTimestamp("uneven", 1, "feb", 14))
	require.NoError(t, err)
	assert.Equal(t, int64(90), day)
}

func TestOrdinal_RoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		schema *Schema
		ts     Timestamp
	}{
		{thirtyDaySchema(), DayTimestamp("harptos", 1, "jan", 1)},
		{thirtyDaySchema(), DayTimestamp("harptos", 2025, "mar", 10)},
		{thirtyDaySchema(), DayTimestamp("harptos", -40, "dec", 30)},
		{thirtyDaySchema(), MinuteTimestamp("harptos", 0, "jun", 15, 23, 59)},
		{thirtyDaySchema(), MinuteTimestamp("harptos", -1, "jan", 1, 0, 0)},
		{unevenSchema(), DayTimestamp("uneven", 0, "jan", 1)},
		{unevenSchema(), DayTimestamp("uneven", -7, "feb", 28)},
		{unevenSchema(), MinuteTimestamp("uneven", 12, "mar", 31, 19, 49)},
		{unevenSchema(), MinuteTimestamp("uneven", -3, "feb", 13, 0, 1)},
	}

	for _, tc := range cases {
		ord, err := ToOrdinal(tc.schema, tc.ts)
		require.NoError(t, err)

		back, err := FromOrdinal(tc.schema, tc.ts.CalendarID, ord, tc.ts.Precision)
		require.NoError(t, err)
		assert.Equal(t, tc.ts, back, tc.ts.String())
	}

	// Every day across several years around the epoch.
	u := unevenSchema()
	for day := int64(-400); day <= 400; day++ {
		ts, err := FromAbsoluteDay(u, "uneven", day)
		require.NoError(t, err)
		back, err := ToAbsoluteDay(u, ts)
		require.NoError(t, err)
		require.Equal(t, day, back)
	}
}

func TestToOrdinal_InvalidTimestamp(t *testing.T) {
	t.Parallel()
	s := unevenSchema()

	bad := []Timestamp{
		DayTimestamp("uneven", 2025, "feb", 30),
		DayTimestamp("uneven", 2025, "feb", 29),
		DayTimestamp("uneven", 2025, "feb", 0),
		DayTimestamp("uneven", 2025, "smarch", 1),
		MinuteTimestamp("uneven", 2025, "jan", 1, 20, 0),
		MinuteTimestamp("uneven", 2025, "jan", 1, 0, 50),
		{CalendarID: "uneven", Year: 1, MonthID: "jan", Day: 1, Precision: "hour"},
	}

	for _, ts := range bad {
		_, err := ToOrdinal(s, ts)
		require.Error(t, err, ts.String())
		assert.True(t, errors.Is(err, ErrInvalidTimestamp), ts.String())
	}
}

func TestCompare_MatchesOrdinals(t *testing.T) {
	t.Parallel()
	s := thirtyDaySchema()

	stamps := []Timestamp{
		DayTimestamp("harptos", -2, "dec", 30),
		DayTimestamp("harptos", 5, "feb", 1),
		MinuteTimestamp("harptos", 5, "feb", 1, 0, 0),
		MinuteTimestamp("harptos", 5, "feb", 1, 13, 5),
		DayTimestamp("harptos", 5, "jan", 30),
		DayTimestamp("harptos", 100, "jan", 1),
	}

	for _, a := range stamps {
		for _, b := range stamps {
			cmp, err := Compare(s, a, b)
			require.NoError(t, err)
			oa, _ := ToOrdinal(s, a)
			ob, _ := ToOrdinal(s, b)
			assert.Equal(t, cmp < 0, oa < ob)
			assert.Equal(t, cmp == 0, oa == ob)
		}
	}

	// Month order follows the schema, not the month ID spelling.
	cmp, err := Compare(s, DayTimestamp("harptos", 5, "mar", 1), DayTimestamp("harptos", 5, "dec", 1))
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)
}

func TestWeekday(t *testing.T) {
	t.Parallel()
	s := thirtyDaySchema()

	wd, err := Weekday(s, DayTimestamp("harptos", 1, "jan", 1))
	require.NoError(t, err)
	assert.Equal(t, 0, wd)

	wd, err = Weekday(s, DayTimestamp("harptos", 1, "jan", 9))
	require.NoError(t, err)
	assert.Equal(t, 1, wd)

	wd, err = Weekday(s, DayTimestamp("harptos", 0, "dec", 30))
	require.NoError(t, err)
	assert.Equal(t, 6, wd)
}

func TestDateFromDayOfYear(t *testing.T) {
	t.Parallel()
	s := unevenSchema()

	ts, err := s.DateFromDayOfYear("uneven", 3, 32)
	require.NoError(t, err)
	assert.Equal(t, DayTimestamp("uneven", 3, "feb", 1), ts)

	doy, err := s.DayOfYear(DayTimestamp("uneven", 3, "mar", 1))
	require.NoError(t, err)
	assert.Equal(t, 60, doy)

	_, err = s.DateFromDayOfYear("uneven", 3, 91)
	assert.True(t, errors.Is(err, ErrInvalidTimestamp))
}
