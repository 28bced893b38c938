package document

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"almanac/internal/calendar"
	"almanac/internal/model"
	"almanac/internal/recurrence"
)

const sample = `
version: 1
calendars:
  - schema:
      id: harptos
      name: Calendar of Harptos
      days_per_week: 10
      months:
        - {id: hammer, name: Hammer, length: 30}
        - {id: alturiak, name: Alturiak, length: 30}
        - {id: ches, name: Ches, length: 30}
      epoch: {year: 1, month_id: hammer, day: 1}
    current: {year: 1492, month_id: ches, day: 3, hour: 9, minute: 15}
    events:
      - id: founding
        title: Founding day
        date: {year: 1490, month_id: ches, day: 10}
        rule: {type: annual_offset, offset_day_of_year: 70}
      - title: Tenday market
        date: {year: 1492, month_id: hammer, day: 1}
        rule: {type: weekly_dayIndex, day_index: 0}
        hooks:
          - {id: bell, type: webhook, priority: 2, config: {url: "http://example.invalid"}}
      - id: council
        title: Council
        date: {year: 1492, month_id: alturiak, day: 4, hour: 18}
        rule: {type: monthly_position, month_id: alturiak, day: 4}
      - id: wedding
        title: Wedding
        date: {year: 1492, month_id: ches, day: 20, hour: 14}
        duration_minutes: 120
phenomena:
  - id: spring
    name: Spring equinox
    visibility: all_calendars
    rule: {type: monthly_position, month_id: ches, day: 19}
  - id: eclipse
    name: Eclipse
    visibility: selected
    applies_to: [harptos]
    rule: {type: custom, custom_rule_id: eclipse}
    start_time: {hour: 12, minute: 0}
`

func decodeSample(t *testing.T) *Document {
	t.Helper()
	doc, err := Decode(strings.NewReader(sample))
	require.NoError(t, err)
	return doc
}

func TestDecode(t *testing.T) {
	doc := decodeSample(t)
	require.Equal(t, []string{"harptos"}, doc.IDs())

	c, err := doc.Calendar("harptos")
	require.NoError(t, err)
	assert.Equal(t, calendar.DefaultHoursPerDay, c.Schema.HoursPerDay)
	assert.Equal(t, calendar.DefaultMinutesPerHour, c.Schema.MinutesPerHour)
	assert.Equal(t, calendar.MinuteTimestamp("harptos", 1492, "ches", 3, 9, 15), c.Current)
	require.Len(t, c.Events, 4)

	founding := c.Events[0]
	assert.Equal(t, model.KindRecurring, founding.Kind)
	assert.Equal(t, recurrence.AnnualOffset{OffsetDayOfYear: 70}, founding.Rule)
	assert.Equal(t, model.PolicyAllDay, founding.TimePolicy)
	assert.True(t, founding.AllDay)
	assert.Equal(t, calendar.DayTimestamp("harptos", 1490, "ches", 10), founding.Date)

	market := c.Events[1]
	_, err = uuid.Parse(market.ID)
	assert.NoError(t, err, "missing ids are generated")
	assert.Equal(t, recurrence.WeeklyDayIndex{DayIndex: 0, Interval: 1}, market.Rule)
	assert.Equal(t, "http://example.invalid", market.Hooks[0].Config["url"])

	council, ok := c.Event("council")
	require.True(t, ok)
	assert.Equal(t, model.PolicyFixed, council.TimePolicy)
	assert.Equal(t, &model.TimeOfDay{Hour: 18}, council.StartTime)
	assert.False(t, council.AllDay)

	wedding, ok := c.Event("wedding")
	require.True(t, ok)
	assert.Equal(t, model.KindSingle, wedding.Kind)
	assert.Nil(t, wedding.Rule)
	assert.Equal(t, 120, *wedding.DurationMinutes)

	require.Len(t, doc.Phenomena, 2)
	assert.Equal(t, model.VisibleAll, doc.Phenomena[0].Visibility)
	assert.Equal(t, model.PolicyAllDay, doc.Phenomena[0].TimePolicy)
	assert.Equal(t, model.PolicyFixed, doc.Phenomena[1].TimePolicy)
	assert.Equal(t, recurrence.Custom{CustomRuleID: "eclipse"}, doc.Phenomena[1].Rule)
}

func TestDecode_DerivedIDsAreStable(t *testing.T) {
	first := decodeSample(t)
	second := decodeSample(t)

	a, err := first.Calendar("harptos")
	require.NoError(t, err)
	b, err := second.Calendar("harptos")
	require.NoError(t, err)
	assert.Equal(t, a.Events[1].ID, b.Events[1].ID)
	assert.Equal(t, first.Phenomena[0].ID, second.Phenomena[0].ID)

	twins := `
calendars:
  - schema:
      id: tiny
      days_per_week: 5
      months: [{id: a, name: Alpha, length: 10}]
      epoch: {year: 1, month_id: a, day: 1}
    events:
      - title: Fair
        date: {year: 1, month_id: a, day: 3}
      - title: Fair
        date: {year: 1, month_id: a, day: 3}
      - title: Fair
        date: {year: 1, month_id: a, day: 4}
`
	doc, err := Decode(strings.NewReader(twins))
	require.NoError(t, err)
	c, err := doc.Calendar("tiny")
	require.NoError(t, err)
	require.Len(t, c.Events, 3)
	ids := map[string]struct{}{}
	for _, ev := range c.Events {
		_, err := uuid.Parse(ev.ID)
		require.NoError(t, err)
		ids[ev.ID] = struct{}{}
	}
	assert.Len(t, ids, 3)
}

func TestCalendar_UnknownListsKnownIDs(t *testing.T) {
	doc := decodeSample(t)
	_, err := doc.Calendar("greyhawk")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownCalendar))
	assert.Contains(t, err.Error(), "greyhawk (have harptos)")
}

func TestDecode_Errors(t *testing.T) {
	cases := map[string]struct {
		yaml string
		is   error
	}{
		"unknown rule type": {
			yaml: `
calendars:
  - schema: {id: a, days_per_week: 7, months: [{id: m, length: 10}], epoch: {year: 1, month_id: m, day: 1}}
    events:
      - {title: x, date: {year: 1, month_id: m, day: 1}, rule: {type: astronomical}}
`,
			is: recurrence.ErrInvalidRule,
		},
		"invalid schema": {
			yaml: `
calendars:
  - schema: {id: a, days_per_week: 0, months: [{id: m, length: 10}], epoch: {year: 1, month_id: m, day: 1}}
`,
			is: calendar.ErrInvalidSchema,
		},
		"invalid current": {
			yaml: `
calendars:
  - schema: {id: a, days_per_week: 7, months: [{id: m, length: 10}], epoch: {year: 1, month_id: m, day: 1}}
    current: {year: 3, month_id: m, day: 11}
`,
			is: calendar.ErrInvalidTimestamp,
		},
		"duplicate calendar": {
			yaml: `
calendars:
  - schema: {id: a, days_per_week: 7, months: [{id: m, length: 10}], epoch: {year: 1, month_id: m, day: 1}}
  - schema: {id: a, days_per_week: 7, months: [{id: m, length: 10}], epoch: {year: 1, month_id: m, day: 1}}
`,
		},
		"unknown field": {
			yaml: `
calendars:
  - schema: {id: a, days_per_week: 7, months: [{id: m, length: 10}], epoch: {year: 1, month_id: m, day: 1}}
    colour: red
`,
		},
		"future version": {
			yaml: "version: 99\n",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tc.yaml))
			require.Error(t, err)
			if tc.is != nil {
				assert.True(t, errors.Is(err, tc.is), "got %v", err)
			}
		})
	}
}

func TestAdvanceCurrent(t *testing.T) {
	doc := decodeSample(t)

	res, err := doc.AdvanceCurrent("harptos", 3, calendar.UnitDay)
	require.NoError(t, err)
	assert.Equal(t, calendar.MinuteTimestamp("harptos", 1492, "ches", 6, 9, 15), res.Timestamp)
	assert.EqualValues(t, 3, res.CarriedDays)

	_, err = doc.AdvanceCurrent("harptos", -90, calendar.UnitMinute)
	require.NoError(t, err)
	c, _ := doc.Calendar("harptos")
	assert.Equal(t, calendar.MinuteTimestamp("harptos", 1492, "ches", 6, 7, 45), c.Current)

	_, err = doc.AdvanceCurrent("greyhawk", 1, calendar.UnitDay)
	assert.True(t, errors.Is(err, ErrUnknownCalendar))
}

func TestSetCurrent(t *testing.T) {
	doc := decodeSample(t)
	require.NoError(t, doc.SetCurrent("harptos", calendar.Timestamp{Year: 1500, MonthID: "hammer", Day: 2}))
	c, _ := doc.Calendar("harptos")
	assert.Equal(t, calendar.DayTimestamp("harptos", 1500, "hammer", 2), c.Current)

	err := doc.SetCurrent("harptos", calendar.DayTimestamp("harptos", 1500, "hammer", 31))
	assert.True(t, errors.Is(err, calendar.ErrInvalidTimestamp))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	doc := decodeSample(t)
	path := filepath.Join(t.TempDir(), "campaign.yaml")

	require.NoError(t, Save(path, doc))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)

	// Phenomena are written sorted by ID.
	assert.Equal(t, []string{"eclipse", "spring"}, []string{loaded.Phenomena[0].ID, loaded.Phenomena[1].ID})
	loaded.Phenomena[0], loaded.Phenomena[1] = loaded.Phenomena[1], loaded.Phenomena[0]
	assert.Equal(t, doc, loaded)
}

func TestLoad_CreatesStarter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "campaign.yaml")

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"harptos"}, doc.IDs())
	require.FileExists(t, path)

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, doc, again)
}

func TestRuleRecordRoundTrip(t *testing.T) {
	rules := []recurrence.Rule{
		recurrence.AnnualOffset{OffsetDayOfYear: 12},
		recurrence.MonthlyPosition{MonthID: "ches", Day: 19},
		recurrence.WeeklyDayIndex{DayIndex: 4, Interval: 3},
		recurrence.Custom{CustomRuleID: "eclipse"},
	}
	for _, rule := range rules {
		rec := RecordFor(rule)
		require.NotNil(t, rec)
		back, err := rec.Rule()
		require.NoError(t, err)
		assert.Equal(t, rule, back)
	}
	assert.Nil(t, RecordFor(nil))
}
