package model

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"almanac/internal/calendar"
	"almanac/internal/recurrence"
)

func TestSortHooks(t *testing.T) {
	hooks := []HookDescriptor{
		{ID: "c", Priority: 0},
		{ID: "b", Priority: 10},
		{ID: "a", Priority: 0},
		{ID: "d", Priority: 10},
	}
	sorted := SortHooks(hooks)

	ids := make([]string, 0, len(sorted))
	for _, h := range sorted {
		ids = append(ids, h.ID)
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, ids)
	assert.Equal(t, "c", hooks[0].ID, "input must not be reordered")
	assert.Nil(t, SortHooks(nil))
}

func TestEventAnchor(t *testing.T) {
	date := calendar.DayTimestamp("harptos", 1490, "jan", 1)
	start := calendar.DayTimestamp("harptos", 1491, "mar", 5)

	ev := Event{Kind: KindRecurring, Date: date, Rule: recurrence.AnnualOffset{OffsetDayOfYear: 1}}
	assert.Equal(t, date, ev.Anchor())

	ev.Bounds = &Bounds{Start: &start}
	assert.Equal(t, start, ev.Anchor())

	ev.Kind = KindSingle
	assert.Equal(t, date, ev.Anchor())
}

func TestPhenomenonVisibleFor(t *testing.T) {
	all := Phenomenon{Visibility: VisibleAll}
	assert.True(t, all.VisibleFor("anything"))

	selected := Phenomenon{Visibility: VisibleSelected, AppliesTo: []string{"harptos", "calendar-of-tamriel"}}
	assert.True(t, selected.VisibleFor("harptos"))
	assert.False(t, selected.VisibleFor("gregorian"))
}

func TestTimePolicyValid(t *testing.T) {
	for _, p := range []TimePolicy{PolicyAllDay, PolicyFixed, PolicyOffset} {
		assert.True(t, p.Valid(), p)
	}
	assert.False(t, TimePolicy("dusk").Valid())
}
