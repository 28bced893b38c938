package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"almanac/internal/calendar"
	"almanac/internal/model"
)

func occ(id string, priority int, start, end calendar.Timestamp) model.Occurrence {
	return model.Occurrence{
		SourceType: model.SourceSingle,
		SourceID:   id,
		CalendarID: cal,
		Title:      id,
		Start:      start,
		End:        end,
		Priority:   priority,
	}
}

func TestDetectConflicts(t *testing.T) {
	t.Parallel()
	s := harptos(1)

	council := occ("council", 1, at(2025, "mar", 10, 10, 0), at(2025, "mar", 10, 12, 0))
	siege := occ("siege", 5, at(2025, "mar", 10, 11, 0), at(2025, "mar", 10, 13, 0))
	siege.Hooks = []model.HookDescriptor{{ID: "z-bell", Priority: 1}, {ID: "y-horn", Priority: 3}}
	siege.Effects = []model.Effect{{Type: "narrative"}}
	feast := occ("feast", 2, at(2025, "mar", 10, 13, 0), at(2025, "mar", 10, 15, 0))
	toast := occ("toast", 0, at(2025, "mar", 10, 14, 0), at(2025, "mar", 10, 14, 0))
	dawn := occ("dawn", 0, at(2025, "mar", 11, 6, 0), at(2025, "mar", 11, 7, 0))

	groups, err := DetectConflicts(s, []model.Occurrence{dawn, toast, feast, siege, council})
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, []model.Occurrence{council, siege}, groups[0].Occurrences)
	assert.Equal(t, Window{Start: council.Start, End: siege.End}, groups[0].Window)

	// feast starts exactly when siege ends, so it opens its own group.
	assert.Equal(t, []model.Occurrence{feast, toast}, groups[1].Occurrences)
	assert.Equal(t, Window{Start: feast.Start, End: feast.End}, groups[1].Window)

	res := ResolveConflicts(groups)
	require.Len(t, res, 2)
	assert.Equal(t, siege, res[0].Active)
	assert.Equal(t, []model.Occurrence{council}, res[0].Suppressed)
	assert.Equal(t, []model.Occurrence{siege, council}, res[0].Ordered)
	assert.Equal(t, []string{"y-horn", "z-bell"}, []string{res[0].TriggeredHooks[0].ID, res[0].TriggeredHooks[1].ID})
	assert.Equal(t, siege.Effects, res[0].TriggeredEffects)
	assert.Equal(t, feast, res[1].Active)
}

func TestDetectConflicts_Empty(t *testing.T) {
	t.Parallel()
	groups, err := DetectConflicts(harptos(1), nil)
	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.Empty(t, ResolveConflicts(nil))
}

func TestDetectConflicts_InvalidTimestamp(t *testing.T) {
	t.Parallel()
	bad := occ("bad", 0, day(2025, "feb", 31), day(2025, "mar", 1))
	_, err := DetectConflicts(harptos(1), []model.Occurrence{bad})
	assert.ErrorIs(t, err, calendar.ErrInvalidTimestamp)
}
