package recurrence

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"almanac/internal/calendar"
	appLog "almanac/internal/log"
)

const cal = "harptos"

func thirtyDaySchema(epoch calendar.Epoch) *calendar.Schema {
	ids := []string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}
	months := make([]calendar.Month, 0, len(ids))
	for _, id := range ids {
		months = append(months, calendar.Month{ID: id, Name: id, Length: 30})
	}
	return &calendar.Schema{
		ID:             cal,
		Months:         months,
		DaysPerWeek:    7,
		HoursPerDay:    24,
		MinutesPerHour: 60,
		Epoch:          epoch,
	}
}

func day(year int, month string, d int) calendar.Timestamp {
	return calendar.DayTimestamp(cal, year, month, d)
}

func absDays(t *testing.T, s *calendar.Schema, stamps []calendar.Timestamp) []int64 {
	t.Helper()
	out := make([]int64, 0, len(stamps))
	for _, ts := range stamps {
		d, err := calendar.ToAbsoluteDay(s, ts)
		require.NoError(t, err)
		out = append(out, d)
	}
	return out
}

func TestAnnualOffset_OneOccurrencePerYear(t *testing.T) {
	t.Parallel()
	s := thirtyDaySchema(calendar.Epoch{Year: 1, MonthID: "jan", Day: 1})
	anchor := day(2025, "mar", 10)

	offset, err := s.DayOfYear(anchor)
	require.NoError(t, err)

	got, err := NewEvaluator(NewRegistry()).Occurrences(s, cal, AnnualOffset{OffsetDayOfYear: offset},
		anchor, day(2026, "jan", 1), day(2027, "jan", 1))
	require.NoError(t, err)
	assert.Equal(t, []calendar.Timestamp{day(2026, "mar", 10)}, got)
}

func TestAnnualOffset_SpansYearsAndWraps(t *testing.T) {
	t.Parallel()
	s := thirtyDaySchema(calendar.Epoch{Year: 1, MonthID: "jan", Day: 1})
	ev := NewEvaluator(NewRegistry())

	got, err := ev.Occurrences(s, cal, AnnualOffset{OffsetDayOfYear: 1}, day(-3, "jan", 1),
		day(-3, "jun", 1), day(0, "feb", 1))
	require.NoError(t, err)
	assert.Equal(t, []calendar.Timestamp{day(-2, "jan", 1), day(-1, "jan", 1), day(0, "jan", 1)}, got)

	// 361 wraps onto day 1.
	got, err = ev.Occurrences(s, cal, AnnualOffset{OffsetDayOfYear: 361}, day(5, "jan", 1),
		day(5, "jan", 1), day(5, "dec", 30))
	require.NoError(t, err)
	assert.Equal(t, []calendar.Timestamp{day(5, "jan", 1)}, got)
}

func TestMonthlyPosition(t *testing.T) {
	t.Parallel()
	s := thirtyDaySchema(calendar.Epoch{Year: 1, MonthID: "jan", Day: 1})
	ev := NewEvaluator(NewRegistry())

	got, err := ev.Occurrences(s, cal, MonthlyPosition{MonthID: "jun", Day: 21}, day(1, "jan", 1),
		day(10, "jun", 21), day(12, "jun", 21))
	require.NoError(t, err)
	assert.Equal(t, []calendar.Timestamp{day(10, "jun", 21), day(11, "jun", 21)}, got)

	s.Months[1].Length = 28
	got, err = ev.Occurrences(s, cal, MonthlyPosition{MonthID: "feb", Day: 30}, day(1, "jan", 1),
		day(10, "jan", 1), day(20, "jan", 1))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWeeklyDayIndex_EveryOtherWeek(t *testing.T) {
	t.Parallel()
	s := thirtyDaySchema(calendar.Epoch{Year: 2025, MonthID: "jan", Day: 1})
	anchor := day(2025, "jan", 1)

	wd, err := calendar.Weekday(s, anchor)
	require.NoError(t, err)
	require.Equal(t, 0, wd)

	end, err := calendar.Advance(s, anchor, 28, calendar.UnitDay)
	require.NoError(t, err)

	got, err := NewEvaluator(NewRegistry()).Occurrences(s, cal, WeeklyDayIndex{DayIndex: 0, Interval: 2},
		anchor, anchor, end.Timestamp)
	require.NoError(t, err)
	require.Len(t, got, 2)

	days := absDays(t, s, got)
	assert.Equal(t, int64(14), days[1]-days[0])
	assert.Equal(t, anchor, got[0])
}

func TestWeeklyDayIndex_PhaseFromAnchor(t *testing.T) {
	t.Parallel()
	s := thirtyDaySchema(calendar.Epoch{Year: 1, MonthID: "jan", Day: 1})
	ev := NewEvaluator(NewRegistry())
	anchor := day(2025, "jan", 1)
	anchorDay, err := calendar.ToAbsoluteDay(s, anchor)
	require.NoError(t, err)

	// Anchor falls on week-day 3; the first week-day 0 is four days later.
	got, err := ev.between(s, cal, WeeklyDayIndex{DayIndex: 0, Interval: 2}, anchor, anchorDay, anchorDay+28)
	require.NoError(t, err)
	assert.Equal(t, []int64{anchorDay + 4, anchorDay + 18}, absDays(t, s, got))

	// The series also extends before the anchor.
	got, err = ev.between(s, cal, WeeklyDayIndex{DayIndex: 0, Interval: 2}, anchor, anchorDay-28, anchorDay)
	require.NoError(t, err)
	assert.Equal(t, []int64{anchorDay - 24, anchorDay - 10}, absDays(t, s, got))

	for _, ts := range got {
		wd, err := calendar.Weekday(s, ts)
		require.NoError(t, err)
		assert.Equal(t, 0, wd)
	}
}

func TestValidate_RejectsInvalidRules(t *testing.T) {
	t.Parallel()
	s := thirtyDaySchema(calendar.Epoch{Year: 1, MonthID: "jan", Day: 1})
	ev := NewEvaluator(NewRegistry())

	rules := []Rule{
		WeeklyDayIndex{DayIndex: 7, Interval: 1},
		WeeklyDayIndex{DayIndex: -1, Interval: 1},
		WeeklyDayIndex{DayIndex: 2, Interval: 0},
		AnnualOffset{OffsetDayOfYear: 0},
		MonthlyPosition{MonthID: "smarch", Day: 1},
		MonthlyPosition{MonthID: "jan", Day: 0},
		Custom{},
		nil,
	}
	for _, rule := range rules {
		_, err := ev.Occurrences(s, cal, rule, day(1, "jan", 1), day(1, "jan", 1), day(2, "jan", 1))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidRule), "%#v", rule)
	}
}

func TestCustom_RegisteredStrategy(t *testing.T) {
	t.Parallel()
	s := thirtyDaySchema(calendar.Epoch{Year: 1, MonthID: "jan", Day: 1})
	reg := NewRegistry()

	require.NoError(t, reg.Register("full-moon", StrategyFunc(func(_ *calendar.Schema, _, _, _ calendar.Timestamp) ([]calendar.Timestamp, error) {
		return []calendar.Timestamp{
			day(3, "mar", 1),
			day(3, "jan", 15),
			day(3, "mar", 1),
			day(2, "dec", 30),
			day(4, "jan", 1),
			calendar.MinuteTimestamp(cal, 3, "feb", 2, 6, 30),
		}, nil
	})))

	got, err := NewEvaluator(reg).Occurrences(s, cal, Custom{CustomRuleID: "full-moon"}, day(1, "jan", 1),
		day(3, "jan", 1), day(4, "jan", 1))
	require.NoError(t, err)
	assert.Equal(t, []calendar.Timestamp{
		day(3, "jan", 15),
		calendar.MinuteTimestamp(cal, 3, "feb", 2, 6, 30),
		day(3, "mar", 1),
	}, got)

	err = reg.Register("full-moon", StrategyFunc(func(*calendar.Schema, calendar.Timestamp, calendar.Timestamp, calendar.Timestamp) ([]calendar.Timestamp, error) {
		return nil, nil
	}))
	assert.True(t, errors.Is(err, ErrDuplicateRule))
	assert.Equal(t, []string{"full-moon"}, reg.IDs())
}

func TestCustom_UnregisteredYieldsNothing(t *testing.T) {
	t.Parallel()
	s := thirtyDaySchema(calendar.Epoch{Year: 1, MonthID: "jan", Day: 1})
	ev := NewEvaluator(NewRegistry())

	got, err := ev.Occurrences(s, cal, Custom{CustomRuleID: "eclipse"}, day(1, "jan", 1), day(1, "jan", 1), day(50, "jan", 1))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCustom_UnregisteredLogsAtDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	appLog.Use(zap.New(core))

	s := thirtyDaySchema(calendar.Epoch{Year: 1, MonthID: "jan", Day: 1})
	_, err := NewEvaluator(NewRegistry()).Occurrences(s, cal, Custom{CustomRuleID: "eclipse"}, day(1, "jan", 1), day(1, "jan", 1), day(2, "jan", 1))
	require.NoError(t, err)

	entries := logs.FilterField(zap.String("custom_rule_id", "eclipse")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
}

func TestCustom_InvalidStrategyOutput(t *testing.T) {
	t.Parallel()
	s := thirtyDaySchema(calendar.Epoch{Year: 1, MonthID: "jan", Day: 1})
	reg := NewRegistry()
	require.NoError(t, reg.Register("broken", StrategyFunc(func(*calendar.Schema, calendar.Timestamp, calendar.Timestamp, calendar.Timestamp) ([]calendar.Timestamp, error) {
		return []calendar.Timestamp{day(3, "feb", 31)}, nil
	})))

	_, err := NewEvaluator(reg).Occurrences(s, cal, Custom{CustomRuleID: "broken"}, day(1, "jan", 1), day(3, "jan", 1), day(4, "jan", 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRule))
	assert.True(t, errors.Is(err, calendar.ErrInvalidTimestamp))
}

func TestRRuleStrategy(t *testing.T) {
	t.Parallel()
	s := thirtyDaySchema(calendar.Epoch{Year: 1, MonthID: "jan", Day: 1})

	st, err := NewRRuleStrategy("RRULE:FREQ=DAILY;INTERVAL=3;COUNT=4")
	require.NoError(t, err)

	reg := NewRegistry()
	require.NoError(t, reg.Register("every-third-day", st))

	anchor := day(1500, "jun", 29)
	got, err := NewEvaluator(reg).Occurrences(s, cal, Custom{CustomRuleID: "every-third-day"}, anchor,
		day(1500, "jun", 1), day(1500, "aug", 1))
	require.NoError(t, err)
	assert.Equal(t, []calendar.Timestamp{
		day(1500, "jun", 29),
		day(1500, "jul", 2),
		day(1500, "jul", 5),
		day(1500, "jul", 8),
	}, got)

	for _, bad := range []string{"FREQ=WEEKLY", "FREQ=DAILY;BYDAY=MO", "FREQ=DAILY;UNTIL=20250101T000000Z", "nonsense"} {
		_, err := NewRRuleStrategy(bad)
		assert.Error(t, err, bad)
	}
}
