package engagement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int, hour int) time.Time {
	return time.Date(2026, time.March, d, hour, 0, 0, 0, time.UTC)
}

func TestFirstEngagementStartsStreak(t *testing.T) {
	next, changed := Touch(Streak{}, day(10, 9), time.UTC)
	require.True(t, changed)
	assert.Equal(t, 1, next.Current)
	assert.Equal(t, 1, next.Longest)
	assert.True(t, next.UpdatedToday)
	require.NotNil(t, next.LastActiveDate)
	assert.Equal(t, day(10, 9), *next.LastActiveDate)
}

func TestSameDayAlreadyCountedIsNoOp(t *testing.T) {
	last := day(10, 9)
	s := Streak{Current: 5, Longest: 5, LastActiveDate: &last, UpdatedToday: true}

	next, changed := Touch(s, day(10, 23), time.UTC)
	assert.False(t, changed)
	assert.Equal(t, s, next)
}

func TestSameDayNotCountedIncrements(t *testing.T) {
	last := day(10, 0)
	s := Streak{Current: 5, Longest: 5, LastActiveDate: &last, UpdatedToday: false}

	next, changed := Touch(s, day(10, 12), time.UTC)
	require.True(t, changed)
	assert.Equal(t, 6, next.Current)
	assert.Equal(t, 6, next.Longest)
	assert.True(t, next.UpdatedToday)
}

func TestNextDayContinuesStreak(t *testing.T) {
	last := day(10, 22)
	s := Streak{Current: 5, Longest: 5, LastActiveDate: &last, UpdatedToday: true}

	// One second past midnight still counts as the next day.
	next, changed := Touch(s, day(11, 0).Add(time.Second), time.UTC)
	require.True(t, changed)
	assert.Equal(t, 6, next.Current)
	assert.Equal(t, 6, next.Longest)
}

func TestGapBreaksStreak(t *testing.T) {
	last := day(10, 9)
	s := Streak{Current: 7, Longest: 12, LastActiveDate: &last, UpdatedToday: true}

	next, changed := Touch(s, day(13, 9), time.UTC)
	require.True(t, changed)
	assert.Equal(t, 1, next.Current)
	assert.Equal(t, 12, next.Longest, "longest streak survives a reset")
	assert.True(t, next.UpdatedToday)
}

func TestClockSkewIsIgnored(t *testing.T) {
	last := day(12, 9)
	s := Streak{Current: 3, Longest: 3, LastActiveDate: &last, UpdatedToday: true}

	next, changed := Touch(s, day(10, 9), time.UTC)
	assert.False(t, changed)
	assert.Equal(t, s, next)
}

func TestLongestOnlyMovesUp(t *testing.T) {
	last := day(10, 9)
	s := Streak{Current: 2, Longest: 30, LastActiveDate: &last, UpdatedToday: true}

	next, _ := Touch(s, day(11, 9), time.UTC)
	assert.Equal(t, 3, next.Current)
	assert.Equal(t, 30, next.Longest)
}

func TestDayBoundaryRespectsLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 03:00 UTC on the 11th is still the evening of the 10th in New York.
	last := time.Date(2026, time.March, 10, 20, 0, 0, 0, loc)
	s := Streak{Current: 1, Longest: 1, LastActiveDate: &last, UpdatedToday: true}

	next, changed := Touch(s, time.Date(2026, time.March, 11, 3, 0, 0, 0, time.UTC), loc)
	assert.False(t, changed)
	assert.Equal(t, 1, next.Current)
}

func TestConsecutiveDaysAccumulate(t *testing.T) {
	s := Streak{}
	for d := 1; d <= 9; d++ {
		var changed bool
		s, changed = Touch(s, day(d, 8), time.UTC)
		require.True(t, changed)
	}
	assert.Equal(t, 9, s.Current)
	assert.Equal(t, 9, s.Longest)
}
