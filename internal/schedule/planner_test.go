package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func enabled(freq Frequency) *Schedule {
	s := New("nightly", "primary", "shop")
	s.Frequency = freq
	s.RunTime = "02:30"
	return s
}

func TestNextRun_Disabled(t *testing.T) {
	for _, freq := range []Frequency{FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyCustomInterval, FrequencyCron} {
		s := enabled(freq)
		s.Enabled = false
		s.CronExpression = "*/5 * * * *"
		assert.Nil(t, NextRun(s, at(2024, 3, 1, 0, 0)), "frequency %s", freq)
	}
}

func TestNextRun_Once(t *testing.T) {
	s := enabled(FrequencyOnce)
	ref := at(2024, 3, 1, 1, 0)

	next := NextRun(s, ref)
	require.NotNil(t, next)
	assert.Equal(t, at(2024, 3, 1, 2, 30), *next)

	last := ref
	s.LastRun = &last
	assert.Nil(t, NextRun(s, ref))
}

func TestNextRun_Daily(t *testing.T) {
	s := enabled(FrequencyDaily)

	tests := []struct {
		name string
		ref  time.Time
		want time.Time
	}{
		{"later today", at(2024, 3, 1, 1, 0), at(2024, 3, 1, 2, 30)},
		{"already passed", at(2024, 3, 1, 3, 0), at(2024, 3, 2, 2, 30)},
		{"exactly at run time", at(2024, 3, 1, 2, 30), at(2024, 3, 2, 2, 30)},
		{"month rollover", at(2024, 2, 29, 23, 0), at(2024, 3, 1, 2, 30)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := NextRun(s, tt.ref)
			require.NotNil(t, next)
			assert.Equal(t, tt.want, *next)
			assert.True(t, next.After(tt.ref))
			assert.LessOrEqual(t, next.Sub(tt.ref), 24*time.Hour)
			assert.Equal(t, 2, next.Hour())
			assert.Equal(t, 30, next.Minute())
		})
	}
}

func TestNextRun_DailyAlwaysWithinADay(t *testing.T) {
	s := enabled(FrequencyDaily)
	ref := at(2024, 1, 1, 0, 0)
	for i := 0; i < 24*60; i += 7 {
		r := ref.Add(time.Duration(i) * time.Minute)
		next := NextRun(s, r)
		require.NotNil(t, next)
		assert.True(t, next.After(r))
		assert.LessOrEqual(t, next.Sub(r), 24*time.Hour)
	}
}

func TestNextRun_Weekly(t *testing.T) {
	s := enabled(FrequencyWeekly)
	s.Weekdays = []time.Weekday{time.Monday, time.Wednesday}

	// 2024-03-07 is a Thursday
	thursday := at(2024, 3, 7, 12, 0)
	require.Equal(t, time.Thursday, thursday.Weekday())

	next := NextRun(s, thursday)
	require.NotNil(t, next)
	assert.Equal(t, at(2024, 3, 11, 2, 30), *next)
	assert.Equal(t, time.Monday, next.Weekday())

	t.Run("same day still ahead", func(t *testing.T) {
		monday := at(2024, 3, 11, 1, 0)
		next := NextRun(s, monday)
		require.NotNil(t, next)
		assert.Equal(t, at(2024, 3, 11, 2, 30), *next)
	})

	t.Run("same day passed moves to wednesday", func(t *testing.T) {
		monday := at(2024, 3, 11, 3, 0)
		next := NextRun(s, monday)
		require.NotNil(t, next)
		assert.Equal(t, at(2024, 3, 13, 2, 30), *next)
	})

	t.Run("only weekday passed rolls a full week", func(t *testing.T) {
		s := enabled(FrequencyWeekly)
		s.Weekdays = []time.Weekday{time.Monday}
		next := NextRun(s, at(2024, 3, 11, 3, 0))
		require.NotNil(t, next)
		assert.Equal(t, at(2024, 3, 18, 2, 30), *next)

		next = NextRun(s, at(2024, 3, 11, 2, 30))
		require.NotNil(t, next)
		assert.Equal(t, at(2024, 3, 18, 2, 30), *next, "a run time equal to ref is not after it")
	})

	t.Run("week wraps across the month end", func(t *testing.T) {
		s := enabled(FrequencyWeekly)
		s.Weekdays = []time.Weekday{time.Tuesday}
		// 2024-03-29 is a Friday
		next := NextRun(s, at(2024, 3, 29, 12, 0))
		require.NotNil(t, next)
		assert.Equal(t, at(2024, 4, 2, 2, 30), *next)
	})

	t.Run("empty set uses reference weekday", func(t *testing.T) {
		s := enabled(FrequencyWeekly)
		next := NextRun(s, thursday)
		require.NotNil(t, next)
		assert.Equal(t, at(2024, 3, 14, 2, 30), *next)
	})
}

func TestNextRun_Monthly(t *testing.T) {
	s := enabled(FrequencyMonthly)
	s.DayOfMonth = 31

	// April has 30 days
	next := NextRun(s, at(2024, 4, 10, 0, 0))
	require.NotNil(t, next)
	assert.Equal(t, at(2024, 4, 30, 2, 30), *next)

	t.Run("passed rolls to next month", func(t *testing.T) {
		next := NextRun(s, at(2024, 4, 30, 3, 0))
		require.NotNil(t, next)
		assert.Equal(t, at(2024, 5, 31, 2, 30), *next)
	})

	t.Run("february clamp", func(t *testing.T) {
		next := NextRun(s, at(2023, 1, 31, 3, 0))
		require.NotNil(t, next)
		assert.Equal(t, at(2023, 2, 28, 2, 30), *next)
	})

	t.Run("december wraps year", func(t *testing.T) {
		s := enabled(FrequencyMonthly)
		s.DayOfMonth = 5
		next := NextRun(s, at(2024, 12, 6, 0, 0))
		require.NotNil(t, next)
		assert.Equal(t, at(2025, 1, 5, 2, 30), *next)
	})
}

func TestNextRun_CustomInterval(t *testing.T) {
	s := enabled(FrequencyCustomInterval)
	s.IntervalMinutes = 30
	now := time.Now()

	next := NextRun(s, now)
	require.NotNil(t, next)
	assert.Equal(t, now.Add(30*time.Minute), *next)

	s.IntervalMinutes = 0
	next = NextRun(s, now)
	require.NotNil(t, next)
	assert.Equal(t, now.Add(time.Hour), *next)
}

func TestNextRun_Cron(t *testing.T) {
	s := enabled(FrequencyCron)
	s.CronExpression = "15 */6 * * *"

	next := NextRun(s, at(2024, 3, 1, 7, 0))
	require.NotNil(t, next)
	assert.Equal(t, at(2024, 3, 1, 12, 15), *next)

	s.CronExpression = "not a cron"
	assert.Nil(t, NextRun(s, at(2024, 3, 1, 7, 0)))
}

func TestNextRun_InvalidRunTimeFallsBackToMidnight(t *testing.T) {
	s := enabled(FrequencyDaily)
	s.RunTime = "25:99"

	next := NextRun(s, at(2024, 3, 1, 12, 0))
	require.NotNil(t, next)
	assert.Equal(t, at(2024, 3, 2, 0, 0), *next)
}

func TestNextRun_Pure(t *testing.T) {
	s := enabled(FrequencyWeekly)
	s.Weekdays = []time.Weekday{time.Friday}
	before := s.Clone()
	ref := at(2024, 3, 7, 12, 0)

	first := NextRun(s, ref)
	second := NextRun(s, ref)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, *first, *second)
	assert.Equal(t, before, s)
}

func TestNextRun_UsesReferenceLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	s := enabled(FrequencyDaily)

	ref := time.Date(2024, 3, 1, 1, 0, 0, 0, loc)
	next := NextRun(s, ref)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2024, 3, 1, 2, 30, 0, 0, loc), *next)
}
