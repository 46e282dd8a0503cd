package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultIntervalMinutes = 60

// NextRun computes the next activation of s strictly after ref, in ref's location.
// It returns nil when the schedule is disabled, spent (Once with a last run) or
// carries an unusable cron expression.
func NextRun(s *Schedule, ref time.Time) *time.Time {
	if s == nil || !s.Enabled {
		return nil
	}

	var next time.Time
	switch s.Frequency {
	case FrequencyOnce:
		if s.LastRun != nil {
			return nil
		}
		next = nextDaily(s, ref)
	case FrequencyWeekly:
		next = nextWeekly(s, ref)
	case FrequencyMonthly:
		next = nextMonthly(s, ref)
	case FrequencyCustomInterval:
		minutes := s.IntervalMinutes
		if minutes <= 0 {
			minutes = defaultIntervalMinutes
		}
		next = ref.Add(time.Duration(minutes) * time.Minute)
	case FrequencyCron:
		sched, err := parseCron(s.CronExpression)
		if err != nil {
			return nil
		}
		next = sched.Next(ref)
		if next.IsZero() {
			return nil
		}
	default:
		next = nextDaily(s, ref)
	}
	return &next
}

func nextDaily(s *Schedule, ref time.Time) time.Time {
	hour, minute := runTimeOf(s)
	candidate := time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, 0, 0, ref.Location())
	if !candidate.After(ref) {
		candidate = time.Date(ref.Year(), ref.Month(), ref.Day()+1, hour, minute, 0, 0, ref.Location())
	}
	return candidate
}

// nextWeekly returns the first selected weekday whose run time is after ref.
// With no weekdays selected the schedule runs on ref's weekday.
func nextWeekly(s *Schedule, ref time.Time) time.Time {
	hour, minute := runTimeOf(s)

	selected := make(map[time.Weekday]bool, len(s.Weekdays))
	for _, d := range s.Weekdays {
		selected[d] = true
	}
	if len(selected) == 0 {
		selected[ref.Weekday()] = true
	}

	for offset := 0; offset < 7; offset++ {
		day := (ref.Weekday() + time.Weekday(offset)) % 7
		if !selected[day] {
			continue
		}
		candidate := time.Date(ref.Year(), ref.Month(), ref.Day()+offset, hour, minute, 0, 0, ref.Location())
		if candidate.After(ref) {
			return candidate
		}
	}
	// only ref's weekday is selected and its run time has passed
	return time.Date(ref.Year(), ref.Month(), ref.Day()+7, hour, minute, 0, 0, ref.Location())
}

func nextMonthly(s *Schedule, ref time.Time) time.Time {
	hour, minute := runTimeOf(s)
	day := s.DayOfMonth
	if day < 1 {
		day = 1
	}

	candidate := monthlyCandidate(ref.Year(), ref.Month(), day, hour, minute, ref.Location())
	if !candidate.After(ref) {
		candidate = monthlyCandidate(ref.Year(), ref.Month()+1, day, hour, minute, ref.Location())
	}
	return candidate
}

func monthlyCandidate(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	// normalise month overflow before clamping
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	if last := daysIn(first.Year(), first.Month(), loc); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, minute, 0, 0, loc)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// runTimeOf falls back to midnight for an unparseable run time
func runTimeOf(s *Schedule) (int, int) {
	hour, minute, ok := parseRunTime(s.RunTime)
	if !ok {
		return 0, 0
	}
	return hour, minute
}

func parseRunTime(value string) (int, int, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Hour(), t.Minute(), true
		}
	}
	return 0, 0, false
}

func parseCron(expr string) (cron.Schedule, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("cron expression is required")
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}
