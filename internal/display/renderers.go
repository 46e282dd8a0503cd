package display

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"dbvault/internal/config"
	"dbvault/internal/monitor"
	"dbvault/internal/schedule"
)

const timeLayout = "2006-01-02 15:04"

// Schedules prints one row per schedule
func (s *Service) Schedules(schedules []*schedule.Schedule) error {
	if s.Structured() {
		return s.Encode(schedules)
	}
	if len(schedules) == 0 {
		s.Info("No schedules defined")
		return nil
	}

	t := s.NewTable()
	t.SetHeaders("NAME", "ID", "CONNECTION", "DATABASE", "WHEN", "MODE", "STATE", "LAST RUN", "NEXT RUN")
	for _, sc := range schedules {
		state := s.icons.Render("disabled") + " disabled"
		if sc.Enabled {
			state = s.icons.Render("enabled") + " enabled"
		}
		t.AddRow(
			sc.Name,
			shortID(sc.ID),
			sc.ConnectionName,
			sc.DatabaseName,
			DescribeSchedule(sc),
			string(sc.Mode),
			state,
			formatTimePtr(sc.LastRun),
			formatTimePtr(sc.NextRun),
		)
	}
	theme := s.colors.Theme()
	t.SetCellColor(func(_, col int, value string) Color {
		if col == 6 && strings.HasSuffix(value, "disabled") {
			return theme.Muted
		}
		return ColorReset
	})
	t.RenderTo(s.writer)
	return nil
}

// History prints finished runs, newest first as given
func (s *Service) History(entries []schedule.HistoryEntry) error {
	if s.Structured() {
		return s.Encode(entries)
	}
	if len(entries) == 0 {
		s.Info("No runs recorded")
		return nil
	}

	t := s.NewTable()
	t.SetHeaders("STARTED", "SCHEDULE", "ORIGIN", "STATUS", "DURATION", "SIZE", "RESULT")
	t.SetColumnAlignment(4, AlignRight)
	t.SetColumnAlignment(5, AlignRight)
	for _, e := range entries {
		result := e.OutputPath
		if !e.Success || result == "" {
			result = e.Message
		}
		t.AddRow(
			e.StartedAt.Local().Format(timeLayout),
			e.ScheduleName,
			string(e.Origin),
			e.Status(),
			e.Duration().Round(time.Second).String(),
			HumanBytes(e.BytesWritten),
			result,
		)
	}
	theme := s.colors.Theme()
	t.SetCellColor(func(_, col int, value string) Color {
		if col != 3 {
			return ColorReset
		}
		return statusColor(theme, value)
	})
	t.RenderTo(s.writer)
	return nil
}

// Tasks prints active or recent monitor tasks
func (s *Service) Tasks(tasks []monitor.TaskStatus) error {
	if s.Structured() {
		return s.Encode(tasks)
	}
	if len(tasks) == 0 {
		s.Info("No backups running")
		return nil
	}

	t := s.NewTable()
	t.SetHeaders("TASK", "SCHEDULE", "TARGET", "ORIGIN", "STATE", "STAGE", "PROGRESS", "TABLE")
	t.SetColumnAlignment(6, AlignRight)
	for _, task := range tasks {
		state := string(task.State)
		if task.Paused {
			state += " (paused)"
		}
		progress := fmt.Sprintf("%.0f%%", task.Percent)
		if task.TotalTables > 0 {
			progress = fmt.Sprintf("%d/%d %s", task.ProcessedTables, task.TotalTables, progress)
		}
		t.AddRow(
			shortID(task.ID),
			task.ScheduleName,
			task.ConnectionLabel,
			string(task.Origin),
			state,
			task.Stage,
			progress,
			task.CurrentTable,
		)
	}
	t.RenderTo(s.writer)
	return nil
}

// CheckResult prints the environment checks with a fix hint under each problem
func (s *Service) CheckResult(result *config.CheckResult) error {
	if s.Structured() {
		return s.Encode(result)
	}

	s.Header("dbvault environment check")
	for _, item := range result.Items {
		icon := "success"
		switch item.Status {
		case config.CheckWarn:
			icon = "warning"
		case config.CheckFail:
			icon = "error"
		}
		fmt.Fprintf(s.writer, "%s %-22s %s\n", s.icons.RenderWithColor(icon, s.colors), item.Name, item.Detail)
		if item.Fix != "" && item.Status != config.CheckOK {
			fmt.Fprintf(s.writer, "    %s %s\n", s.icons.Render("arrow"), item.Fix)
		}
	}
	fmt.Fprintln(s.writer)
	if result.Healthy() {
		s.Success("Environment is ready")
	} else {
		s.Error("Environment has problems")
	}
	return nil
}

// RunResult prints the outcome of one backup run
func (s *Service) RunResult(entry schedule.HistoryEntry) error {
	if s.Structured() {
		return s.Encode(entry)
	}

	switch entry.Status() {
	case "ok":
		s.Success(entry.Message)
	case "unhealthy":
		s.Warning(entry.Message)
	case "canceled":
		s.Warning("Backup " + entry.Message)
	default:
		s.Error("Backup failed: " + entry.Message)
		return nil
	}
	if entry.OutputPath == "" {
		return nil
	}

	rows := [][2]string{
		{"Artifact", entry.OutputPath},
		{"Size", HumanBytes(entry.BytesWritten)},
		{"Duration", entry.Duration().Round(time.Millisecond).String()},
	}
	if entry.Hash != "" {
		rows = append(rows, [2]string{"Checksum", entry.HashAlgorithm + ":" + entry.Hash})
	}
	if entry.HealthDetails != "" {
		rows = append(rows, [2]string{"Health", entry.HealthDetails})
	}
	if entry.OffsiteLocation != "" {
		rows = append(rows, [2]string{"Offsite", entry.OffsiteLocation})
	}
	for _, row := range rows {
		fmt.Fprintf(s.writer, "  %-9s %s\n", row[0]+":", row[1])
	}
	return nil
}

// DescribeSchedule is a short human form of the timing rule
func DescribeSchedule(sc *schedule.Schedule) string {
	at := sc.RunTime
	if at == "" {
		at = "00:00"
	}
	switch sc.Frequency {
	case schedule.FrequencyOnce:
		return "once at " + at
	case schedule.FrequencyWeekly:
		days := make([]string, 0, len(sc.Weekdays))
		for _, d := range sc.Weekdays {
			days = append(days, d.String()[:3])
		}
		if len(days) == 0 {
			days = append(days, "Sun")
		}
		return fmt.Sprintf("weekly %s at %s", strings.Join(days, ","), at)
	case schedule.FrequencyMonthly:
		day := sc.DayOfMonth
		if day <= 0 {
			day = 1
		}
		return fmt.Sprintf("monthly day %d at %s", day, at)
	case schedule.FrequencyCustomInterval:
		minutes := sc.IntervalMinutes
		if minutes <= 0 {
			minutes = 60
		}
		return "every " + (time.Duration(minutes) * time.Minute).String()
	case schedule.FrequencyCron:
		return "cron " + sc.CronExpression
	default:
		return "daily at " + at
	}
}

// HumanBytes formats a size with binary units
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func statusColor(theme ColorTheme, status string) Color {
	switch status {
	case "ok":
		return theme.Success
	case "failed":
		return theme.Error
	case "canceled", "unhealthy":
		return theme.Warning
	}
	return ColorReset
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
