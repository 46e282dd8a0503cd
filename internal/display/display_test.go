package display

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"dbvault/internal/config"
	"dbvault/internal/monitor"
	"dbvault/internal/schedule"
)

func plainService(format OutputFormat) (*Service, *bytes.Buffer) {
	var buf bytes.Buffer
	cfg := DefaultDisplayConfig()
	cfg.Writer = &buf
	cfg.OutputFormat = string(format)
	cfg.MaxTableWidth = 300
	icons := NewIconSystem(true)
	icons.SetUnicode(false)
	return newServiceWith(cfg, NewColorSystem(PlainTextTheme(), false), icons), &buf
}

func TestTable_Render(t *testing.T) {
	table := NewTable(nil)
	table.SetStyle(TableStyle{Border: ASCIIBorderStyle, HeaderSeparator: true, Padding: 1, MaxWidth: 100})
	table.SetHeaders("A", "BB")
	table.AddRow("x", "yyy")

	want := strings.Join([]string{
		"+---+-----+",
		"| A | BB  |",
		"+---+-----+",
		"| x | yyy |",
		"+---+-----+",
		"",
	}, "\n")
	assert.Equal(t, want, table.Render())
}

func TestTable_AlignmentAndTruncation(t *testing.T) {
	table := NewTable(nil)
	table.SetStyle(TableStyle{Border: ASCIIBorderStyle, Padding: 1, MaxWidth: 20})
	table.SetHeaders("NAME", "SIZE")
	table.SetColumnAlignment(1, AlignRight)
	table.AddRow("a-very-long-schedule-name", "1 B")

	out := table.Render()
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.LessOrEqual(t, len([]rune(line)), 20, line)
	}
	assert.Contains(t, out, "...")
	assert.Contains(t, out, "|  1 B |")
}

func TestTable_EmptyRendersNothing(t *testing.T) {
	assert.Empty(t, NewTable(nil).Render())
}

func TestTable_ColorsDoNotBreakPadding(t *testing.T) {
	colors := NewForcedColorSystem(DarkColorTheme())
	table := NewTable(colors)
	table.SetStyle(TableStyle{Border: ASCIIBorderStyle, Padding: 1, MaxWidth: 100})
	table.SetHeaders("STATUS")
	table.AddRow("ok")
	table.SetCellColor(func(_, _ int, value string) Color { return ColorGreen })

	out := table.Render()
	assert.Contains(t, out, "\x1b[")
	// the visible cell is still padded to the header width
	assert.Regexp(t, `ok\x1b\[[0-9;]*m     \|`, out)
}

func TestColorSystem(t *testing.T) {
	plain := NewColorSystem(DarkColorTheme(), false)
	assert.False(t, plain.IsColorSupported())
	assert.Equal(t, "text", plain.Colorize("text", ColorRed))

	forced := NewForcedColorSystem(DarkColorTheme())
	assert.True(t, forced.IsColorSupported())
	assert.NotEqual(t, "text", forced.Colorize("text", ColorRed))
	assert.Equal(t, "text", forced.Colorize("text", ColorReset))
	assert.Equal(t, "n=1", NewColorSystem(PlainTextTheme(), false).Sprintf(ColorBlue, "n=%d", 1))
}

func TestGetThemeByName(t *testing.T) {
	assert.Equal(t, LightColorTheme(), GetThemeByName("light"))
	assert.Equal(t, PlainTextTheme(), GetThemeByName("plain"))
	assert.Equal(t, DarkColorTheme(), GetThemeByName("unknown"))
}

func TestIconSystem(t *testing.T) {
	icons := NewIconSystem(true)
	icons.SetUnicode(false)
	assert.Equal(t, "[OK]", icons.Render("success"))
	icons.SetUnicode(true)
	assert.Equal(t, "✓", icons.Render("success"))
	assert.Equal(t, "?", icons.Render("nope"))
}

func TestDisplayConfig_Validate(t *testing.T) {
	cfg := DefaultDisplayConfig()
	require.NoError(t, cfg.Validate())

	cfg.OutputFormat = "xml"
	cfg.MaxTableWidth = 10
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output format")
	assert.Contains(t, err.Error(), "max table width")

	empty := &DisplayConfig{}
	empty.SetDefaults()
	assert.Equal(t, string(FormatTable), empty.OutputFormat)
	assert.Equal(t, 120, empty.MaxTableWidth)
}

func sampleSchedules() []*schedule.Schedule {
	next := time.Date(2024, 3, 2, 2, 0, 0, 0, time.Local)
	daily := schedule.New("nightly", "primary", "shop")
	daily.ID = "0123456789abcdef"
	daily.NextRun = &next

	weekly := schedule.New("weekly", "replica", "crm")
	weekly.Frequency = schedule.FrequencyWeekly
	weekly.Weekdays = []time.Weekday{time.Monday, time.Friday}
	weekly.Enabled = false
	return []*schedule.Schedule{daily, weekly}
}

func TestService_SchedulesTable(t *testing.T) {
	svc, buf := plainService(FormatTable)
	require.NoError(t, svc.Schedules(sampleSchedules()))

	out := buf.String()
	assert.Contains(t, out, "nightly")
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "daily at 02:00")
	assert.Contains(t, out, "weekly Mon,Fri at 02:00")
	assert.Contains(t, out, "off disabled")
	assert.Contains(t, out, "2024-03-02 02:00")
}

func TestService_SchedulesJSON(t *testing.T) {
	svc, buf := plainService(FormatJSON)
	require.NoError(t, svc.Schedules(sampleSchedules()))

	var decoded []schedule.Schedule
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "nightly", decoded[0].Name)
}

func TestService_EmptyListings(t *testing.T) {
	svc, buf := plainService(FormatTable)
	require.NoError(t, svc.Schedules(nil))
	require.NoError(t, svc.History(nil))
	require.NoError(t, svc.Tasks(nil))
	assert.Contains(t, buf.String(), "No schedules defined")
	assert.Contains(t, buf.String(), "No runs recorded")
	assert.Contains(t, buf.String(), "No backups running")
}

func TestService_HistoryYAML(t *testing.T) {
	svc, buf := plainService(FormatYAML)
	started := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)
	entries := []schedule.HistoryEntry{{
		ID: "h1", ScheduleName: "nightly", StartedAt: started,
		CompletedAt: started.Add(90 * time.Second), Success: true, Healthy: true,
	}}
	require.NoError(t, svc.History(entries))

	var decoded []map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "nightly", decoded[0]["schedule_name"])
}

func TestService_HistoryTable(t *testing.T) {
	svc, buf := plainService(FormatTable)
	started := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)
	entries := []schedule.HistoryEntry{
		{ScheduleName: "nightly", Origin: schedule.OriginScheduled, StartedAt: started,
			CompletedAt: started.Add(90 * time.Second), Success: true, Healthy: true,
			OutputPath: "/backups/shop.sql", BytesWritten: 2048},
		{ScheduleName: "nightly", Origin: schedule.OriginManual, StartedAt: started,
			CompletedAt: started.Add(time.Second), Message: "connection refused"},
	}
	require.NoError(t, svc.History(entries))

	out := buf.String()
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "2.0 KiB")
	assert.Contains(t, out, "/backups/shop.sql")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "connection refused")
}

func TestService_Tasks(t *testing.T) {
	svc, buf := plainService(FormatTable)
	require.NoError(t, svc.Tasks([]monitor.TaskStatus{{
		ID: "task-123456789", ScheduleName: "nightly", ConnectionLabel: "backup@db:3306",
		State: monitor.StateRunning, Paused: true, ProcessedTables: 3, TotalTables: 4, Percent: 75,
		Stage: "Dumping", CurrentTable: "orders",
	}}))

	out := buf.String()
	assert.Contains(t, out, "Running (paused)")
	assert.Contains(t, out, "3/4 75%")
	assert.Contains(t, out, "orders")
}

func TestService_CheckResult(t *testing.T) {
	svc, buf := plainService(FormatTable)
	result := &config.CheckResult{Items: []config.CheckItem{
		{Name: "configuration", Status: config.CheckOK, Detail: "valid"},
		{Name: "external dump tool", Status: config.CheckWarn, Detail: "mysqldump not found", Fix: "Install it"},
		{Name: "connection broken", Status: config.CheckFail, Detail: "host is required"},
	}}
	require.NoError(t, svc.CheckResult(result))

	out := buf.String()
	assert.Contains(t, out, "[OK] configuration")
	assert.Contains(t, out, "[WARN] external dump tool")
	assert.Contains(t, out, "-> Install it")
	assert.Contains(t, out, "Environment has problems")
}

func TestService_RunResult(t *testing.T) {
	svc, buf := plainService(FormatTable)
	started := time.Now()
	require.NoError(t, svc.RunResult(schedule.HistoryEntry{
		Success: true, Healthy: true, StartedAt: started, CompletedAt: started.Add(time.Second),
		Message: "Backup completed: 2 tables, 10 rows, 512 bytes", OutputPath: "/b/shop.zip",
		BytesWritten: 512, Hash: "abc", HashAlgorithm: "sha256", OffsiteLocation: "s3://bucket/shop.zip",
	}))
	require.NoError(t, svc.RunResult(schedule.HistoryEntry{Message: "dump failed"}))

	out := buf.String()
	assert.Contains(t, out, "[OK] Backup completed")
	assert.Contains(t, out, "sha256:abc")
	assert.Contains(t, out, "s3://bucket/shop.zip")
	assert.Contains(t, out, "[ERR] Backup failed: dump failed")
}

func TestService_QuietAndStructuredSuppressStatus(t *testing.T) {
	svc, buf := plainService(FormatJSON)
	svc.Info("hidden")
	svc.Success("hidden")
	svc.Error("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestDescribeSchedule(t *testing.T) {
	s := schedule.New("n", "c", "d")
	tests := []struct {
		mutate func(*schedule.Schedule)
		want   string
	}{
		{func(s *schedule.Schedule) {}, "daily at 02:00"},
		{func(s *schedule.Schedule) { s.Frequency = schedule.FrequencyOnce }, "once at 02:00"},
		{func(s *schedule.Schedule) { s.Frequency = schedule.FrequencyMonthly; s.DayOfMonth = 15 }, "monthly day 15 at 02:00"},
		{func(s *schedule.Schedule) { s.Frequency = schedule.FrequencyCustomInterval; s.IntervalMinutes = 90 }, "every 1h30m0s"},
		{func(s *schedule.Schedule) { s.Frequency = schedule.FrequencyCron; s.CronExpression = "0 3 * * *" }, "cron 0 3 * * *"},
	}
	for _, tt := range tests {
		c := s.Clone()
		tt.mutate(c)
		assert.Equal(t, tt.want, DescribeSchedule(c))
	}
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "0 B", HumanBytes(0))
	assert.Equal(t, "1023 B", HumanBytes(1023))
	assert.Equal(t, "1.0 KiB", HumanBytes(1024))
	assert.Equal(t, "1.5 MiB", HumanBytes(1536*1024))
}

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar("starting", &buf, NewColorSystem(PlainTextTheme(), false))
	bar.SetWidth(10)

	bar.Set(50, "orders")
	assert.Contains(t, buf.String(), "[█████░░░░░]  50.0% orders")

	bar.Set(150, "")
	assert.Contains(t, buf.String(), "100.0% orders")

	bar.Finish("done", true)
	assert.True(t, strings.HasSuffix(buf.String(), "done\n"))

	before := buf.Len()
	bar.Set(10, "late")
	assert.Equal(t, before, buf.Len())
}
