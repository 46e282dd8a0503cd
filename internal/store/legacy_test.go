package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbvault/internal/schedule"
)

const legacyYAML = `
theme: dark
backup_schedules:
  - id: sched-1
    name: nightly
    connection: primary
    database: shop
    enabled: true
    frequency: weekly
    run_time: "03:15"
    weekdays: [1, 3]
    output_directory: /var/backups
    compress: true
    compression_format: tar.gz
    retention_count: 5
    mode: fast
    last_run: 2024-03-01T03:15:00Z
backup_history:
  - id: hist-1
    schedule_id: sched-1
    schedule_name: nightly
    database: shop
    started_at: "2024-03-01T03:15:00Z"
    completed_at: 2024-03-01T03:16:00Z
    success: true
    healthy: true
    bytes_written: 4096
`

func TestStore_MigratesLegacyConfig(t *testing.T) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(legacy, []byte(legacyYAML), 0644))
	statePath := filepath.Join(dir, "state.json")

	st := New(statePath, WithLegacyConfig(legacy))
	schedules, err := st.LoadSchedules()
	require.NoError(t, err)
	require.Len(t, schedules, 1)

	sc := schedules[0]
	assert.Equal(t, "sched-1", sc.ID)
	assert.Equal(t, schedule.FrequencyWeekly, sc.Frequency)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, sc.Weekdays)
	assert.Equal(t, schedule.CompressionTarGz, sc.CompressionFormat)
	assert.Equal(t, schedule.ModeFast, sc.Mode)
	require.NotNil(t, sc.LastRun)
	assert.True(t, sc.LastRun.Equal(time.Date(2024, 3, 1, 3, 15, 0, 0, time.UTC)))

	history, err := st.History("", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(4096), history[0].BytesWritten)
	assert.Equal(t, time.Minute, history[0].Duration())

	_, err = os.Stat(statePath)
	assert.NoError(t, err, "migration writes the state file")

	// once the state file exists the legacy document is not consulted again
	require.NoError(t, os.WriteFile(legacy, []byte("backup_schedules: []\n"), 0644))
	again, err := New(statePath, WithLegacyConfig(legacy)).LoadSchedules()
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestStore_LegacyMigrationErrorsAreSwallowed(t *testing.T) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(legacy, []byte("backup_schedules: {broken: [\n"), 0644))

	st := New(filepath.Join(dir, "state.json"), WithLegacyConfig(legacy))
	schedules, err := st.LoadSchedules()
	require.NoError(t, err)
	assert.Empty(t, schedules)

	missing := New(filepath.Join(dir, "other.json"), WithLegacyConfig(filepath.Join(dir, "absent.yaml")))
	schedules, err = missing.LoadSchedules()
	require.NoError(t, err)
	assert.Empty(t, schedules)
}

func TestStore_MigratesLegacyJSON(t *testing.T) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, "settings.json")
	doc := `{"backup_schedules":[{"id":"s1","name":"json","connection":"primary","database":"crm","enabled":true,"frequency":"daily","run_time":"01:00","output_directory":"/b","retention_count":3,"mode":"standard","next_run":"2024-03-02T01:00:00Z"}]}`
	require.NoError(t, os.WriteFile(legacy, []byte(doc), 0644))

	schedules, err := New(filepath.Join(dir, "state.json"), WithLegacyConfig(legacy)).LoadSchedules()
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, "crm", schedules[0].DatabaseName)
	require.NotNil(t, schedules[0].NextRun)
}
