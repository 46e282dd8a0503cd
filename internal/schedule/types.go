package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Frequency selects the rule the planner uses to compute the next run
type Frequency string

const (
	FrequencyOnce           Frequency = "once"
	FrequencyDaily          Frequency = "daily"
	FrequencyWeekly         Frequency = "weekly"
	FrequencyMonthly        Frequency = "monthly"
	FrequencyCustomInterval Frequency = "custom_interval"
	FrequencyCron           Frequency = "cron"
)

// IsValid reports whether f is a known frequency
func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyCustomInterval, FrequencyCron:
		return true
	}
	return false
}

// CompressionFormat selects the archive produced for compressed schedules
type CompressionFormat string

const (
	CompressionZip    CompressionFormat = "zip"
	CompressionTarGz  CompressionFormat = "tar.gz"
	CompressionTarZst CompressionFormat = "tar.zst"
	CompressionTarLz4 CompressionFormat = "tar.lz4"
)

// IsValid reports whether c is a known compression format
func (c CompressionFormat) IsValid() bool {
	switch c {
	case CompressionZip, CompressionTarGz, CompressionTarZst, CompressionTarLz4:
		return true
	}
	return false
}

// Extension returns the file suffix of the archive, including the leading dot
func (c CompressionFormat) Extension() string {
	return "." + string(c)
}

// BackupMode selects how the dump is produced
type BackupMode string

const (
	ModeStandard     BackupMode = "standard"
	ModeFast         BackupMode = "fast"
	ModeExternalTool BackupMode = "external_tool"
)

// IsValid reports whether m is a known backup mode
func (m BackupMode) IsValid() bool {
	switch m {
	case ModeStandard, ModeFast, ModeExternalTool:
		return true
	}
	return false
}

// Origin records what triggered a run
type Origin string

const (
	OriginManual    Origin = "Manual"
	OriginScheduled Origin = "Scheduled"
)

// Schedule describes when, how and where a backup runs
type Schedule struct {
	ID                string            `json:"id" yaml:"id"`
	Name              string            `json:"name" yaml:"name"`
	ConnectionName    string            `json:"connection" yaml:"connection"`
	DatabaseName      string            `json:"database" yaml:"database"`
	Enabled           bool              `json:"enabled" yaml:"enabled"`
	Frequency         Frequency         `json:"frequency" yaml:"frequency"`
	RunTime           string            `json:"run_time" yaml:"run_time"`
	Weekdays          []time.Weekday    `json:"weekdays,omitempty" yaml:"weekdays,omitempty"`
	DayOfMonth        int               `json:"day_of_month,omitempty" yaml:"day_of_month,omitempty"`
	IntervalMinutes   int               `json:"interval_minutes,omitempty" yaml:"interval_minutes,omitempty"`
	CronExpression    string            `json:"cron_expression,omitempty" yaml:"cron_expression,omitempty"`
	OutputDirectory   string            `json:"output_directory" yaml:"output_directory"`
	Compress          bool              `json:"compress" yaml:"compress"`
	CompressionFormat CompressionFormat `json:"compression_format,omitempty" yaml:"compression_format,omitempty"`
	RetentionCount    int               `json:"retention_count" yaml:"retention_count"`
	Mode              BackupMode        `json:"mode" yaml:"mode"`
	UploadOffsite     bool              `json:"upload_offsite,omitempty" yaml:"upload_offsite,omitempty"`
	LastRun           *time.Time        `json:"last_run,omitempty" yaml:"last_run,omitempty"`
	NextRun           *time.Time        `json:"next_run,omitempty" yaml:"next_run,omitempty"`
	CreatedAt         time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" yaml:"updated_at"`
}

// New returns an enabled daily schedule at 02:00 with a fresh id
func New(name, connection, database string) *Schedule {
	now := time.Now()
	return &Schedule{
		ID:                uuid.New().String(),
		Name:              name,
		ConnectionName:    connection,
		DatabaseName:      database,
		Enabled:           true,
		Frequency:         FrequencyDaily,
		RunTime:           "02:00",
		CompressionFormat: CompressionZip,
		RetentionCount:    7,
		Mode:              ModeStandard,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Clone returns a deep copy of s
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	c := *s
	if s.Weekdays != nil {
		c.Weekdays = append([]time.Weekday(nil), s.Weekdays...)
	}
	c.LastRun = cloneTime(s.LastRun)
	c.NextRun = cloneTime(s.NextRun)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Reschedule recomputes NextRun from ref, keeping it nil for disabled or spent schedules
func (s *Schedule) Reschedule(ref time.Time) {
	s.NextRun = NextRun(s, ref)
}

// Slug is the directory name used for the schedule's artifacts
func (s *Schedule) Slug() string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s.Name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return s.ID
	}
	return slug
}

// ArtifactDir is the folder under OutputDirectory that holds this schedule's
// artifacts. It carries a short ID suffix so that two schedules whose names
// slug the same never share a folder, and so never prune each other.
func (s *Schedule) ArtifactDir() string {
	slug := s.Slug()
	if slug == s.ID {
		return slug
	}
	short := strings.ReplaceAll(s.ID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	if short == "" {
		return slug
	}
	return slug + "-" + short
}

// Validate checks the schedule's fields
func (s *Schedule) Validate() error {
	var errs ValidationErrors

	if s.ID == "" {
		errs.Add("id", "schedule ID is required", s.ID)
	}
	if strings.TrimSpace(s.Name) == "" {
		errs.Add("name", "schedule name is required", s.Name)
	}
	if s.ConnectionName == "" {
		errs.Add("connection", "connection reference is required", s.ConnectionName)
	}
	if s.OutputDirectory == "" {
		errs.Add("output_directory", "output directory is required", s.OutputDirectory)
	}
	if !s.Frequency.IsValid() {
		errs.Add("frequency", "unknown frequency", s.Frequency)
	}
	if s.Mode != "" && !s.Mode.IsValid() {
		errs.Add("mode", "unknown backup mode", s.Mode)
	}
	if s.Compress && !s.CompressionFormat.IsValid() {
		errs.Add("compression_format", "unknown compression format", s.CompressionFormat)
	}
	if s.RetentionCount < 0 {
		errs.Add("retention_count", "retention count cannot be negative", s.RetentionCount)
	}
	if s.RunTime != "" {
		if _, _, ok := parseRunTime(s.RunTime); !ok {
			errs.Add("run_time", "run time must be HH:MM", s.RunTime)
		}
	}
	for _, d := range s.Weekdays {
		if d < time.Sunday || d > time.Saturday {
			errs.Add("weekdays", "weekday out of range", d)
			break
		}
	}

	switch s.Frequency {
	case FrequencyMonthly:
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			errs.Add("day_of_month", "day of month must be between 1 and 31", s.DayOfMonth)
		}
	case FrequencyCron:
		if _, err := parseCron(s.CronExpression); err != nil {
			errs.Add("cron_expression", err.Error(), s.CronExpression)
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// HistoryEntry is the immutable record of one finished run
type HistoryEntry struct {
	ID              string     `json:"id" yaml:"id"`
	ScheduleID      string     `json:"schedule_id" yaml:"schedule_id"`
	ScheduleName    string     `json:"schedule_name" yaml:"schedule_name"`
	ConnectionName  string     `json:"connection" yaml:"connection"`
	DatabaseName    string     `json:"database" yaml:"database"`
	Origin          Origin     `json:"origin,omitempty" yaml:"origin,omitempty"`
	Mode            BackupMode `json:"mode,omitempty" yaml:"mode,omitempty"`
	StartedAt       time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt     time.Time  `json:"completed_at" yaml:"completed_at"`
	Success         bool       `json:"success" yaml:"success"`
	Canceled        bool       `json:"canceled,omitempty" yaml:"canceled,omitempty"`
	OutputPath      string     `json:"output_path,omitempty" yaml:"output_path,omitempty"`
	BytesWritten    int64      `json:"bytes_written" yaml:"bytes_written"`
	Hash            string     `json:"hash,omitempty" yaml:"hash,omitempty"`
	HashAlgorithm   string     `json:"hash_algorithm,omitempty" yaml:"hash_algorithm,omitempty"`
	Healthy         bool       `json:"healthy" yaml:"healthy"`
	HealthDetails   string     `json:"health_details,omitempty" yaml:"health_details,omitempty"`
	Message         string     `json:"message,omitempty" yaml:"message,omitempty"`
	OffsiteLocation string     `json:"offsite_location,omitempty" yaml:"offsite_location,omitempty"`
}

// NewHistoryEntry snapshots the identifying fields of s
func NewHistoryEntry(s *Schedule, origin Origin, startedAt time.Time) HistoryEntry {
	return HistoryEntry{
		ID:             uuid.New().String(),
		ScheduleID:     s.ID,
		ScheduleName:   s.Name,
		ConnectionName: s.ConnectionName,
		DatabaseName:   s.DatabaseName,
		Origin:         origin,
		Mode:           s.Mode,
		StartedAt:      startedAt,
	}
}

// Duration is the wall time of the run
func (h HistoryEntry) Duration() time.Duration {
	if h.CompletedAt.IsZero() {
		return 0
	}
	return h.CompletedAt.Sub(h.StartedAt)
}

// Status is a short label for listings
func (h HistoryEntry) Status() string {
	switch {
	case h.Canceled:
		return "canceled"
	case !h.Success:
		return "failed"
	case !h.Healthy:
		return "unhealthy"
	default:
		return "ok"
	}
}

// ValidationError describes one invalid field
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors collects field errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{Field: field, Message: message, Value: value})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}
