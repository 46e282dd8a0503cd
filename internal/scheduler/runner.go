// Package scheduler drives scheduled backups: a polling loop asks the planner
// which schedules are due, runs them one at a time through the backup
// executor and records the outcome in the state store and task monitor.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dbvault/internal/backup"
	"dbvault/internal/database"
	apperrors "dbvault/internal/errors"
	"dbvault/internal/health"
	"dbvault/internal/logging"
	"dbvault/internal/monitor"
	"dbvault/internal/notify"
	"dbvault/internal/pause"
	"dbvault/internal/schedule"
	"dbvault/internal/store"
)

const (
	DefaultInterval     = time.Minute
	DefaultInitialDelay = 10 * time.Second

	// CanceledMessage is the history message of a run whose task was canceled
	CanceledMessage = "canceled by user"
	// ShutdownMessage is the history message of a run cut short because the
	// runner stopped or the caller's context ended
	ShutdownMessage = "canceled by shutdown"
)

var (
	// ErrScheduleBusy is returned by RunNow while the schedule is executing
	ErrScheduleBusy = errors.New("schedule is already running")
	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("scheduler already started")
)

// ConnectionResolver turns a schedule's connection reference into a
// decrypted connection profile
type ConnectionResolver interface {
	Resolve(name string) (database.DatabaseConfig, error)
}

// ScheduleStore is the part of the state store the runner needs
type ScheduleStore interface {
	EnabledSchedules() ([]*schedule.Schedule, error)
	GetSchedule(idOrName string) (*schedule.Schedule, error)
	UpdateRunTimes(id string, lastRun, nextRun *time.Time) error
	AppendHistory(entry schedule.HistoryEntry) error
}

// BackupExecutor produces one artifact per call
type BackupExecutor interface {
	Execute(ctx context.Context, target backup.Target, sched *schedule.Schedule, sink backup.ProgressFunc, token *pause.Token) (*backup.Result, error)
}

// Config controls the polling cadence
type Config struct {
	Interval     time.Duration `mapstructure:"interval" yaml:"interval"`
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
}

// DefaultConfig polls every minute after a ten second delay
func DefaultConfig() Config {
	return Config{Interval: DefaultInterval, InitialDelay: DefaultInitialDelay}
}

// SetDefaults fills zero values
func (c *Config) SetDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = DefaultInitialDelay
	}
}

// Deps are the collaborators of a Runner. Notifier and Logger may be nil.
type Deps struct {
	Store    ScheduleStore
	Executor BackupExecutor
	Resolver ConnectionResolver
	Monitor  *monitor.Monitor
	Notifier notify.Notifier
	Logger   *logging.Logger
}

// Runner is the polling loop plus the manual run path
type Runner struct {
	store    ScheduleStore
	executor BackupExecutor
	resolver ConnectionResolver
	monitor  *monitor.Monitor
	notifier notify.Notifier
	logger   *logging.Logger
	config   Config

	now    func() time.Time
	verify func(path string, compressed bool) (bool, string)

	mu       sync.Mutex
	checking bool
	running  map[string]bool
	cancel   context.CancelFunc
	done     chan struct{}

	wake chan struct{}
}

// NewRunner creates a stopped runner
func NewRunner(deps Deps, config Config) *Runner {
	config.SetDefaults()
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard{}
	}
	if deps.Monitor == nil {
		deps.Monitor = monitor.New(deps.Logger)
	}
	return &Runner{
		store:    deps.Store,
		executor: deps.Executor,
		resolver: deps.Resolver,
		monitor:  deps.Monitor,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		config:   config,
		now:      time.Now,
		verify:   health.Verify,
		running:  make(map[string]bool),
		wake:     make(chan struct{}, 1),
	}
}

// Start launches the polling loop. The loop and any run it started stop
// when ctx ends or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(loopCtx, r.done)

	r.logger.WithFields(map[string]interface{}{
		"interval":      r.config.Interval.String(),
		"initial_delay": r.config.InitialDelay.String(),
	}).Info("Scheduler started")
	return nil
}

// Stop ends the loop and waits for it to exit
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.logger.Info("Scheduler stopped")
}

// SchedulesChanged makes the loop check again without waiting for the next tick
func (r *Runner) SchedulesChanged() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	delay := time.NewTimer(r.config.InitialDelay)
	defer delay.Stop()

	select {
	case <-ctx.Done():
		return
	case <-delay.C:
	case <-r.wake:
	}
	r.Check(ctx)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.wake:
		}
		r.Check(ctx)
	}
}

// Check runs every due schedule once, serially. A call made while another
// check is in progress returns immediately.
func (r *Runner) Check(ctx context.Context) {
	r.mu.Lock()
	if r.checking {
		r.mu.Unlock()
		r.logger.Debug("Schedule check already in progress, tick dropped")
		return
	}
	r.checking = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.checking = false
		r.mu.Unlock()
	}()

	started := r.now()
	schedules, err := r.store.EnabledSchedules()
	if err != nil {
		r.logger.WithField("error", err.Error()).Error("Failed to load schedules")
		return
	}

	var due, backfilled int
	for _, s := range schedules {
		if ctx.Err() != nil {
			break
		}
		now := r.now()

		if s.NextRun == nil {
			if next := schedule.NextRun(s, now); next != nil {
				if err := r.store.UpdateRunTimes(s.ID, nil, next); err != nil {
					r.logger.WithFields(map[string]interface{}{
						"schedule": s.Name,
						"error":    err.Error(),
					}).Warn("Failed to store next run")
				}
				backfilled++
			}
			continue
		}
		if s.NextRun.After(now) {
			continue
		}

		due++
		if !r.acquire(s.ID) {
			r.logger.WithField("schedule", s.Name).Info("Schedule is already running, skipped")
			continue
		}
		r.runSchedule(ctx, s, schedule.OriginScheduled)
		r.release(s.ID)
	}

	r.logger.LogScheduleCheck(len(schedules), due, backfilled, r.now().Sub(started))
}

// RunNow executes one schedule immediately, enabled or not, and returns the
// recorded history entry. A run that fails or is canceled is reported in the
// entry, not as an error.
func (r *Runner) RunNow(ctx context.Context, idOrName string) (*schedule.HistoryEntry, error) {
	s, err := r.store.GetSchedule(idOrName)
	if err != nil {
		return nil, err
	}
	if !r.acquire(s.ID) {
		return nil, fmt.Errorf("%w: %s", ErrScheduleBusy, s.Name)
	}
	defer r.release(s.ID)

	entry := r.runSchedule(ctx, s, schedule.OriginManual)
	return &entry, nil
}

func (r *Runner) acquire(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[id] {
		return false
	}
	r.running[id] = true
	return true
}

func (r *Runner) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, id)
}

func (r *Runner) runSchedule(ctx context.Context, s *schedule.Schedule, origin schedule.Origin) schedule.HistoryEntry {
	target, resolveErr := r.resolveTarget(s)

	handle := r.monitor.StartTask(ctx, s, target.Label, true, origin)
	token := pause.NewToken()
	r.monitor.AttachPauseToken(handle.ID, token)

	// the task id doubles as the correlation id of every log line of the run
	runCtx := logging.ContextWithCorrelationID(handle.Ctx, handle.ID)
	finish := r.logger.LogOperationStart("scheduled_backup", map[string]interface{}{
		"schedule":       s.Name,
		"origin":         string(origin),
		"correlation_id": handle.ID,
	})

	entry := schedule.NewHistoryEntry(s, origin, r.now())

	var result *backup.Result
	err := resolveErr
	if err == nil {
		result, err = r.executor.Execute(runCtx, target, s, func(p backup.Progress) {
			r.monitor.UpdateProgress(handle.ID, toMonitorProgress(p))
		}, token)
	}
	entry.CompletedAt = r.now()
	finish(err)

	switch {
	case apperrors.IsCanceled(err):
		entry.Canceled = true
		entry.Message = CanceledMessage
		if ctx.Err() != nil {
			entry.Message = ShutdownMessage
		}
		r.monitor.MarkCancelled(handle.ID, entry.Message)
	case err != nil:
		entry.Message = err.Error()
		r.monitor.FailTask(handle.ID, entry.Message)
	default:
		entry.Success = true
		entry.OutputPath = result.Path
		entry.BytesWritten = result.Bytes
		entry.Hash = result.Hash
		entry.HashAlgorithm = result.HashAlgorithm
		entry.OffsiteLocation = result.OffsiteLocation
		entry.Healthy, entry.HealthDetails = r.verify(result.Path, result.Compressed)
		entry.Message = successMessage(result, entry.Healthy, entry.HealthDetails)
		r.monitor.CompleteTask(handle.ID, entry.Message)
	}

	r.recordRun(s, entry)
	r.notifier.Notify(ctx, notificationFor(entry))
	return entry
}

func (r *Runner) resolveTarget(s *schedule.Schedule) (backup.Target, error) {
	target := backup.Target{Label: s.ConnectionName}
	if r.resolver == nil {
		return target, apperrors.NewPreconditionError("no connection resolver configured")
	}
	cfg, err := r.resolver.Resolve(s.ConnectionName)
	if err != nil {
		return target, apperrors.NewPreconditionError(fmt.Sprintf("connection %q: %v", s.ConnectionName, err))
	}
	target.Connection = cfg
	target.Label = cfg.Label()
	return target, nil
}

// recordRun stores the new run times on the current copy of the schedule
// and appends the history entry. Store failures are logged only.
func (r *Runner) recordRun(s *schedule.Schedule, entry schedule.HistoryEntry) {
	completed := entry.CompletedAt

	current, err := r.store.GetSchedule(s.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		r.logger.WithField("schedule", s.Name).Debug("Schedule removed during run, run times not stored")
	case err != nil:
		r.logger.WithFields(map[string]interface{}{
			"schedule": s.Name,
			"error":    err.Error(),
		}).Warn("Failed to reload schedule")
	default:
		current.LastRun = &completed
		next := schedule.NextRun(current, completed)
		if err := r.store.UpdateRunTimes(current.ID, &completed, next); err != nil {
			r.logger.WithFields(map[string]interface{}{
				"schedule": s.Name,
				"error":    err.Error(),
			}).Warn("Failed to store run times")
		}
	}

	if err := r.store.AppendHistory(entry); err != nil {
		r.logger.WithFields(map[string]interface{}{
			"schedule": s.Name,
			"error":    err.Error(),
		}).Warn("Failed to append history")
	}
}

func successMessage(result *backup.Result, healthy bool, details string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Backup completed: %d tables, %d rows, %d bytes", result.Tables, result.Rows, result.Bytes)
	if !healthy {
		fmt.Fprintf(&b, "; health check failed: %s", details)
	}
	if result.OffsiteError != "" {
		fmt.Fprintf(&b, "; offsite upload failed: %s", result.OffsiteError)
	} else if result.OffsiteLocation != "" {
		fmt.Fprintf(&b, "; copied to %s", result.OffsiteLocation)
	}
	return b.String()
}

func notificationFor(entry schedule.HistoryEntry) notify.Notification {
	n := notify.Notification{
		Message:      entry.Message,
		ScheduleID:   entry.ScheduleID,
		ScheduleName: entry.ScheduleName,
		DatabaseName: entry.DatabaseName,
		OutputPath:   entry.OutputPath,
		Success:      entry.Success,
		Timestamp:    entry.CompletedAt,
	}
	switch {
	case entry.Canceled:
		n.Title = "Backup canceled: " + entry.ScheduleName
		n.Severity = notify.SeverityWarning
	case !entry.Success:
		n.Title = "Backup failed: " + entry.ScheduleName
		n.Severity = notify.SeverityError
	case !entry.Healthy:
		n.Title = "Backup completed with warnings: " + entry.ScheduleName
		n.Severity = notify.SeverityWarning
	default:
		n.Title = "Backup completed: " + entry.ScheduleName
		n.Severity = notify.SeverityInfo
	}
	return n
}

func toMonitorProgress(p backup.Progress) monitor.Progress {
	return monitor.Progress{
		Stage:            p.Stage,
		ProcessedTables:  p.ProcessedTables,
		TotalTables:      p.TotalTables,
		CurrentTable:     p.CurrentTable,
		CurrentRows:      p.CurrentRows,
		CurrentTableRows: p.CurrentTableRows,
		RowsWritten:      p.RowsWritten,
	}
}
