// Package monitor keeps the in-memory registry of running and recently
// finished backup tasks, their progress and their log events.
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dbvault/internal/logging"
	"dbvault/internal/pause"
	"dbvault/internal/schedule"
)

const (
	// MaxRecentTasks bounds the list of finished tasks
	MaxRecentTasks = 50
	// MaxLogEntries bounds the log event buffer
	MaxLogEntries = 500

	StageCancelRequested = "Cancel requested"
	StagePaused          = "Paused"
)

// TaskState is the lifecycle state of a task
type TaskState string

const (
	StateRunning   TaskState = "Running"
	StateCompleted TaskState = "Completed"
	StateFailed    TaskState = "Failed"
	StateCancelled TaskState = "Cancelled"
)

// TaskStatus is a snapshot of one task
type TaskStatus struct {
	ID               string              `json:"id"`
	ScheduleID       string              `json:"schedule_id"`
	ScheduleName     string              `json:"schedule_name"`
	ConnectionLabel  string              `json:"connection"`
	Mode             schedule.BackupMode `json:"mode"`
	Origin           schedule.Origin     `json:"origin"`
	State            TaskState           `json:"state"`
	Cancelable       bool                `json:"cancelable"`
	Paused           bool                `json:"paused"`
	StartedAt        time.Time           `json:"started_at"`
	FinishedAt       *time.Time          `json:"finished_at,omitempty"`
	ProcessedTables  int                 `json:"processed_tables"`
	TotalTables      int                 `json:"total_tables"`
	CurrentTable     string              `json:"current_table,omitempty"`
	CurrentRows      int64               `json:"current_rows"`
	CurrentTableRows int64               `json:"current_table_rows"`
	RowsWritten      int64               `json:"rows_written"`
	Percent          float64             `json:"percent"`
	Stage            string              `json:"stage"`
	Message          string              `json:"message,omitempty"`
}

// Progress is one update reported by a running task
type Progress struct {
	Stage            string
	ProcessedTables  int
	TotalTables      int
	CurrentTable     string
	CurrentRows      int64
	CurrentTableRows int64
	RowsWritten      int64
}

// LogEntry is a line in the monitor's event log
type LogEntry struct {
	Time    time.Time `json:"time"`
	TaskID  string    `json:"task_id"`
	Message string    `json:"message"`
	IsError bool      `json:"is_error"`
}

// EventType identifies a monitor event
type EventType string

const (
	EventTaskStarted  EventType = "task_started"
	EventProgress     EventType = "progress"
	EventTaskFinished EventType = "task_finished"
	EventLogCreated   EventType = "log_created"
)

// Event is delivered to subscribers
type Event struct {
	Type EventType
	Task TaskStatus
	Log  *LogEntry
}

// Handle is returned by StartTask; Ctx is canceled by CancelTask
type Handle struct {
	ID  string
	Ctx context.Context
}

type task struct {
	status TaskStatus
	cancel context.CancelFunc
	token  *pause.Token
}

// Monitor is safe for concurrent use
type Monitor struct {
	mu        sync.Mutex
	active    map[string]*task
	recent    []TaskStatus
	logs      []LogEntry
	observers map[int]func(Event)
	nextObs   int
	logger    *logging.Logger
	now       func() time.Time
}

// New creates an empty monitor
func New(logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Monitor{
		active:    make(map[string]*task),
		observers: make(map[int]func(Event)),
		logger:    logger,
		now:       time.Now,
	}
}

// Subscribe registers fn for every event; the returned func unregisters it.
// fn is called synchronously outside the monitor lock.
func (m *Monitor) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

// StartTask registers a running task whose context derives from parent
func (m *Monitor) StartTask(parent context.Context, s *schedule.Schedule, connectionLabel string, cancelable bool, origin schedule.Origin) *Handle {
	ctx, cancel := context.WithCancel(parent)
	now := m.now()

	t := &task{
		status: TaskStatus{
			ID:              uuid.New().String(),
			ScheduleID:      s.ID,
			ScheduleName:    s.Name,
			ConnectionLabel: connectionLabel,
			Mode:            s.Mode,
			Origin:          origin,
			State:           StateRunning,
			Cancelable:      cancelable,
			StartedAt:       now,
			Stage:           "Starting",
		},
		cancel: cancel,
	}

	m.mu.Lock()
	m.active[t.status.ID] = t
	snapshot := t.status
	entry := m.appendLogLocked(snapshot.ID, "Backup started: "+s.Name, false)
	m.mu.Unlock()

	m.logger.WithFields(map[string]interface{}{
		"task_id":  snapshot.ID,
		"schedule": s.Name,
		"origin":   origin,
	}).Debug("Task started")

	m.emit(Event{Type: EventTaskStarted, Task: snapshot})
	m.emit(Event{Type: EventLogCreated, Task: snapshot, Log: &entry})

	return &Handle{ID: snapshot.ID, Ctx: ctx}
}

// AttachPauseToken lets PauseTask/ResumeTask/CancelTask reach the run's token
func (m *Monitor) AttachPauseToken(taskID string, token *pause.Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.active[taskID]; ok {
		t.token = token
	}
}

// UpdateProgress applies p to an active task; unknown ids are ignored
func (m *Monitor) UpdateProgress(taskID string, p Progress) {
	m.mu.Lock()
	t, ok := m.active[taskID]
	if !ok {
		m.mu.Unlock()
		return
	}

	st := &t.status
	st.ProcessedTables = p.ProcessedTables
	st.TotalTables = p.TotalTables
	st.CurrentTable = p.CurrentTable
	st.CurrentRows = p.CurrentRows
	st.CurrentTableRows = p.CurrentTableRows
	st.RowsWritten = p.RowsWritten
	if p.Stage != "" && st.Stage != StageCancelRequested && !st.Paused {
		st.Stage = p.Stage
	}
	if st.TotalTables > 0 {
		st.Percent = clampPercent(float64(st.ProcessedTables) / float64(st.TotalTables) * 100)
	}
	snapshot := *st
	m.mu.Unlock()

	m.emit(Event{Type: EventProgress, Task: snapshot})
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// CompleteTask finishes a task successfully
func (m *Monitor) CompleteTask(taskID, message string) {
	m.finish(taskID, StateCompleted, message, false)
}

// FailTask finishes a task with an error
func (m *Monitor) FailTask(taskID, message string) {
	m.finish(taskID, StateFailed, message, true)
}

// MarkCancelled finishes a task that stopped on user request
func (m *Monitor) MarkCancelled(taskID, message string) {
	m.finish(taskID, StateCancelled, message, false)
}

func (m *Monitor) finish(taskID string, state TaskState, message string, isError bool) {
	m.mu.Lock()
	t, ok := m.active[taskID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.active, taskID)

	now := m.now()
	st := t.status
	st.State = state
	st.FinishedAt = &now
	st.Message = message
	st.Cancelable = false
	st.Paused = false
	st.Stage = string(state)
	if state == StateCompleted {
		st.Percent = 100
	}

	m.recent = append([]TaskStatus{st}, m.recent...)
	if len(m.recent) > MaxRecentTasks {
		m.recent = m.recent[:MaxRecentTasks]
	}
	entry := m.appendLogLocked(taskID, st.ScheduleName+": "+message, isError)
	m.mu.Unlock()

	// release the context's resources; the run has already returned
	t.cancel()

	m.emit(Event{Type: EventTaskFinished, Task: st})
	m.emit(Event{Type: EventLogCreated, Task: st, Log: &entry})
}

// CancelTask requests cancellation of a running task. Any attached pause
// token is resumed before the context is canceled so a paused run can
// observe the cancellation. It returns false when the task is unknown or
// not cancelable.
func (m *Monitor) CancelTask(taskID string) bool {
	m.mu.Lock()
	t, ok := m.active[taskID]
	if !ok || !t.status.Cancelable {
		m.mu.Unlock()
		return false
	}
	t.status.Cancelable = false
	t.status.Paused = false
	t.status.Stage = StageCancelRequested
	token, cancel := t.token, t.cancel
	snapshot := t.status
	m.mu.Unlock()

	if token != nil {
		token.Resume()
	}
	cancel()

	m.logger.WithField("task_id", taskID).Info("Cancellation requested")
	m.emit(Event{Type: EventProgress, Task: snapshot})
	return true
}

// PauseTask pauses a task that has a pause token attached
func (m *Monitor) PauseTask(taskID string) bool {
	return m.setPaused(taskID, true)
}

// ResumeTask resumes a paused task
func (m *Monitor) ResumeTask(taskID string) bool {
	return m.setPaused(taskID, false)
}

func (m *Monitor) setPaused(taskID string, paused bool) bool {
	m.mu.Lock()
	t, ok := m.active[taskID]
	if !ok || t.token == nil || !t.status.Cancelable {
		m.mu.Unlock()
		return false
	}
	if paused {
		t.token.Pause()
		t.status.Stage = StagePaused
	} else {
		t.token.Resume()
		t.status.Stage = "Resumed"
	}
	t.status.Paused = paused
	snapshot := t.status
	m.mu.Unlock()

	m.emit(Event{Type: EventProgress, Task: snapshot})
	return true
}

// Get returns the task with id from the active or recent list
func (m *Monitor) Get(taskID string) (TaskStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.active[taskID]; ok {
		return t.status, true
	}
	for _, st := range m.recent {
		if st.ID == taskID {
			return st, true
		}
	}
	return TaskStatus{}, false
}

// ActiveTasks returns running tasks, oldest first
func (m *Monitor) ActiveTasks() []TaskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TaskStatus, 0, len(m.active))
	for _, t := range m.active {
		out = append(out, t.status)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// RecentTasks returns finished tasks, newest first
func (m *Monitor) RecentTasks() []TaskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TaskStatus(nil), m.recent...)
}

// Logs returns the buffered log entries, oldest first
func (m *Monitor) Logs() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogEntry(nil), m.logs...)
}

func (m *Monitor) appendLogLocked(taskID, message string, isError bool) LogEntry {
	entry := LogEntry{Time: m.now(), TaskID: taskID, Message: message, IsError: isError}
	m.logs = append(m.logs, entry)
	if over := len(m.logs) - MaxLogEntries; over > 0 {
		m.logs = append([]LogEntry(nil), m.logs[over:]...)
	}
	return entry
}

func (m *Monitor) emit(ev Event) {
	m.mu.Lock()
	observers := make([]func(Event), 0, len(m.observers))
	ids := make([]int, 0, len(m.observers))
	for id := range m.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		observers = append(observers, m.observers[id])
	}
	m.mu.Unlock()

	for _, fn := range observers {
		fn(ev)
	}
}
