package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbvault/internal/pause"
	"dbvault/internal/schedule"
)

func testSchedule() *schedule.Schedule {
	s := schedule.New("nightly", "primary", "shop")
	s.OutputDirectory = "/backups"
	return s
}

func TestMonitor_StartTask(t *testing.T) {
	m := New(nil)
	var events []EventType
	m.Subscribe(func(ev Event) { events = append(events, ev.Type) })

	h := m.StartTask(context.Background(), testSchedule(), "primary (localhost)", true, schedule.OriginManual)
	require.NotEmpty(t, h.ID)
	require.NoError(t, h.Ctx.Err())

	st, ok := m.Get(h.ID)
	require.True(t, ok)
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, schedule.OriginManual, st.Origin)
	assert.True(t, st.Cancelable)
	assert.Len(t, m.ActiveTasks(), 1)
	assert.Equal(t, []EventType{EventTaskStarted, EventLogCreated}, events)
	assert.Len(t, m.Logs(), 1)
}

func TestMonitor_UpdateProgressPercent(t *testing.T) {
	m := New(nil)
	h := m.StartTask(context.Background(), testSchedule(), "primary", true, schedule.OriginScheduled)

	m.UpdateProgress(h.ID, Progress{Stage: "Dumping", ProcessedTables: 0, TotalTables: 0})
	st, _ := m.Get(h.ID)
	assert.Zero(t, st.Percent)

	m.UpdateProgress(h.ID, Progress{Stage: "Dumping", ProcessedTables: 1, TotalTables: 4, CurrentTable: "users"})
	st, _ = m.Get(h.ID)
	assert.Equal(t, 25.0, st.Percent)
	assert.Equal(t, "users", st.CurrentTable)
	assert.Equal(t, "Dumping", st.Stage)

	m.UpdateProgress(h.ID, Progress{ProcessedTables: 9, TotalTables: 4})
	st, _ = m.Get(h.ID)
	assert.Equal(t, 100.0, st.Percent)

	m.UpdateProgress(h.ID, Progress{ProcessedTables: -3, TotalTables: 4})
	st, _ = m.Get(h.ID)
	assert.Equal(t, 0.0, st.Percent)

	// unknown ids are ignored
	m.UpdateProgress("missing", Progress{ProcessedTables: 1, TotalTables: 1})
}

func TestMonitor_TerminalStates(t *testing.T) {
	m := New(nil)

	done := m.StartTask(context.Background(), testSchedule(), "primary", true, schedule.OriginScheduled)
	failed := m.StartTask(context.Background(), testSchedule(), "primary", true, schedule.OriginScheduled)
	canceled := m.StartTask(context.Background(), testSchedule(), "primary", true, schedule.OriginScheduled)

	m.CompleteTask(done.ID, "Backup completed")
	m.FailTask(failed.ID, "connection refused")
	m.MarkCancelled(canceled.ID, "canceled by user")

	assert.Empty(t, m.ActiveTasks())
	recent := m.RecentTasks()
	require.Len(t, recent, 3)
	assert.Equal(t, StateCancelled, recent[0].State)
	assert.Equal(t, StateFailed, recent[1].State)
	assert.Equal(t, StateCompleted, recent[2].State)
	assert.Equal(t, 100.0, recent[2].Percent)
	for _, st := range recent {
		assert.NotNil(t, st.FinishedAt)
		assert.False(t, st.Cancelable)
	}

	logs := m.Logs()
	var errorLogs int
	for _, l := range logs {
		if l.IsError {
			errorLogs++
		}
	}
	assert.Equal(t, 1, errorLogs)

	assert.ErrorIs(t, done.Ctx.Err(), context.Canceled, "finished task context is released")
}

func TestMonitor_RecentCap(t *testing.T) {
	m := New(nil)
	for i := 0; i < MaxRecentTasks+10; i++ {
		h := m.StartTask(context.Background(), testSchedule(), "primary", true, schedule.OriginScheduled)
		m.CompleteTask(h.ID, fmt.Sprintf("run %d", i))
	}

	recent := m.RecentTasks()
	require.Len(t, recent, MaxRecentTasks)
	assert.Equal(t, fmt.Sprintf("run %d", MaxRecentTasks+9), recent[0].Message)
}

func TestMonitor_LogCap(t *testing.T) {
	m := New(nil)
	// every task logs its start and its end
	for i := 0; i < MaxLogEntries/2+10; i++ {
		h := m.StartTask(context.Background(), testSchedule(), "primary", true, schedule.OriginScheduled)
		m.CompleteTask(h.ID, fmt.Sprintf("run %d", i))
	}
	logs := m.Logs()
	require.Len(t, logs, MaxLogEntries)
	assert.Equal(t, "Backup started: nightly", logs[0].Message)
	assert.Equal(t, "nightly: run 10", logs[1].Message)
}

func TestMonitor_CancelResumesPausedToken(t *testing.T) {
	m := New(nil)
	h := m.StartTask(context.Background(), testSchedule(), "primary", true, schedule.OriginManual)

	token := pause.NewToken()
	m.AttachPauseToken(h.ID, token)
	require.True(t, m.PauseTask(h.ID))
	require.True(t, token.IsPaused())

	st, _ := m.Get(h.ID)
	assert.True(t, st.Paused)
	assert.Equal(t, StagePaused, st.Stage)

	waitErr := make(chan error, 1)
	go func() { waitErr <- token.WaitWhilePaused(h.Ctx) }()

	require.True(t, m.CancelTask(h.ID))
	assert.False(t, token.IsPaused(), "token must be resumed by cancel")

	select {
	case <-waitErr:
	case <-time.After(time.Second):
		t.Fatal("paused run stayed blocked after cancel")
	}
	assert.Error(t, h.Ctx.Err())

	st, _ = m.Get(h.ID)
	assert.False(t, st.Cancelable)
	assert.Equal(t, StageCancelRequested, st.Stage)

	// second cancel is rejected
	assert.False(t, m.CancelTask(h.ID))
}

func TestMonitor_CancelNotCancelable(t *testing.T) {
	m := New(nil)
	h := m.StartTask(context.Background(), testSchedule(), "primary", false, schedule.OriginScheduled)
	assert.False(t, m.CancelTask(h.ID))
	assert.NoError(t, h.Ctx.Err())
	assert.False(t, m.CancelTask("missing"))
}

func TestMonitor_PauseWithoutToken(t *testing.T) {
	m := New(nil)
	h := m.StartTask(context.Background(), testSchedule(), "primary", true, schedule.OriginScheduled)
	assert.False(t, m.PauseTask(h.ID))
	assert.False(t, m.ResumeTask(h.ID))
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m := New(nil)
	var mu sync.Mutex
	count := 0
	unsubscribe := m.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	h := m.StartTask(context.Background(), testSchedule(), "primary", true, schedule.OriginScheduled)
	unsubscribe()
	m.CompleteTask(h.ID, "done")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count)
}

func TestMonitor_ObserverMayCallBack(t *testing.T) {
	m := New(nil)
	var seen []TaskStatus
	m.Subscribe(func(ev Event) {
		if ev.Type == EventTaskFinished {
			seen = m.RecentTasks()
		}
	})

	h := m.StartTask(context.Background(), testSchedule(), "primary", true, schedule.OriginScheduled)
	m.CompleteTask(h.ID, "done")
	require.Len(t, seen, 1)
}
