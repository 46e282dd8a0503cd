package cmd

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"

	"dbvault/internal/logging"
	"dbvault/internal/monitor"
)

// watchPauseSignal toggles pause on every active task each time one of
// pauseSignals arrives, until ctx ends
func watchPauseSignal(ctx context.Context, mon *monitor.Monitor, logger *logging.Logger) {
	if len(pauseSignals) == 0 {
		return
	}
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, pauseSignals...)
	go func() {
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				for _, id := range togglePause(mon) {
					logger.WithField("task_id", id).Info("Pause toggled")
				}
			}
		}
	}()
}

// togglePause resumes paused tasks and pauses running ones. It returns the
// ids of the tasks that changed.
func togglePause(mon *monitor.Monitor) []string {
	var changed []string
	for _, task := range mon.ActiveTasks() {
		var ok bool
		if task.Paused {
			ok = mon.ResumeTask(task.ID)
		} else {
			ok = mon.PauseTask(task.ID)
		}
		if ok {
			changed = append(changed, task.ID)
		}
	}
	return changed
}

// runInterrupter cancels the active tasks of a monitor once interrupted.
// Tasks that start after the interrupt are canceled as they start.
type runInterrupter struct {
	mon         *monitor.Monitor
	interrupted atomic.Bool
}

func newRunInterrupter(mon *monitor.Monitor) (*runInterrupter, func()) {
	ri := &runInterrupter{mon: mon}
	unsubscribe := mon.Subscribe(func(ev monitor.Event) {
		if ev.Type == monitor.EventTaskStarted && ri.interrupted.Load() {
			mon.CancelTask(ev.Task.ID)
		}
	})
	return ri, unsubscribe
}

// interrupt cancels every active task and returns the ids it canceled
func (ri *runInterrupter) interrupt() []string {
	ri.interrupted.Store(true)
	var canceled []string
	for _, task := range ri.mon.ActiveTasks() {
		if ri.mon.CancelTask(task.ID) {
			canceled = append(canceled, task.ID)
		}
	}
	return canceled
}

func (ri *runInterrupter) Interrupted() bool {
	return ri.interrupted.Load()
}

// watchInterrupt turns os.Interrupt into a user cancel of the runs in
// progress, until ctx ends
func watchInterrupt(ctx context.Context, mon *monitor.Monitor, logger *logging.Logger) *runInterrupter {
	ri, unsubscribe := newRunInterrupter(mon)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		defer unsubscribe()
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				for _, id := range ri.interrupt() {
					logger.WithField("task_id", id).Info("Run canceled")
				}
			}
		}
	}()
	return ri
}
