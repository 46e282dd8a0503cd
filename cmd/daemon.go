package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"dbvault/internal/monitor"
)

func newDaemonCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run due schedules until interrupted",
		Long: `Run the scheduler in the foreground. Enabled schedules are checked every
scheduler.interval and whenever the state file changes; due schedules run one
at a time. SIGUSR1 pauses the run in progress and resumes it on the next
SIGUSR1. SIGINT or SIGTERM cancels a run in progress and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.newApp(cmd)
			if err != nil {
				return err
			}

			unsubscribe := app.Monitor.Subscribe(func(ev monitor.Event) {
				if ev.Type != monitor.EventTaskFinished {
					return
				}
				app.Logger.WithFields(map[string]interface{}{
					"task":     ev.Task.ID,
					"schedule": ev.Task.ScheduleName,
					"state":    string(ev.Task.State),
				}).Info(ev.Task.Message)
			})
			defer unsubscribe()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			watchPauseSignal(ctx, app.Monitor, app.Logger)

			return app.RunDaemon(ctx)
		},
	}
}
