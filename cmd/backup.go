package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"dbvault/internal/backup"
	"dbvault/internal/health"
	"dbvault/internal/monitor"
	"dbvault/internal/schedule"
)

func newBackupCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Run and verify backups",
	}
	cmd.AddCommand(
		newBackupRunCommand(opts),
		newBackupVerifyCommand(opts),
	)
	return cmd
}

func newBackupRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <name|id>...",
		Short: "Run schedules now",
		Long: `Run one or more schedules immediately, one after another. The runs are
recorded in the history like scheduled runs and move each schedule's next
run forward. Ctrl-C cancels the run in progress, keeps the partial dump and
skips the remaining schedules. SIGTERM does the same but records the run as
canceled by shutdown. SIGUSR1 pauses the run and the next SIGUSR1 resumes it.

The command exits non-zero when any run fails or its artifact is unhealthy.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.newApp(cmd)
			if err != nil {
				return err
			}
			out := opts.newDisplay(cmd)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()
			watchPauseSignal(ctx, app.Monitor, app.Logger)
			interrupts := watchInterrupt(ctx, app.Monitor, app.Logger)

			var failed []string
			for _, name := range args {
				entry, err := runWithProgress(ctx, app.Monitor, out.NewProgressBar(name), func(ctx context.Context) (*schedule.HistoryEntry, error) {
					return app.RunNow(ctx, name)
				})
				if err != nil {
					return err
				}
				if err := out.RunResult(*entry); err != nil {
					return err
				}
				if entry.Status() != "ok" {
					failed = append(failed, entry.ScheduleName)
				}
				if ctx.Err() != nil || interrupts.Interrupted() {
					break
				}
			}

			if len(args) > 1 && !out.Structured() {
				if err := out.Tasks(app.Monitor.RecentTasks()); err != nil {
					return err
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("backup did not succeed for: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
}

type progressSink interface {
	Set(percent float64, message string)
	Finish(message string, success bool)
}

// runWithProgress mirrors monitor progress events onto bar while run executes
func runWithProgress(ctx context.Context, mon *monitor.Monitor, bar progressSink, run func(context.Context) (*schedule.HistoryEntry, error)) (*schedule.HistoryEntry, error) {
	unsubscribe := mon.Subscribe(func(ev monitor.Event) {
		if ev.Type != monitor.EventProgress {
			return
		}
		msg := ev.Task.Stage
		if ev.Task.CurrentTable != "" {
			msg = fmt.Sprintf("%s %s", ev.Task.Stage, ev.Task.CurrentTable)
		}
		bar.Set(ev.Task.Percent, msg)
	})
	defer unsubscribe()

	entry, err := run(ctx)
	switch {
	case err != nil:
		bar.Finish(err.Error(), false)
	default:
		bar.Finish(entry.Status(), entry.Status() == "ok")
	}
	return entry, err
}

type verifyResult struct {
	Path          string `json:"path" yaml:"path"`
	Healthy       bool   `json:"healthy" yaml:"healthy"`
	Details       string `json:"details" yaml:"details"`
	HashAlgorithm string `json:"hash_algorithm,omitempty" yaml:"hash_algorithm,omitempty"`
	Hash          string `json:"hash,omitempty" yaml:"hash,omitempty"`
}

func newBackupVerifyCommand(opts *rootOptions) *cobra.Command {
	var hashAlgorithm string
	cmd := &cobra.Command{
		Use:   "verify <artifact>",
		Short: "Check that a dump or archive is readable and complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err != nil {
				return err
			}

			result := verifyResult{Path: path}
			result.Healthy, result.Details = health.Verify(path, isArchive(path))
			if hashAlgorithm != "" {
				digest, err := backup.HashFile(path, hashAlgorithm)
				if err != nil {
					return err
				}
				result.HashAlgorithm = hashAlgorithm
				result.Hash = digest
			}

			out := opts.newDisplay(cmd)
			if out.Structured() {
				if err := out.Encode(result); err != nil {
					return err
				}
			} else {
				if result.Healthy {
					out.Success(fmt.Sprintf("%s is healthy: %s", path, result.Details))
				} else {
					out.Error(fmt.Sprintf("%s is unhealthy: %s", path, result.Details))
				}
				if result.Hash != "" {
					fmt.Fprintf(out.Writer(), "%s:%s\n", result.HashAlgorithm, result.Hash)
				}
			}
			if !result.Healthy {
				return fmt.Errorf("artifact failed verification")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&hashAlgorithm, "hash", "", "also print the digest: "+strings.Join(backup.SupportedHashAlgorithms, ", "))
	return cmd
}

func isArchive(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range []string{".zip", ".tar.gz", ".tgz", ".tar.zst", ".tar.lz4"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
