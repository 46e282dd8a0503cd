// Package application wires the configured services together and runs the
// daemon: one state store, one task monitor, one executor, one runner.
package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"dbvault/internal/backup"
	"dbvault/internal/config"
	"dbvault/internal/database"
	appErrors "dbvault/internal/errors"
	"dbvault/internal/logging"
	"dbvault/internal/monitor"
	"dbvault/internal/notify"
	"dbvault/internal/schedule"
	"dbvault/internal/scheduler"
	"dbvault/internal/store"
)

// App holds the services built from one configuration
type App struct {
	Config   *config.Config
	Logger   *logging.Logger
	Store    *store.Store
	Monitor  *monitor.Monitor
	Notifier *notify.Manager
	Executor *backup.Executor
	Runner   *scheduler.Runner
}

type options struct {
	logOutput io.Writer
	connector database.Connector
	uploader  backup.ArtifactUploader
}

// Option customises New
type Option func(*options)

// WithLogOutput sends log lines to w instead of stderr
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// WithConnector replaces the MySQL connector
func WithConnector(c database.Connector) Option {
	return func(o *options) { o.connector = c }
}

// WithUploader replaces the uploader built from the offsite section
func WithUploader(u backup.ArtifactUploader) Option {
	return func(o *options) { o.uploader = u }
}

// New builds every service. It does not start the scheduler.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	logger, err := logging.NewLogger(cfg.Log.LoggerConfig(o.logOutput))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	storeOpts := []store.Option{store.WithLogger(logger)}
	if cfg.LegacyConfigFile != "" {
		storeOpts = append(storeOpts, store.WithLegacyConfig(cfg.LegacyConfigFile))
	}
	st := store.New(cfg.StateFile, storeOpts...)

	connector := o.connector
	if connector == nil {
		connector = database.NewServiceWithLogger(logger)
	}

	execOptions := cfg.Backup
	execOptions.Uploader = o.uploader
	if execOptions.Uploader == nil && cfg.Offsite.Enabled {
		uploader, err := backup.NewUploader(ctx, cfg.Offsite.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to create offsite uploader: %w", err)
		}
		execOptions.Uploader = uploader
		logger.WithField("provider", uploader.Name()).Info("Offsite copies enabled")
	}
	executor := backup.NewExecutor(connector, logger, execOptions)

	mon := monitor.New(logger)
	notifier := notify.NewManager(logger, cfg.Notifications)

	runner := scheduler.NewRunner(scheduler.Deps{
		Store:    st,
		Executor: executor,
		Resolver: cfg,
		Monitor:  mon,
		Notifier: notifier,
		Logger:   logger,
	}, cfg.Scheduler)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    st,
		Monitor:  mon,
		Notifier: notifier,
		Executor: executor,
		Runner:   runner,
	}, nil
}

// RunDaemon runs the scheduler and the state file watcher until ctx ends or
// SIGINT/SIGTERM arrives. A run in progress is canceled on shutdown.
func (a *App) RunDaemon(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Logger.WithFields(map[string]interface{}{
		"state_file": a.Config.StateFile,
		"interval":   a.Config.Scheduler.Interval.String(),
	}).Info("dbvault daemon starting")

	if err := a.Runner.Start(ctx); err != nil {
		return err
	}

	watcher := scheduler.NewWatcher(a.Store.Path(), a.Store, a.Runner, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := watcher.Run(gctx); err != nil {
			// the runner keeps polling without change notifications
			a.Logger.WithField("error", err.Error()).Warn("State file watcher stopped")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("Shutdown requested, stopping scheduler")
		a.Runner.Stop()
		return nil
	})

	err := g.Wait()
	a.Notifier.Wait()
	a.Logger.Info("dbvault daemon stopped")
	return err
}

// RunNow runs one schedule immediately, tracked by the monitor like a scheduled run
func (a *App) RunNow(ctx context.Context, idOrName string) (*schedule.HistoryEntry, error) {
	entry, err := a.Runner.RunNow(ctx, idOrName)
	a.Notifier.Wait()
	return entry, err
}

// ReportError writes err to w with hints for the error categories a user can act on
func ReportError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)

	var appErr *appErrors.AppError
	if !errors.As(err, &appErr) {
		return
	}
	var hints []string
	switch appErr.Type {
	case appErrors.ErrorTypePrecondition:
		hints = []string{
			"Check that the schedule names an existing connection profile",
			"Check that the schedule names a database",
		}
	case appErrors.ErrorTypeConnection:
		hints = []string{
			"Check that the database server is running",
			"Verify the host and port of the connection profile",
			"Check firewall settings",
		}
	case appErrors.ErrorTypePermission:
		hints = []string{
			"Verify the username and password",
			"The backup user needs SELECT, SHOW VIEW and LOCK TABLES",
		}
	case appErrors.ErrorTypeExternalTool:
		hints = []string{
			"Run the dump tool by hand to see its full output",
			"Set backup.external_tool_path if it is not on PATH",
		}
	case appErrors.ErrorTypeStreaming:
		hints = []string{
			"Check free space and permissions of the output directory",
		}
	case appErrors.ErrorTypeTimeout:
		hints = []string{
			"Increase the timeout of the connection profile",
		}
	}
	if len(hints) == 0 {
		return
	}
	fmt.Fprintf(w, "\nTroubleshooting hints:\n")
	for _, h := range hints {
		fmt.Fprintf(w, "- %s\n", h)
	}
}
