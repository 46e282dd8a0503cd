package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dbvault/internal/config"
	"dbvault/internal/schedule"
	"dbvault/internal/store"
)

type scheduleFlags struct {
	connection        string
	database          string
	frequency         string
	at                string
	weekdays          []string
	dayOfMonth        int
	intervalMinutes   int
	cronExpression    string
	outputDir         string
	compress          bool
	compressionFormat string
	retention         int
	mode              string
	offsite           bool
	disabled          bool
}

func newScheduleCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule",
		Aliases: []string{"schedules"},
		Short:   "Manage backup schedules",
	}
	cmd.AddCommand(
		newScheduleListCommand(opts),
		newScheduleAddCommand(opts),
		newScheduleRemoveCommand(opts),
		newScheduleToggleCommand(opts, "enable", true),
		newScheduleToggleCommand(opts, "disable", false),
		newScheduleNextCommand(opts),
	)
	return cmd
}

func openStore(opts *rootOptions) (*store.Store, *config.Config, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	var storeOpts []store.Option
	if cfg.LegacyConfigFile != "" {
		storeOpts = append(storeOpts, store.WithLegacyConfig(cfg.LegacyConfigFile))
	}
	return store.New(cfg.StateFile, storeOpts...), cfg, nil
}

func newScheduleListCommand(opts *rootOptions) *cobra.Command {
	var enabledOnly bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List schedules ordered by next run",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore(opts)
			if err != nil {
				return err
			}
			var schedules []*schedule.Schedule
			if enabledOnly {
				schedules, err = st.EnabledSchedules()
			} else {
				schedules, err = st.LoadSchedules()
			}
			if err != nil {
				return err
			}
			store.SortByNextRun(schedules)
			return opts.newDisplay(cmd).Schedules(schedules)
		},
	}
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only list enabled schedules")
	return cmd
}

func newScheduleAddCommand(opts *rootOptions) *cobra.Command {
	f := &scheduleFlags{}
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a schedule",
		Long: `Create a schedule. The connection must name a profile under connections: in
the configuration file. The next run is computed immediately.

Frequencies:
  once             a single run at --at
  daily            every day at --at
  weekly           on --weekdays at --at
  monthly          on --day-of-month at --at (clamped to short months)
  custom_interval  every --interval minutes
  cron             on --cron, a five field cron expression`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cfg, err := openStore(opts)
			if err != nil {
				return err
			}
			out := opts.newDisplay(cmd)

			name := args[0]
			if _, err := st.GetSchedule(name); err == nil {
				return fmt.Errorf("a schedule named %q already exists", name)
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}

			s, err := f.build(name)
			if err != nil {
				return err
			}
			if _, err := cfg.Resolve(s.ConnectionName); err != nil {
				out.Warning(fmt.Sprintf("connection %q is not configured yet; runs will fail until it is", s.ConnectionName))
			}
			s.Reschedule(time.Now())
			if err := st.UpsertSchedule(s); err != nil {
				return err
			}

			if out.Structured() {
				return out.Encode(s)
			}
			out.Success(fmt.Sprintf("Schedule %s created (%s), next run %s", s.Name, s.ID, formatNext(s.NextRun)))
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.connection, "connection", "", "connection profile name")
	fl.StringVar(&f.database, "database", "", "database to back up")
	fl.StringVar(&f.frequency, "frequency", string(schedule.FrequencyDaily), "once, daily, weekly, monthly, custom_interval or cron")
	fl.StringVar(&f.at, "at", "02:00", "time of day, HH:MM")
	fl.StringSliceVar(&f.weekdays, "weekdays", nil, "weekdays for weekly schedules, e.g. mon,thu")
	fl.IntVar(&f.dayOfMonth, "day-of-month", 1, "day for monthly schedules")
	fl.IntVar(&f.intervalMinutes, "interval", 60, "minutes between custom_interval runs")
	fl.StringVar(&f.cronExpression, "cron", "", "cron expression for cron schedules")
	fl.StringVar(&f.outputDir, "output-dir", "", "directory that receives the artifacts")
	fl.BoolVar(&f.compress, "compress", false, "compress the dump into an archive")
	fl.StringVar(&f.compressionFormat, "compression-format", string(schedule.CompressionZip), "zip, tar.gz, tar.zst or tar.lz4")
	fl.IntVar(&f.retention, "retention", 7, "artifacts to keep, 0 keeps all")
	fl.StringVar(&f.mode, "mode", string(schedule.ModeStandard), "standard, fast or external_tool")
	fl.BoolVar(&f.offsite, "offsite", false, "copy artifacts to the offsite storage")
	fl.BoolVar(&f.disabled, "disabled", false, "create the schedule disabled")
	_ = cmd.MarkFlagRequired("connection")
	_ = cmd.MarkFlagRequired("output-dir")
	return cmd
}

func (f *scheduleFlags) build(name string) (*schedule.Schedule, error) {
	s := schedule.New(name, f.connection, f.database)
	s.Enabled = !f.disabled
	s.Frequency = schedule.Frequency(strings.ToLower(f.frequency))
	s.RunTime = f.at
	s.DayOfMonth = f.dayOfMonth
	s.IntervalMinutes = f.intervalMinutes
	s.CronExpression = f.cronExpression
	s.OutputDirectory = f.outputDir
	s.Compress = f.compress
	s.CompressionFormat = schedule.CompressionFormat(strings.ToLower(f.compressionFormat))
	s.RetentionCount = f.retention
	s.Mode = schedule.BackupMode(strings.ToLower(f.mode))
	s.UploadOffsite = f.offsite

	weekdays, err := parseWeekdays(f.weekdays)
	if err != nil {
		return nil, err
	}
	s.Weekdays = weekdays
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// parseWeekdays accepts three letter or full English names and 0-6 (Sunday is 0)
func parseWeekdays(values []string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			if n < 0 || n > 6 {
				return nil, fmt.Errorf("weekday %d out of range 0-6", n)
			}
			out = append(out, time.Weekday(n))
			continue
		}
		if len(v) >= 3 {
			if d, ok := weekdayNames[v[:3]]; ok && strings.HasPrefix(strings.ToLower(d.String()), v) {
				out = append(out, d)
				continue
			}
		}
		return nil, fmt.Errorf("unknown weekday %q", v)
	}
	return out, nil
}

func newScheduleRemoveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name|id>",
		Aliases: []string{"rm"},
		Short:   "Delete a schedule; its artifacts and history stay",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore(opts)
			if err != nil {
				return err
			}
			s, err := st.GetSchedule(args[0])
			if err != nil {
				return err
			}
			if err := st.DeleteSchedule(s.ID); err != nil {
				return err
			}
			opts.newDisplay(cmd).Success(fmt.Sprintf("Schedule %s removed", s.Name))
			return nil
		},
	}
}

func newScheduleToggleCommand(opts *rootOptions, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <name|id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore(opts)
			if err != nil {
				return err
			}
			s, err := st.GetSchedule(args[0])
			if err != nil {
				return err
			}
			s.Enabled = enabled
			s.Reschedule(time.Now())
			if err := st.UpsertSchedule(s); err != nil {
				return err
			}

			out := opts.newDisplay(cmd)
			if enabled {
				out.Success(fmt.Sprintf("Schedule %s enabled, next run %s", s.Name, formatNext(s.NextRun)))
			} else {
				out.Success(fmt.Sprintf("Schedule %s disabled", s.Name))
			}
			return nil
		},
	}
}

func newScheduleNextCommand(opts *rootOptions) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "next <name|id>",
		Short: "Preview the next run times of a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore(opts)
			if err != nil {
				return err
			}
			s, err := st.GetSchedule(args[0])
			if err != nil {
				return err
			}

			runs := upcomingRuns(s, time.Now(), count)
			out := opts.newDisplay(cmd)
			if out.Structured() {
				return out.Encode(runs)
			}
			if len(runs) == 0 {
				out.Info(fmt.Sprintf("Schedule %s has no upcoming runs", s.Name))
				return nil
			}
			w := out.Writer()
			for _, r := range runs {
				fmt.Fprintln(w, r.Format("Mon 2006-01-02 15:04 MST"))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of runs to show")
	return cmd
}

// upcomingRuns chains NextRun count times; a once schedule yields at most one run
func upcomingRuns(s *schedule.Schedule, from time.Time, count int) []time.Time {
	cursor := s.Clone()
	var runs []time.Time
	ref := from
	for len(runs) < count {
		next := schedule.NextRun(cursor, ref)
		if next == nil {
			break
		}
		runs = append(runs, *next)
		last := *next
		cursor.LastRun = &last
		ref = *next
	}
	return runs
}

func formatNext(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}
