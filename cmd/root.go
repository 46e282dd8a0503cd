package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dbvault/internal/application"
	"dbvault/internal/config"
	"dbvault/internal/display"
)

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// rootOptions is shared by every subcommand of one command tree
type rootOptions struct {
	configFile string
	loader     *config.Loader
	cfg        *config.Config

	noColor       bool
	theme         string
	outputFormat  string
	noIcons       bool
	noProgress    bool
	quiet         bool
	tableStyle    string
	maxTableWidth int
}

// NewRootCommand builds the dbvault command tree
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{loader: config.NewLoader()}

	root := &cobra.Command{
		Use:   "dbvault",
		Short: "Scheduled MySQL backups with health checks and offsite copies",
		Long: `dbvault keeps a set of backup schedules for MySQL databases and runs them:
daily, weekly, monthly, every N minutes, on a cron expression or once.

Each run streams a logical dump of the database, optionally compresses it,
keeps the newest N artifacts, records a checksum, verifies the result and
copies it offsite when configured. Runs are recorded in the state file.

Examples:
  # Write a starting configuration
  dbvault config init

  # Back up the shop database every night at 02:30
  dbvault schedule add nightly --connection primary --database shop \
                       --frequency daily --at 02:30 --output-dir /backups --compress

  # Run it once now, with progress
  dbvault backup run nightly

  # Run the scheduler in the foreground
  dbvault daemon

  # Last runs as JSON
  dbvault history --limit 10 -o json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.displayConfig(cmd).Validate()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default is $HOME/.dbvault.yaml)")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable color output")
	flags.StringVar(&opts.theme, "theme", string(display.ThemeDark), "color theme (dark, light, high-contrast, plain)")
	flags.StringVarP(&opts.outputFormat, "output", "o", string(display.FormatTable), "output format (table, json, yaml)")
	flags.BoolVar(&opts.noIcons, "no-icons", false, "disable Unicode icons")
	flags.BoolVar(&opts.noProgress, "no-progress", false, "disable progress bars")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress non-error output")
	flags.StringVar(&opts.tableStyle, "table-style", string(display.TableStyleDefault), "table style (default, rounded, compact, grid)")
	flags.IntVar(&opts.maxTableWidth, "max-table-width", 120, "maximum table width (40-300)")
	opts.loader.AddFlags(root)

	root.AddCommand(
		newDaemonCommand(opts),
		newScheduleCommand(opts),
		newBackupCommand(opts),
		newHistoryCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command line and exits non-zero on error
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		application.ReportError(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration once per command tree
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.cfg != nil {
		return o.cfg, nil
	}
	cfg, err := o.loader.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	o.cfg = cfg
	return cfg, nil
}

func (o *rootOptions) newApp(cmd *cobra.Command) (*application.App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return application.New(cmd.Context(), cfg, application.WithLogOutput(cmd.ErrOrStderr()))
}

func (o *rootOptions) displayConfig(cmd *cobra.Command) *display.DisplayConfig {
	dc := display.DefaultDisplayConfig()
	dc.ColorEnabled = !o.noColor
	dc.Theme = o.theme
	dc.OutputFormat = o.outputFormat
	dc.UseIcons = !o.noIcons
	dc.ShowProgress = !o.noProgress
	dc.QuietMode = o.quiet
	dc.TableStyle = o.tableStyle
	dc.MaxTableWidth = o.maxTableWidth
	dc.Writer = cmd.OutOrStdout()
	return dc
}

func (o *rootOptions) newDisplay(cmd *cobra.Command) *display.Service {
	return display.NewService(o.displayConfig(cmd))
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "dbvault version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}
