// Package config loads the dbvault configuration file: where the state
// document lives, logging, scheduler cadence, executor options, offsite
// storage, notifications and the named connection profiles schedules refer to.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dbvault/internal/backup"
	"dbvault/internal/database"
	"dbvault/internal/logging"
	"dbvault/internal/notify"
	"dbvault/internal/scheduler"
)

const (
	// DefaultConfigName is the config file looked up in $HOME and the working directory
	DefaultConfigName = ".dbvault"
	// EnvPrefix prefixes every environment override
	EnvPrefix = "DBVAULT"
)

// ErrUnknownConnection is returned by Resolve for a name with no profile
var ErrUnknownConnection = errors.New("unknown connection profile")

// Config is the complete application configuration
type Config struct {
	StateFile        string                             `mapstructure:"state_file" yaml:"state_file"`
	LegacyConfigFile string                             `mapstructure:"legacy_config_file" yaml:"legacy_config_file,omitempty"`
	Log              LogConfig                          `mapstructure:"log" yaml:"log"`
	Scheduler        scheduler.Config                   `mapstructure:"scheduler" yaml:"scheduler"`
	Backup           backup.Options                     `mapstructure:"backup" yaml:"backup"`
	Offsite          OffsiteConfig                      `mapstructure:"offsite" yaml:"offsite"`
	Notifications    notify.Config                      `mapstructure:"notifications" yaml:"notifications"`
	Connections      map[string]database.DatabaseConfig `mapstructure:"connections" yaml:"connections"`
}

// LogConfig selects level, format and an optional rotated log file
type LogConfig struct {
	Level      logging.LogLevel       `mapstructure:"level" yaml:"level"`
	Format     string                 `mapstructure:"format" yaml:"format"`
	File       string                 `mapstructure:"file" yaml:"file,omitempty"`
	ShowCaller bool                   `mapstructure:"show_caller" yaml:"show_caller,omitempty"`
	Rotation   logging.RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// OffsiteConfig enables the copy of every artifact to a second location
type OffsiteConfig struct {
	Enabled bool                 `mapstructure:"enabled" yaml:"enabled"`
	Storage backup.StorageConfig `mapstructure:"storage" yaml:"storage"`
}

// DefaultStateFile is ~/.dbvault/state.json, or ./state.json without a home directory
func DefaultStateFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "state.json"
	}
	return filepath.Join(home, ".dbvault", "state.json")
}

// Default returns a configuration that runs with no file at all
func Default() *Config {
	return &Config{
		StateFile: DefaultStateFile(),
		Log: LogConfig{
			Level:  logging.LogLevelNormal,
			Format: "text",
			Rotation: logging.RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 5,
				MaxAgeDays: 30,
			},
		},
		Scheduler:     scheduler.DefaultConfig(),
		Backup:        backup.DefaultOptions(),
		Offsite:       OffsiteConfig{Storage: backup.StorageConfig{Provider: backup.StorageProviderLocal}},
		Notifications: notify.DefaultConfig(),
		Connections:   map[string]database.DatabaseConfig{},
	}
}

// SetDefaults fills zero values after unmarshalling
func (c *Config) SetDefaults() {
	if c.StateFile == "" {
		c.StateFile = DefaultStateFile()
	}
	c.StateFile = expandHome(c.StateFile)
	c.LegacyConfigFile = expandHome(c.LegacyConfigFile)
	c.Log.File = expandHome(c.Log.File)
	if c.Log.Level == "" {
		c.Log.Level = logging.LogLevelNormal
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	c.Scheduler.SetDefaults()

	defaults := backup.DefaultOptions()
	if c.Backup.BatchSize <= 0 {
		c.Backup.BatchSize = defaults.BatchSize
	}
	if c.Backup.ExternalToolPath == "" {
		c.Backup.ExternalToolPath = defaults.ExternalToolPath
	}
	if c.Backup.HashAlgorithm == "" {
		c.Backup.HashAlgorithm = defaults.HashAlgorithm
	}
	if c.Backup.CopyChunkSize <= 0 {
		c.Backup.CopyChunkSize = defaults.CopyChunkSize
	}

	if c.Offsite.Enabled {
		c.Offsite.Storage.SetDefaults()
	}

	if c.Connections == nil {
		c.Connections = map[string]database.DatabaseConfig{}
	}
	for name, conn := range c.Connections {
		conn.SetDefaults()
		c.Connections[name] = conn
	}
}

// Validate reports every problem found, one per line
func (c *Config) Validate() error {
	var problems []string

	if c.StateFile == "" {
		problems = append(problems, "state_file is required")
	}
	switch c.Log.Level {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		problems = append(problems, fmt.Sprintf("log.level %q is not one of quiet, normal, verbose, debug", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		problems = append(problems, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}
	if c.Scheduler.Interval < 0 {
		problems = append(problems, "scheduler.interval cannot be negative")
	}
	if _, err := backup.NewHash(c.Backup.HashAlgorithm); err != nil {
		problems = append(problems, "backup.hash_algorithm: "+err.Error())
	}
	if c.Backup.BatchSize < 0 {
		problems = append(problems, "backup.batch_size cannot be negative")
	}
	if c.Offsite.Enabled {
		if err := c.Offsite.Storage.Validate(); err != nil {
			problems = append(problems, "offsite: "+err.Error())
		}
	}
	if err := c.Notifications.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	for _, name := range c.ConnectionNames() {
		conn := c.Connections[name]
		if err := conn.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("connections.%s: %v", name, err))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// ConnectionNames lists the profiles in name order
func (c *Config) ConnectionNames() []string {
	names := make([]string, 0, len(c.Connections))
	for name := range c.Connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the connection profile called name. Lookup ignores case
// because viper lowercases map keys.
func (c *Config) Resolve(name string) (database.DatabaseConfig, error) {
	if conn, ok := c.Connections[name]; ok {
		return conn, nil
	}
	for key, conn := range c.Connections {
		if strings.EqualFold(key, name) {
			return conn, nil
		}
	}
	return database.DatabaseConfig{}, fmt.Errorf("%w: %q", ErrUnknownConnection, name)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// LoggerConfig converts the log section for logging.NewLogger
func (lc LogConfig) LoggerConfig(output io.Writer) logging.Config {
	return logging.Config{
		Level:      lc.Level,
		Output:     output,
		Format:     lc.Format,
		ShowCaller: lc.ShowCaller,
		LogFile:    lc.File,
		Rotation:   lc.Rotation,
	}
}
