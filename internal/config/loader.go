package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Loader reads the config file, DBVAULT_* environment variables and bound
// command line flags, in increasing order of precedence
type Loader struct {
	viper *viper.Viper
}

// NewLoader creates a loader with its own viper instance
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper wraps an existing viper instance, such as the one the
// root command binds its persistent flags to
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{viper: v}
}

// Viper exposes the underlying instance
func (l *Loader) Viper() *viper.Viper {
	return l.viper
}

// AddFlags registers the flags that override config keys and binds them
func (l *Loader) AddFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("state-file", "", "Path of the schedule and history state file")
	flags.String("log-level", "", "Log level: quiet, normal, verbose or debug")
	flags.String("log-format", "", "Log format: text or json")
	flags.String("log-file", "", "Also write logs to this file, rotated")

	_ = l.viper.BindPFlag("state_file", flags.Lookup("state-file"))
	_ = l.viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = l.viper.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = l.viper.BindPFlag("log.file", flags.Lookup("log-file"))
}

// Load reads configFile, or looks for .dbvault.yaml in $HOME and the working
// directory when configFile is empty. A missing default file is not an error.
func (l *Loader) Load(configFile string) (*Config, error) {
	l.setupViper(configFile)
	l.setDefaults()

	if err := l.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the file that was read, if any
func (l *Loader) ConfigFileUsed() string {
	return l.viper.ConfigFileUsed()
}

func (l *Loader) setupViper(configFile string) {
	if configFile != "" {
		l.viper.SetConfigFile(configFile)
	} else {
		l.viper.SetConfigName(DefaultConfigName)
		l.viper.SetConfigType("yaml")
		l.viper.AddConfigPath("$HOME")
		l.viper.AddConfigPath(".")
	}

	l.viper.SetEnvPrefix(EnvPrefix)
	l.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.viper.AutomaticEnv()
}

func (l *Loader) setDefaults() {
	d := Default()

	l.viper.SetDefault("state_file", d.StateFile)
	l.viper.SetDefault("log.level", string(d.Log.Level))
	l.viper.SetDefault("log.format", d.Log.Format)
	l.viper.SetDefault("log.rotation.max_size_mb", d.Log.Rotation.MaxSizeMB)
	l.viper.SetDefault("log.rotation.max_backups", d.Log.Rotation.MaxBackups)
	l.viper.SetDefault("log.rotation.max_age_days", d.Log.Rotation.MaxAgeDays)

	l.viper.SetDefault("scheduler.interval", d.Scheduler.Interval)
	l.viper.SetDefault("scheduler.initial_delay", d.Scheduler.InitialDelay)

	l.viper.SetDefault("backup.batch_size", d.Backup.BatchSize)
	l.viper.SetDefault("backup.external_tool_path", d.Backup.ExternalToolPath)
	l.viper.SetDefault("backup.hash_algorithm", d.Backup.HashAlgorithm)
	l.viper.SetDefault("backup.copy_chunk_size", d.Backup.CopyChunkSize)

	l.viper.SetDefault("offsite.enabled", false)
	l.viper.SetDefault("offsite.storage.provider", string(d.Offsite.Storage.Provider))

	l.viper.SetDefault("notifications.enabled", d.Notifications.Enabled)
	l.viper.SetDefault("notifications.log", d.Notifications.Log)
	l.viper.SetDefault("notifications.rate_limit.max_per_hour", d.Notifications.RateLimit.MaxPerHour)
	l.viper.SetDefault("notifications.rate_limit.burst", d.Notifications.RateLimit.Burst)
	l.viper.SetDefault("notifications.timeout", d.Notifications.Timeout)
	l.viper.SetDefault("notifications.only_failures", false)

	// secrets and optional keys only exist when their variable is set
	for _, key := range []string{
		"legacy_config_file",
		"log.file",
		"offsite.storage.s3.access_key",
		"offsite.storage.s3.secret_key",
		"offsite.storage.azure.account_key",
	} {
		_ = l.viper.BindEnv(key)
	}
}

// EnvironmentVariables lists the overrides recognised for the scalar keys
func EnvironmentVariables() []string {
	keys := []string{
		"state_file",
		"legacy_config_file",
		"log.level",
		"log.format",
		"log.file",
		"scheduler.interval",
		"scheduler.initial_delay",
		"backup.batch_size",
		"backup.external_tool_path",
		"backup.hash_algorithm",
		"offsite.enabled",
		"offsite.storage.provider",
		"offsite.storage.s3.access_key",
		"offsite.storage.s3.secret_key",
		"offsite.storage.azure.account_key",
		"notifications.enabled",
		"notifications.only_failures",
	}
	out := make([]string, len(keys))
	replacer := strings.NewReplacer(".", "_")
	for i, key := range keys {
		out[i] = EnvPrefix + "_" + strings.ToUpper(replacer.Replace(key))
	}
	return out
}
