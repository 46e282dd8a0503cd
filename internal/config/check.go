package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"dbvault/internal/backup"
)

// CheckStatus is the outcome of one check
type CheckStatus string

const (
	CheckOK   CheckStatus = "ok"
	CheckWarn CheckStatus = "warning"
	CheckFail CheckStatus = "error"
)

// CheckItem is one line of a CheckResult
type CheckItem struct {
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail"`
	Fix    string      `json:"fix,omitempty"`
}

// CheckResult is the report of Check
type CheckResult struct {
	Timestamp time.Time   `json:"timestamp"`
	Items     []CheckItem `json:"items"`
}

// Healthy reports whether no check failed
func (r *CheckResult) Healthy() bool {
	for _, item := range r.Items {
		if item.Status == CheckFail {
			return false
		}
	}
	return true
}

func (r *CheckResult) add(name string, status CheckStatus, detail, fix string) {
	r.Items = append(r.Items, CheckItem{Name: name, Status: status, Detail: detail, Fix: fix})
}

// Check inspects the environment the daemon would run in: state file
// location, log file, external dump tool, offsite target and connection
// profiles. It never connects to a database.
func Check(cfg *Config) *CheckResult {
	result := &CheckResult{Timestamp: time.Now()}

	if err := cfg.Validate(); err != nil {
		result.add("configuration", CheckFail, err.Error(), "Fix the listed keys in the configuration file")
	} else {
		result.add("configuration", CheckOK, "valid", "")
	}

	stateDir := filepath.Dir(cfg.StateFile)
	if err := checkWritableDir(stateDir); err != nil {
		result.add("state file", CheckFail, err.Error(), fmt.Sprintf("Create %s and make it writable", stateDir))
	} else {
		result.add("state file", CheckOK, cfg.StateFile, "")
	}

	if cfg.LegacyConfigFile != "" {
		if _, err := os.Stat(cfg.LegacyConfigFile); err != nil {
			result.add("legacy settings", CheckWarn, err.Error(), "Remove legacy_config_file once schedules are imported")
		} else {
			result.add("legacy settings", CheckOK, cfg.LegacyConfigFile, "")
		}
	}

	if cfg.Log.File != "" {
		if err := checkWritableDir(filepath.Dir(cfg.Log.File)); err != nil {
			result.add("log file", CheckFail, err.Error(), "Point log.file at a writable directory")
		} else {
			result.add("log file", CheckOK, cfg.Log.File, "")
		}
	}

	if path, err := exec.LookPath(cfg.Backup.ExternalToolPath); err != nil {
		result.add("external dump tool", CheckWarn,
			fmt.Sprintf("%s not found; external_tool schedules will fail", cfg.Backup.ExternalToolPath),
			"Install the MySQL client tools or set backup.external_tool_path")
	} else {
		result.add("external dump tool", CheckOK, path, "")
	}

	checkOffsite(cfg, result)

	if len(cfg.Connections) == 0 {
		result.add("connections", CheckWarn, "no connection profiles configured", "Add a profile under connections:")
	} else {
		for _, name := range cfg.ConnectionNames() {
			conn := cfg.Connections[name]
			if err := conn.Validate(); err != nil {
				result.add("connection "+name, CheckFail, err.Error(), "")
				continue
			}
			detail := conn.Label()
			if conn.Password == "" {
				result.add("connection "+name, CheckWarn, detail+" has no password",
					fmt.Sprintf("Set %s_CONNECTIONS_%s_PASSWORD or the password key", EnvPrefix, name))
				continue
			}
			result.add("connection "+name, CheckOK, detail, "")
		}
	}

	return result
}

func checkOffsite(cfg *Config, result *CheckResult) {
	if !cfg.Offsite.Enabled {
		result.add("offsite storage", CheckOK, "disabled", "")
		return
	}
	storage := cfg.Offsite.Storage
	if err := storage.Validate(); err != nil {
		result.add("offsite storage", CheckFail, err.Error(), "")
		return
	}
	switch {
	case storage.Local != nil && storage.Provider == backup.StorageProviderLocal:
		if err := checkWritableDir(storage.Local.BasePath); err != nil {
			result.add("offsite storage", CheckFail, err.Error(), "Mount or create the offsite directory")
			return
		}
		result.add("offsite storage", CheckOK, "local "+storage.Local.BasePath, "")
	case storage.S3 != nil && storage.S3.AccessKey == "":
		result.add("offsite storage", CheckWarn, "S3 without static keys uses the default AWS credential chain", "")
	default:
		result.add("offsite storage", CheckOK, string(storage.Provider), "")
	}
}

// checkWritableDir creates dir if needed and writes a temp file into it
func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".dbvault-check-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	name := tmp.Name()
	tmp.Close()
	return os.Remove(name)
}
