package store

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"dbvault/internal/schedule"
)

// legacyDocument is the subset of the old global configuration that held backups
type legacyDocument struct {
	Schedules []interface{} `yaml:"backup_schedules"`
	History   []interface{} `yaml:"backup_history"`
}

// readLegacy accepts YAML or JSON. Records are normalised through JSON so
// quoted and unquoted timestamps decode the same way.
func readLegacy(path string) ([]*schedule.Schedule, []schedule.HistoryEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var legacy legacyDocument
	if err := yaml.Unmarshal(data, &legacy); err != nil {
		return nil, nil, fmt.Errorf("failed to parse legacy config: %w", err)
	}

	var schedules []*schedule.Schedule
	if err := reencode(legacy.Schedules, &schedules); err != nil {
		return nil, nil, fmt.Errorf("invalid backup_schedules: %w", err)
	}
	var history []schedule.HistoryEntry
	if err := reencode(legacy.History, &history); err != nil {
		return nil, nil, fmt.Errorf("invalid backup_history: %w", err)
	}

	valid := schedules[:0]
	for _, sc := range schedules {
		if sc != nil && sc.ID != "" {
			valid = append(valid, sc)
		}
	}
	return valid, history, nil
}

func reencode(in []interface{}, out interface{}) error {
	if len(in) == 0 {
		return nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
