package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"dbvault/internal/backup"
	"dbvault/internal/database"
)

const redacted = "********"

// Template returns a commented starting configuration
func Template() string {
	return `# dbvault configuration

# Schedules and run history live in this JSON document
state_file: ~/.dbvault/state.json

# Older installations kept schedules in a global settings document;
# they are imported once when the state file does not exist yet
# legacy_config_file: ~/.dbvault/settings.yaml

log:
  level: normal            # quiet, normal, verbose, debug
  format: text             # text or json
  # file: /var/log/dbvault/dbvault.log
  rotation:
    max_size_mb: 50
    max_backups: 5
    max_age_days: 30
    compress: false

scheduler:
  interval: 1m             # how often due schedules are checked
  initial_delay: 10s       # wait after start before the first check

backup:
  batch_size: 500          # rows per INSERT statement
  external_tool_path: mysqldump
  hash_algorithm: sha256   # sha256, sha512, blake2b-256, sha3-256

# Copy every artifact of schedules with upload_offsite set
offsite:
  enabled: false
  storage:
    provider: local        # local, s3, azure, gcs
    prefix: dbvault
    local:
      base_path: /mnt/nas/backups
    # s3:
    #   bucket: my-backups
    #   region: us-east-1
    #   access_key: ""     # or DBVAULT_OFFSITE_STORAGE_S3_ACCESS_KEY
    #   secret_key: ""     # or DBVAULT_OFFSITE_STORAGE_S3_SECRET_KEY
    #   endpoint: ""       # S3-compatible servers such as MinIO
    # azure:
    #   account_name: ""
    #   account_key: ""    # or DBVAULT_OFFSITE_STORAGE_AZURE_ACCOUNT_KEY
    #   container_name: backups
    # gcs:
    #   bucket: my-backups
    #   credentials_path: ""

notifications:
  enabled: true
  only_failures: false
  log: true
  rate_limit:
    max_per_hour: 60
    burst: 10
  timeout: 30s
  # file:
  #   path: /var/log/dbvault/notifications.log
  #   format: json
  # webhook:
  #   url: https://hooks.example.com/dbvault
  # slack:
  #   webhook_url: https://hooks.slack.com/services/...
  #   channel: "#backups"

# Connection profiles referenced by schedules
connections:
  primary:
    host: localhost
    port: 3306
    username: backup
    password: ""           # or DBVAULT_CONNECTIONS_PRIMARY_PASSWORD
    timeout: 30s
`
}

// WriteTemplate writes Template to path. An existing file is kept unless force is set.
func WriteTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(Template()), 0o600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}

// Marshal renders the effective configuration as YAML with secrets masked
func Marshal(cfg *Config) ([]byte, error) {
	masked := *cfg

	masked.Connections = make(map[string]database.DatabaseConfig, len(cfg.Connections))
	for name, conn := range cfg.Connections {
		if conn.Password != "" {
			conn.Password = redacted
		}
		masked.Connections[name] = conn
	}

	storage := cfg.Offsite.Storage
	if storage.S3 != nil && storage.S3.SecretKey != "" {
		s3 := *storage.S3
		s3.SecretKey = redacted
		storage.S3 = &s3
	}
	if storage.Azure != nil && storage.Azure.AccountKey != "" {
		az := *storage.Azure
		az.AccountKey = redacted
		storage.Azure = &az
	}
	masked.Offsite.Storage = storage
	masked.Backup = backup.Options{
		BatchSize:        cfg.Backup.BatchSize,
		ExternalToolPath: cfg.Backup.ExternalToolPath,
		HashAlgorithm:    cfg.Backup.HashAlgorithm,
		CopyChunkSize:    cfg.Backup.CopyChunkSize,
	}

	data, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal configuration: %w", err)
	}
	return data, nil
}
