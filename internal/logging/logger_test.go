package logging

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   LogLevel
	}{
		{
			name:   "default config",
			config: Config{Level: LogLevelNormal, Format: "text"},
			want:   LogLevelNormal,
		},
		{
			name:   "verbose config",
			config: Config{Level: LogLevelVerbose, Format: "json"},
			want:   LogLevelVerbose,
		},
		{
			name:   "quiet config",
			config: Config{Level: LogLevelQuiet, Format: "text"},
			want:   LogLevelQuiet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf

			logger, err := NewLogger(tt.config)
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			if logger.GetLevel() != tt.want {
				t.Errorf("NewLogger() level = %v, want %v", logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestNewLoggerWithRotatingFile(t *testing.T) {
	var buf bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "logs", "dbvault.log")

	logger, err := NewLogger(Config{
		Level:    LogLevelNormal,
		Output:   &buf,
		LogFile:  logFile,
		Rotation: RotationConfig{MaxSizeMB: 1, MaxBackups: 2},
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Info("scheduler started")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("expected log file to be written: %v", err)
	}
	if !strings.Contains(string(data), "scheduler started") {
		t.Errorf("log file missing message, got: %s", data)
	}
	if !strings.Contains(buf.String(), "scheduler started") {
		t.Errorf("primary output missing message, got: %s", buf.String())
	}
}

func TestLogBackupRun(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf})

	logger.LogBackupRun("nightly", "shop", "/tmp/shop.sql", 2048, time.Second, nil)
	output := buf.String()
	for _, want := range []string{"Backup run completed", "schedule=nightly", "database=shop", "bytes=2048"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in output, got: %s", want, output)
		}
	}

	buf.Reset()
	logger.LogBackupRun("nightly", "shop", "", 0, time.Second, errors.New("disk full"))
	output = buf.String()
	if !strings.Contains(output, "Backup run failed") || !strings.Contains(output, "disk full") {
		t.Errorf("Expected failure entry, got: %s", output)
	}
	if strings.Contains(output, "bytes=") {
		t.Errorf("Did not expect bytes field on empty run, got: %s", output)
	}
}

func TestLogScheduleCheck(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf})

	logger.LogScheduleCheck(3, 0, 1, time.Millisecond)
	if buf.Len() != 0 {
		t.Errorf("Idle check should log at debug level only, got: %s", buf.String())
	}

	logger.LogScheduleCheck(3, 2, 0, time.Millisecond)
	if !strings.Contains(buf.String(), "due=2") {
		t.Errorf("Expected due=2, got: %s", buf.String())
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelQuiet, Output: &buf})

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected quiet logger to drop info, got: %s", buf.String())
	}

	logger.SetLevel(LogLevelVerbose)
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("Expected debug output after SetLevel, got: %s", buf.String())
	}
	if logger.GetLevel() != LogLevelVerbose {
		t.Errorf("GetLevel() = %v, want %v", logger.GetLevel(), LogLevelVerbose)
	}
}

func TestLogOperationStart(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelVerbose, Output: &buf, Format: "text"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	finish := logger.LogOperationStart("dump_table", map[string]interface{}{"table": "users"})
	if !strings.Contains(buf.String(), "Operation started") || !strings.Contains(buf.String(), "table=users") {
		t.Errorf("Expected start message, got: %s", buf.String())
	}

	buf.Reset()
	finish(nil)
	if !strings.Contains(buf.String(), "success=true") {
		t.Errorf("Expected success=true, got: %s", buf.String())
	}

	finish2 := logger.LogOperationStart("dump_table", nil)
	buf.Reset()
	finish2(errors.New("lost connection"))
	output := buf.String()
	if !strings.Contains(output, "Operation failed") || !strings.Contains(output, "lost connection") {
		t.Errorf("Expected failure message, got: %s", output)
	}
}

func TestCorrelationID(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "run-123")
	if got := CorrelationIDFromContext(ctx); got != "run-123" {
		t.Errorf("CorrelationIDFromContext() = %v, want run-123", got)
	}
	if got := CorrelationIDFromContext(context.Background()); got != "" {
		t.Errorf("Expected empty id, got %v", got)
	}

	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf})
	logger.WithContext(ctx).Info("tagged")
	if !strings.Contains(buf.String(), "correlation_id=run-123") {
		t.Errorf("Expected correlation id field, got: %s", buf.String())
	}
}
