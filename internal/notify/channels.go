package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dbvault/internal/logging"
)

// LogChannel writes notices to the application log
type LogChannel struct {
	logger *logging.Logger
}

func NewLogChannel(logger *logging.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (lc *LogChannel) Send(_ context.Context, n Notification) error {
	entry := lc.logger.WithFields(map[string]interface{}{
		"schedule": n.ScheduleName,
		"database": n.DatabaseName,
		"path":     n.OutputPath,
	})
	switch n.Severity {
	case SeverityError:
		entry.Error(n.Title + ": " + n.Message)
	case SeverityWarning:
		entry.Warn(n.Title + ": " + n.Message)
	default:
		entry.Info(n.Title + ": " + n.Message)
	}
	return nil
}

func (lc *LogChannel) GetType() string { return "log" }

func (lc *LogChannel) IsEnabled() bool { return lc.logger != nil }

// FileConfig for file-based notifications
type FileConfig struct {
	Path   string `mapstructure:"path" yaml:"path"`
	Format string `mapstructure:"format" yaml:"format"` // json, text
}

// FileChannel appends notices to a file
type FileChannel struct {
	mu     sync.Mutex
	config FileConfig
}

func NewFileChannel(config FileConfig) *FileChannel {
	return &FileChannel{config: config}
}

func (fc *FileChannel) Send(_ context.Context, n Notification) error {
	if fc.config.Path == "" {
		return fmt.Errorf("file path not configured")
	}

	var content string
	switch fc.config.Format {
	case "json":
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("failed to marshal notification to JSON: %w", err)
		}
		content = string(data) + "\n"
	default:
		content = fmt.Sprintf("[%s] %s - %s: %s\n",
			n.Timestamp.Format(time.RFC3339),
			n.Severity,
			n.Title,
			n.Message)
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(fc.config.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create notification directory: %w", err)
	}
	file, err := os.OpenFile(fc.config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open notification file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(content); err != nil {
		return fmt.Errorf("failed to write notification to file: %w", err)
	}
	return nil
}

func (fc *FileChannel) GetType() string { return "file" }

func (fc *FileChannel) IsEnabled() bool { return fc.config.Path != "" }

// WebhookConfig for generic webhook notifications
type WebhookConfig struct {
	URL     string            `mapstructure:"url" yaml:"url"`
	Method  string            `mapstructure:"method" yaml:"method,omitempty"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
}

// WebhookChannel posts the notice as JSON
type WebhookChannel struct {
	config WebhookConfig
	client *http.Client
}

func NewWebhookChannel(config WebhookConfig) *WebhookChannel {
	return &WebhookChannel{config: config, client: &http.Client{}}
}

func (wc *WebhookChannel) Send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	method := wc.config.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, wc.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range wc.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := wc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}

func (wc *WebhookChannel) GetType() string { return "webhook" }

func (wc *WebhookChannel) IsEnabled() bool { return wc.config.URL != "" }

// SlackConfig for Slack incoming webhooks
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
	Channel    string `mapstructure:"channel" yaml:"channel,omitempty"`
	Username   string `mapstructure:"username" yaml:"username,omitempty"`
}

// SlackChannel posts an attachment-style Slack message
type SlackChannel struct {
	config SlackConfig
	client *http.Client
}

func NewSlackChannel(config SlackConfig) *SlackChannel {
	return &SlackChannel{config: config, client: &http.Client{}}
}

func slackColor(s Severity) string {
	switch s {
	case SeverityError:
		return "danger"
	case SeverityWarning:
		return "warning"
	}
	return "good"
}

func (sc *SlackChannel) Send(ctx context.Context, n Notification) error {
	payload := map[string]interface{}{
		"text": n.Title,
		"attachments": []map[string]interface{}{
			{
				"color":     slackColor(n.Severity),
				"title":     n.Title,
				"text":      n.Message,
				"timestamp": n.Timestamp.Unix(),
				"fields": []map[string]interface{}{
					{"title": "Schedule", "value": n.ScheduleName, "short": true},
					{"title": "Database", "value": n.DatabaseName, "short": true},
				},
			},
		},
	}
	if sc.config.Channel != "" {
		payload["channel"] = sc.config.Channel
	}
	if sc.config.Username != "" {
		payload["username"] = sc.config.Username
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sc.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create Slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("Slack returned error status: %d", resp.StatusCode)
	}
	return nil
}

func (sc *SlackChannel) GetType() string { return "slack" }

func (sc *SlackChannel) IsEnabled() bool { return sc.config.WebhookURL != "" }
