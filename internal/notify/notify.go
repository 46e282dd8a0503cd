// Package notify delivers best-effort completion and failure notices for
// backup runs. Delivery never blocks the caller and failures are only logged.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dbvault/internal/logging"
)

// Severity of a notification
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is one completion or failure notice
type Notification struct {
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	Severity     Severity  `json:"severity"`
	ScheduleID   string    `json:"schedule_id,omitempty"`
	ScheduleName string    `json:"schedule_name,omitempty"`
	DatabaseName string    `json:"database,omitempty"`
	OutputPath   string    `json:"output_path,omitempty"`
	Success      bool      `json:"success"`
	Timestamp    time.Time `json:"timestamp"`
}

// Notifier is the fire-and-forget sink the scheduler reports to
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Channel is one delivery mechanism
type Channel interface {
	Send(ctx context.Context, n Notification) error
	GetType() string
	IsEnabled() bool
}

// Config holds the notification settings
type Config struct {
	Enabled      bool            `mapstructure:"enabled" yaml:"enabled"`
	OnlyFailures bool            `mapstructure:"only_failures" yaml:"only_failures"`
	Log          bool            `mapstructure:"log" yaml:"log"`
	File         *FileConfig     `mapstructure:"file" yaml:"file,omitempty"`
	Webhook      *WebhookConfig  `mapstructure:"webhook" yaml:"webhook,omitempty"`
	Slack        *SlackConfig    `mapstructure:"slack" yaml:"slack,omitempty"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Timeout      time.Duration   `mapstructure:"timeout" yaml:"timeout"`
}

// RateLimitConfig prevents notification spam
type RateLimitConfig struct {
	MaxPerHour int `mapstructure:"max_per_hour" yaml:"max_per_hour"`
	Burst      int `mapstructure:"burst" yaml:"burst"`
}

// DefaultConfig logs every notice and allows 60 per hour
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Log:       true,
		RateLimit: RateLimitConfig{MaxPerHour: 60, Burst: 10},
		Timeout:   30 * time.Second,
	}
}

// Validate checks the channel settings
func (c *Config) Validate() error {
	var problems []string
	if c.RateLimit.MaxPerHour < 0 {
		problems = append(problems, "rate_limit.max_per_hour cannot be negative")
	}
	if c.Webhook != nil && c.Webhook.URL == "" {
		problems = append(problems, "webhook.url is required when the webhook channel is configured")
	}
	if c.Slack != nil && c.Slack.WebhookURL == "" {
		problems = append(problems, "slack.webhook_url is required when the slack channel is configured")
	}
	if c.File != nil && c.File.Path == "" {
		problems = append(problems, "file.path is required when the file channel is configured")
	}
	if len(problems) > 0 {
		return fmt.Errorf("notification configuration invalid: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Manager fans notifications out to the configured channels
type Manager struct {
	logger   *logging.Logger
	config   Config
	channels []Channel
	limiter  *rate.Limiter
	wg       sync.WaitGroup
}

// NewManager builds the channels named in config
func NewManager(logger *logging.Logger, config Config) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	m := &Manager{logger: logger, config: config}
	if config.Log {
		m.addChannel(NewLogChannel(logger))
	}
	if config.File != nil {
		m.addChannel(NewFileChannel(*config.File))
	}
	if config.Webhook != nil {
		m.addChannel(NewWebhookChannel(*config.Webhook))
	}
	if config.Slack != nil {
		m.addChannel(NewSlackChannel(*config.Slack))
	}

	if config.RateLimit.MaxPerHour > 0 {
		burst := config.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(config.RateLimit.MaxPerHour)), burst)
	}
	return m
}

func (m *Manager) addChannel(ch Channel) {
	m.channels = append(m.channels, ch)
}

// Notify dispatches n in the background and returns immediately
func (m *Manager) Notify(ctx context.Context, n Notification) {
	if !m.config.Enabled {
		return
	}
	if m.config.OnlyFailures && n.Success {
		return
	}
	if m.limiter != nil && !m.limiter.Allow() {
		m.logger.WithFields(map[string]interface{}{
			"title": n.Title,
		}).Warn("Notification rate limit exceeded, skipping")
		return
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.Timeout)
		defer cancel()
		m.send(sendCtx, n)
	}()
}

func (m *Manager) send(ctx context.Context, n Notification) {
	for _, channel := range m.channels {
		if !channel.IsEnabled() {
			continue
		}
		if err := channel.Send(ctx, n); err != nil {
			m.logger.WithFields(map[string]interface{}{
				"channel": channel.GetType(),
				"title":   n.Title,
				"error":   err.Error(),
			}).Warn("Failed to send notification")
			continue
		}
		m.logger.WithFields(map[string]interface{}{
			"channel": channel.GetType(),
			"title":   n.Title,
		}).Debug("Notification sent")
	}
}

// Wait blocks until in-flight deliveries finish
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Discard drops every notification
type Discard struct{}

func (Discard) Notify(context.Context, Notification) {}
