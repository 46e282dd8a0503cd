// Package display renders command output: colored status lines, tables for
// terminals, and JSON or YAML for scripts.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Service writes command output according to a DisplayConfig
type Service struct {
	config *DisplayConfig
	colors ColorSystem
	icons  *IconSystem
	writer io.Writer
}

// NewService creates a display service; a nil config uses the defaults
func NewService(config *DisplayConfig) *Service {
	if config == nil {
		config = DefaultDisplayConfig()
	}
	config.SetDefaults()

	theme := GetThemeByName(config.Theme)
	colorsOn := config.ColorEnabled && !config.QuietMode && config.OutputFormat == string(FormatTable)
	return &Service{
		config: config,
		colors: NewColorSystem(theme, colorsOn),
		icons:  NewIconSystem(config.UseIcons),
		writer: config.Writer,
	}
}

// newServiceWith is used by tests to pin color and icon detection
func newServiceWith(config *DisplayConfig, colors ColorSystem, icons *IconSystem) *Service {
	config.SetDefaults()
	return &Service{config: config, colors: colors, icons: icons, writer: config.Writer}
}

func (s *Service) Writer() io.Writer {
	return s.writer
}

func (s *Service) Format() OutputFormat {
	return OutputFormat(s.config.OutputFormat)
}

// Structured reports whether output goes to a machine-readable format
func (s *Service) Structured() bool {
	return s.Format() == FormatJSON || s.Format() == FormatYAML
}

func (s *Service) Colors() ColorSystem {
	return s.colors
}

// Header prints a title underlined with '='
func (s *Service) Header(title string) {
	if s.config.QuietMode || s.Structured() {
		return
	}
	underline := strings.Repeat("=", len([]rune(title)))
	fmt.Fprintf(s.writer, "\n%s\n%s\n", s.colors.Colorize(title, s.colors.Theme().Primary), underline)
}

// Success, Warning, Error and Info print a status line with an icon.
// Structured formats only get Error, on the same writer as the payload.

func (s *Service) Success(message string) {
	s.status("success", message, false)
}

func (s *Service) Warning(message string) {
	s.status("warning", message, false)
}

func (s *Service) Error(message string) {
	s.status("error", message, true)
}

func (s *Service) Info(message string) {
	s.status("info", message, false)
}

func (s *Service) status(icon, message string, always bool) {
	if !always && (s.config.QuietMode || s.Structured()) {
		return
	}
	prefix := s.icons.RenderWithColor(icon, s.colors)
	fmt.Fprintf(s.writer, "%s %s\n", prefix, message)
}

// Encode writes v as JSON or YAML according to the configured format
func (s *Service) Encode(v interface{}) error {
	switch s.Format() {
	case FormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		_, err = s.writer.Write(data)
		return err
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(s.writer, string(data))
		return err
	}
}

// NewTable returns a table in the configured style and width
func (s *Service) NewTable() *Table {
	t := NewTable(s.colors)
	style := s.config.tableStyle()
	style.MaxWidth = s.config.MaxTableWidth
	t.SetStyle(style)
	return t
}

// NewProgressBar returns a bar on the service writer, or one that writes
// nowhere when progress is off or output is structured
func (s *Service) NewProgressBar(message string) *ProgressBar {
	w := s.writer
	if !s.config.ShowProgress || s.config.QuietMode || s.Structured() {
		w = io.Discard
	}
	return NewProgressBar(message, w, s.colors)
}
