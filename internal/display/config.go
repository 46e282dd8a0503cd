package display

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// OutputFormat selects how listings are written
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ThemeName represents available color themes
type ThemeName string

const (
	ThemeDark         ThemeName = "dark"
	ThemeLight        ThemeName = "light"
	ThemeHighContrast ThemeName = "high-contrast"
	ThemePlain        ThemeName = "plain"
)

// TableStyleName represents available table styles
type TableStyleName string

const (
	TableStyleDefault TableStyleName = "default"
	TableStyleRounded TableStyleName = "rounded"
	TableStyleCompact TableStyleName = "compact"
	TableStyleGrid    TableStyleName = "grid"
)

// DisplayConfig holds the options of the command line output
type DisplayConfig struct {
	ColorEnabled  bool   `mapstructure:"color_enabled" yaml:"color_enabled"`
	Theme         string `mapstructure:"theme" yaml:"theme"`
	OutputFormat  string `mapstructure:"output_format" yaml:"output_format"`
	UseIcons      bool   `mapstructure:"use_icons" yaml:"use_icons"`
	ShowProgress  bool   `mapstructure:"show_progress" yaml:"show_progress"`
	QuietMode     bool   `mapstructure:"quiet" yaml:"quiet"`
	TableStyle    string `mapstructure:"table_style" yaml:"table_style"`
	MaxTableWidth int    `mapstructure:"max_table_width" yaml:"max_table_width"`

	Writer io.Writer `mapstructure:"-" yaml:"-"`
}

// DefaultDisplayConfig returns a default display configuration
func DefaultDisplayConfig() *DisplayConfig {
	return &DisplayConfig{
		ColorEnabled:  true,
		Theme:         string(ThemeDark),
		OutputFormat:  string(FormatTable),
		UseIcons:      true,
		ShowProgress:  true,
		TableStyle:    string(TableStyleDefault),
		MaxTableWidth: 120,
		Writer:        os.Stdout,
	}
}

// Validate validates the display configuration
func (dc *DisplayConfig) Validate() error {
	var errs []string

	if !contains([]string{string(ThemeDark), string(ThemeLight), string(ThemeHighContrast), string(ThemePlain)}, dc.Theme) {
		errs = append(errs, fmt.Sprintf("invalid theme '%s'", dc.Theme))
	}
	formats := []string{string(FormatTable), string(FormatJSON), string(FormatYAML)}
	if !contains(formats, dc.OutputFormat) {
		errs = append(errs, fmt.Sprintf("invalid output format '%s', must be one of: %s", dc.OutputFormat, strings.Join(formats, ", ")))
	}
	if !contains([]string{string(TableStyleDefault), string(TableStyleRounded), string(TableStyleCompact), string(TableStyleGrid)}, dc.TableStyle) {
		errs = append(errs, fmt.Sprintf("invalid table style '%s'", dc.TableStyle))
	}
	if dc.MaxTableWidth < 40 || dc.MaxTableWidth > 300 {
		errs = append(errs, fmt.Sprintf("max table width must be between 40 and 300, got %d", dc.MaxTableWidth))
	}

	if len(errs) > 0 {
		return fmt.Errorf("display configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SetDefaults sets default values for unspecified configuration options
func (dc *DisplayConfig) SetDefaults() {
	if dc.Theme == "" {
		dc.Theme = string(ThemeDark)
	}
	if dc.OutputFormat == "" {
		dc.OutputFormat = string(FormatTable)
	}
	if dc.TableStyle == "" {
		dc.TableStyle = string(TableStyleDefault)
	}
	if dc.MaxTableWidth == 0 {
		dc.MaxTableWidth = 120
	}
	if dc.Writer == nil {
		dc.Writer = os.Stdout
	}
}

func (dc *DisplayConfig) tableStyle() TableStyle {
	switch TableStyleName(dc.TableStyle) {
	case TableStyleRounded:
		return RoundedTableStyle()
	case TableStyleCompact:
		return CompactTableStyle()
	case TableStyleGrid:
		return GridTableStyle()
	default:
		return DefaultTableStyle()
	}
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
