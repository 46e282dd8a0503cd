package display

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color represents terminal color options
type Color int

const (
	ColorReset Color = iota
	ColorBlack
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorMagenta
	ColorCyan
	ColorWhite
	ColorBrightRed
	ColorBrightGreen
	ColorBrightYellow
	ColorBrightBlue
	ColorBrightMagenta
	ColorBrightCyan
	ColorBrightWhite
)

// ColorTheme defines color scheme for different message types
type ColorTheme struct {
	Primary   Color
	Success   Color
	Warning   Color
	Error     Color
	Info      Color
	Muted     Color
	Highlight Color
}

// ColorSystem handles color application and terminal detection
type ColorSystem interface {
	Colorize(text string, color Color) string
	Sprintf(color Color, format string, args ...interface{}) string
	IsColorSupported() bool
	Theme() ColorTheme
}

type colorSystem struct {
	theme          ColorTheme
	colorSupported bool
	colorMap       map[Color]*color.Color
}

// NewColorSystem creates a color system. Colors are only emitted when
// enabled is set and the terminal supports them.
func NewColorSystem(theme ColorTheme, enabled bool) ColorSystem {
	return newColorSystem(theme, enabled && DetectColorSupport())
}

// NewForcedColorSystem skips terminal detection; used for tests and FORCE_COLOR
func NewForcedColorSystem(theme ColorTheme) ColorSystem {
	return newColorSystem(theme, true)
}

func newColorSystem(theme ColorTheme, supported bool) *colorSystem {
	cs := &colorSystem{
		theme:          theme,
		colorSupported: supported,
		colorMap: map[Color]*color.Color{
			ColorReset:         color.New(color.Reset),
			ColorBlack:         color.New(color.FgBlack),
			ColorRed:           color.New(color.FgRed),
			ColorGreen:         color.New(color.FgGreen),
			ColorYellow:        color.New(color.FgYellow),
			ColorBlue:          color.New(color.FgBlue),
			ColorMagenta:       color.New(color.FgMagenta),
			ColorCyan:          color.New(color.FgCyan),
			ColorWhite:         color.New(color.FgWhite),
			ColorBrightRed:     color.New(color.FgHiRed),
			ColorBrightGreen:   color.New(color.FgHiGreen),
			ColorBrightYellow:  color.New(color.FgHiYellow),
			ColorBrightBlue:    color.New(color.FgHiBlue),
			ColorBrightMagenta: color.New(color.FgHiMagenta),
			ColorBrightCyan:    color.New(color.FgHiCyan),
			ColorBrightWhite:   color.New(color.FgHiWhite),
		},
	}
	// per-color switches so the package-level color.NoColor stays untouched
	for _, c := range cs.colorMap {
		if supported {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return cs
}

// DetectColorSupport checks stdout and the NO_COLOR, FORCE_COLOR and TERM variables
func DetectColorSupport() bool {
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if termenv.EnvNoColor() || os.Getenv("TERM") == "dumb" {
		return false
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return false
	}
	return termenv.EnvColorProfile() != termenv.Ascii
}

// Colorize applies color to text if color is supported
func (cs *colorSystem) Colorize(text string, clr Color) string {
	if !cs.colorSupported || clr == ColorReset {
		return text
	}
	if c, ok := cs.colorMap[clr]; ok {
		return c.Sprint(text)
	}
	return text
}

// Sprintf formats text with color using format string
func (cs *colorSystem) Sprintf(clr Color, format string, args ...interface{}) string {
	return cs.Colorize(fmt.Sprintf(format, args...), clr)
}

func (cs *colorSystem) IsColorSupported() bool {
	return cs.colorSupported
}

func (cs *colorSystem) Theme() ColorTheme {
	return cs.theme
}

// DarkColorTheme returns a color theme optimized for dark terminals
func DarkColorTheme() ColorTheme {
	return ColorTheme{
		Primary:   ColorBrightBlue,
		Success:   ColorBrightGreen,
		Warning:   ColorBrightYellow,
		Error:     ColorBrightRed,
		Info:      ColorCyan,
		Muted:     ColorWhite,
		Highlight: ColorBrightBlue,
	}
}

// LightColorTheme returns a color theme optimized for light terminals
func LightColorTheme() ColorTheme {
	return ColorTheme{
		Primary:   ColorBlue,
		Success:   ColorGreen,
		Warning:   ColorYellow,
		Error:     ColorRed,
		Info:      ColorCyan,
		Muted:     ColorMagenta,
		Highlight: ColorBlue,
	}
}

// HighContrastColorTheme returns a high-contrast color theme for accessibility
func HighContrastColorTheme() ColorTheme {
	return ColorTheme{
		Primary:   ColorBrightBlue,
		Success:   ColorBrightGreen,
		Warning:   ColorBrightYellow,
		Error:     ColorBrightRed,
		Info:      ColorBrightCyan,
		Muted:     ColorWhite,
		Highlight: ColorBrightWhite,
	}
}

// PlainTextTheme maps everything to ColorReset
func PlainTextTheme() ColorTheme {
	return ColorTheme{}
}

// GetThemeByName returns a color theme by name, dark when unknown
func GetThemeByName(name string) ColorTheme {
	switch ThemeName(name) {
	case ThemeLight:
		return LightColorTheme()
	case ThemeHighContrast:
		return HighContrastColorTheme()
	case ThemePlain:
		return PlainTextTheme()
	default:
		return DarkColorTheme()
	}
}
