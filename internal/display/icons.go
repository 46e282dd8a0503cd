package display

import (
	"os"

	"github.com/mattn/go-isatty"
)

// Icon represents a visual icon with Unicode and ASCII fallbacks
type Icon struct {
	Unicode string
	ASCII   string
	Color   Color
}

// IconSystem handles icon rendering with fallbacks
type IconSystem struct {
	unicode bool
	icons   map[string]Icon
}

var defaultIcons = map[string]Icon{
	"success":   {Unicode: "✓", ASCII: "[OK]", Color: ColorGreen},
	"error":     {Unicode: "✗", ASCII: "[ERR]", Color: ColorRed},
	"warning":   {Unicode: "!", ASCII: "[WARN]", Color: ColorYellow},
	"info":      {Unicode: "ℹ", ASCII: "[INFO]", Color: ColorBlue},
	"running":   {Unicode: "▶", ASCII: ">", Color: ColorCyan},
	"paused":    {Unicode: "⏸", ASCII: "||", Color: ColorYellow},
	"canceled":  {Unicode: "■", ASCII: "[X]", Color: ColorYellow},
	"enabled":   {Unicode: "●", ASCII: "on", Color: ColorGreen},
	"disabled":  {Unicode: "○", ASCII: "off", Color: ColorWhite},
	"unhealthy": {Unicode: "⚠", ASCII: "[!]", Color: ColorBrightYellow},
	"arrow":     {Unicode: "→", ASCII: "->", Color: ColorBlue},
	"bullet":    {Unicode: "•", ASCII: "*", Color: ColorWhite},
}

// NewIconSystem creates an icon system, detecting Unicode support from the environment
func NewIconSystem(enabled bool) *IconSystem {
	return &IconSystem{unicode: enabled && detectUnicodeSupport(), icons: defaultIcons}
}

// detectUnicodeSupport checks FORCE_UNICODE, NO_UNICODE, the locale and stdout
func detectUnicodeSupport() bool {
	if os.Getenv("FORCE_UNICODE") != "" {
		return true
	}
	if os.Getenv("NO_UNICODE") != "" {
		return false
	}
	if os.Getenv("LANG") == "C" || os.Getenv("LC_ALL") == "C" {
		return false
	}
	if term := os.Getenv("TERM"); term == "dumb" || term == "vt100" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// Get returns the icon for name, or a question mark
func (is *IconSystem) Get(name string) Icon {
	if icon, ok := is.icons[name]; ok {
		return icon
	}
	return Icon{Unicode: "?", ASCII: "?", Color: ColorWhite}
}

// Render returns the Unicode or ASCII form of the icon
func (is *IconSystem) Render(name string) string {
	icon := is.Get(name)
	if is.unicode {
		return icon.Unicode
	}
	return icon.ASCII
}

// RenderWithColor returns the icon with its color applied
func (is *IconSystem) RenderWithColor(name string, cs ColorSystem) string {
	return cs.Colorize(is.Render(name), is.Get(name).Color)
}

// SetUnicode overrides detection
func (is *IconSystem) SetUnicode(enabled bool) {
	is.unicode = enabled
}
