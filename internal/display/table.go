package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignCenter
	AlignRight
)

// TableStyle defines the visual style of a table
type TableStyle struct {
	Name            string
	Border          BorderStyle
	HeaderSeparator bool
	RowSeparator    bool
	Padding         int
	// MaxWidth of zero means the terminal width
	MaxWidth int
}

// BorderStyle defines table border characters
type BorderStyle struct {
	TopLeft, TopRight, BottomLeft, BottomRight string
	Horizontal, Vertical                       string
	Cross, TopTee, BottomTee, LeftTee, RightTee string
}

var (
	ASCIIBorderStyle = BorderStyle{
		TopLeft: "+", TopRight: "+", BottomLeft: "+", BottomRight: "+",
		Horizontal: "-", Vertical: "|",
		Cross: "+", TopTee: "+", BottomTee: "+", LeftTee: "+", RightTee: "+",
	}

	RoundedBorderStyle = BorderStyle{
		TopLeft: "╭", TopRight: "╮", BottomLeft: "╰", BottomRight: "╯",
		Horizontal: "─", Vertical: "│",
		Cross: "┼", TopTee: "┬", BottomTee: "┴", LeftTee: "├", RightTee: "┤",
	}

	NoBorderStyle = BorderStyle{}
)

// DefaultTableStyle is a simple ASCII table
func DefaultTableStyle() TableStyle {
	return TableStyle{Name: "default", Border: ASCIIBorderStyle, HeaderSeparator: true, Padding: 1}
}

// RoundedTableStyle uses Unicode box drawing characters
func RoundedTableStyle() TableStyle {
	return TableStyle{Name: "rounded", Border: RoundedBorderStyle, HeaderSeparator: true, Padding: 1}
}

// CompactTableStyle has no borders, suited to grep and awk
func CompactTableStyle() TableStyle {
	return TableStyle{Name: "compact", Border: NoBorderStyle, Padding: 1}
}

// GridTableStyle separates every row
func GridTableStyle() TableStyle {
	return TableStyle{Name: "grid", Border: ASCIIBorderStyle, HeaderSeparator: true, RowSeparator: true, Padding: 1}
}

// CellColorFunc picks the color of a body cell; ColorReset leaves it plain
type CellColorFunc func(row, col int, value string) Color

// Table collects headers and rows and renders them with a TableStyle
type Table struct {
	headers       []string
	rows          [][]string
	alignments    map[int]Alignment
	style         TableStyle
	colors        ColorSystem
	cellColor     CellColorFunc
	terminalWidth int
}

// NewTable creates a table in the default style
func NewTable(colors ColorSystem) *Table {
	return &Table{
		alignments:    make(map[int]Alignment),
		style:         DefaultTableStyle(),
		colors:        colors,
		terminalWidth: getTerminalWidth(),
	}
}

func (t *Table) SetHeaders(headers ...string) {
	t.headers = headers
}

func (t *Table) AddRow(row ...string) {
	t.rows = append(t.rows, row)
}

func (t *Table) SetColumnAlignment(column int, alignment Alignment) {
	t.alignments[column] = alignment
}

func (t *Table) SetStyle(style TableStyle) {
	t.style = style
}

func (t *Table) SetCellColor(fn CellColorFunc) {
	t.cellColor = fn
}

// Len is the number of body rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Render returns the formatted table
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}

	widths := t.fitWidths(t.columnWidths())
	hasBorder := t.style.Border.Horizontal != ""

	var b strings.Builder
	if hasBorder {
		b.WriteString(t.border(widths, t.style.Border.TopLeft, t.style.Border.TopTee, t.style.Border.TopRight))
	}
	if len(t.headers) > 0 {
		b.WriteString(t.row(-1, t.headers, widths))
		if t.style.HeaderSeparator && hasBorder {
			b.WriteString(t.border(widths, t.style.Border.LeftTee, t.style.Border.Cross, t.style.Border.RightTee))
		}
	}
	for i, row := range t.rows {
		b.WriteString(t.row(i, row, widths))
		if t.style.RowSeparator && hasBorder && i < len(t.rows)-1 {
			b.WriteString(t.border(widths, t.style.Border.LeftTee, t.style.Border.Cross, t.style.Border.RightTee))
		}
	}
	if hasBorder {
		b.WriteString(t.border(widths, t.style.Border.BottomLeft, t.style.Border.BottomTee, t.style.Border.BottomRight))
	}
	return b.String()
}

// RenderTo writes the table to w
func (t *Table) RenderTo(w io.Writer) {
	fmt.Fprint(w, t.Render())
}

func (t *Table) columnCount() int {
	n := len(t.headers)
	for _, row := range t.rows {
		if len(row) > n {
			n = len(row)
		}
	}
	return n
}

// columnWidths returns content widths, without padding
func (t *Table) columnWidths() []int {
	widths := make([]int, t.columnCount())
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := utf8.RuneCountInString(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	return widths
}

// fitWidths shrinks the widest columns until the table fits the maximum width
func (t *Table) fitWidths(widths []int) []int {
	maxWidth := t.style.MaxWidth
	if maxWidth == 0 {
		maxWidth = t.terminalWidth
	}
	if maxWidth <= 0 || len(widths) == 0 {
		return widths
	}

	const minColumn = 4
	for t.totalWidth(widths) > maxWidth {
		widest := 0
		for i := range widths {
			if widths[i] > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= minColumn {
			break
		}
		widths[widest]--
	}
	return widths
}

func (t *Table) totalWidth(widths []int) int {
	total := 0
	for _, w := range widths {
		total += w + t.style.Padding*2
	}
	if t.style.Border.Vertical != "" {
		total += len(widths) + 1
	}
	return total
}

func (t *Table) border(widths []int, left, mid, right string) string {
	var b strings.Builder
	b.WriteString(left)
	for i, w := range widths {
		b.WriteString(strings.Repeat(t.style.Border.Horizontal, w+t.style.Padding*2))
		if i < len(widths)-1 {
			b.WriteString(mid)
		}
	}
	b.WriteString(right)
	b.WriteString("\n")
	return b.String()
}

// row renders one line; index -1 is the header
func (t *Table) row(index int, cells []string, widths []int) string {
	var b strings.Builder
	b.WriteString(t.style.Border.Vertical)
	for i, w := range widths {
		var cell string
		if i < len(cells) {
			cell = cells[i]
		}
		if i > 0 && t.style.Border.Vertical == "" {
			b.WriteString(" ")
		}
		b.WriteString(t.cell(index, i, cell, w))
		b.WriteString(t.style.Border.Vertical)
	}
	return strings.TrimRight(b.String(), " ") + "\n"
}

// cell truncates, pads and then colors, so escape codes never count toward width
func (t *Table) cell(rowIndex, col int, content string, width int) string {
	value := content
	runes := []rune(content)
	if len(runes) > width {
		if width > 3 {
			content = string(runes[:width-3]) + "..."
		} else {
			content = string(runes[:width])
		}
	}
	pad := width - utf8.RuneCountInString(content)

	var left, right int
	switch t.alignments[col] {
	case AlignCenter:
		left = pad / 2
		right = pad - left
	case AlignRight:
		left = pad
	default:
		right = pad
	}

	if t.colors != nil {
		switch {
		case rowIndex < 0:
			content = t.colors.Colorize(content, t.colors.Theme().Primary)
		case t.cellColor != nil:
			content = t.colors.Colorize(content, t.cellColor(rowIndex, col, value))
		}
	}

	padding := strings.Repeat(" ", t.style.Padding)
	return padding + strings.Repeat(" ", left) + content + strings.Repeat(" ", right) + padding
}

// getTerminalWidth returns the width of stdout, or 0 when it is not a terminal
func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return width
}
