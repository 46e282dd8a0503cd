package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// ProgressBar renders a single-line bar that is redrawn in place
type ProgressBar struct {
	percent  float64
	message  string
	width    int
	writer   io.Writer
	colors   ColorSystem
	finished bool
	mu       sync.Mutex
}

// NewProgressBar creates a progress bar writing to writer
func NewProgressBar(message string, writer io.Writer, colors ColorSystem) *ProgressBar {
	return &ProgressBar{
		message: message,
		width:   40,
		writer:  writer,
		colors:  colors,
	}
}

// Set moves the bar to percent, clamped to 0..100. An empty message keeps the previous one.
func (pb *ProgressBar) Set(percent float64, message string) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.finished {
		return
	}
	switch {
	case percent < 0:
		percent = 0
	case percent > 100:
		percent = 100
	}
	pb.percent = percent
	if message != "" {
		pb.message = message
	}
	pb.renderLocked()
}

// Finish draws the final state and ends the line. Later calls are ignored.
func (pb *ProgressBar) Finish(finalMessage string, success bool) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.finished {
		return
	}
	if success {
		pb.percent = 100
	}
	if finalMessage != "" {
		pb.message = finalMessage
	}
	pb.renderLocked()
	pb.finished = true
	fmt.Fprintln(pb.writer)
}

// SetWidth sets the number of cells of the bar
func (pb *ProgressBar) SetWidth(width int) {
	pb.mu.Lock()
	pb.width = width
	pb.mu.Unlock()
}

func (pb *ProgressBar) renderLocked() {
	filled := int(float64(pb.width) * pb.percent / 100)
	if filled > pb.width {
		filled = pb.width
	}
	done := strings.Repeat("█", filled)
	todo := strings.Repeat("░", pb.width-filled)
	if pb.colors != nil {
		theme := pb.colors.Theme()
		done = pb.colors.Colorize(done, theme.Success)
		todo = pb.colors.Colorize(todo, theme.Muted)
	}
	fmt.Fprintf(pb.writer, "\r\033[K[%s%s] %5.1f%% %s", done, todo, pb.percent, pb.message)
}
