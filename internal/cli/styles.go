package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8A8A8A"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F45E6E"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6EF4A1"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6EC4F4"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F4C96E"))
)

// statusStyles colours worker and task statuses.
var statusStyles = map[string]lipgloss.Style{
	"idle":         successStyle,
	"busy":         infoStyle,
	"connected":    warnStyle,
	"disconnected": errorStyle,
	"PENDING":      warnStyle,
	"IN_PROGRESS":  infoStyle,
	"COMPLETED":    successStyle,
	"FAILED":       errorStyle,
}

// renderStatus pads s to width and colours it by value. Padding happens
// before styling so escape codes do not break column alignment.
func renderStatus(s string, width int) string {
	padded := fmt.Sprintf("%-*s", width, s)
	if st, ok := statusStyles[s]; ok {
		return st.Render(padded)
	}
	return padded
}

// printStyled writes a formatted, styled line to w.
func printStyled(w io.Writer, style lipgloss.Style, format string, a ...any) {
	fmt.Fprintln(w, style.Render(fmt.Sprintf(format, a...)))
}

// ago renders t relative to now, or "-" for the zero time.
func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

// shorten cuts s to n runes with an ellipsis.
func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
