package render

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Styles for the bright ANSI palette downstream shell themes expect
// (91/93/92/90/95).
var (
	Red     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	Yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	Green   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	Dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	Magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
)

// EnableANSIColor forces ANSI output even though stdout is a pipe: the
// host application renders the escape codes itself. NO_COLOR wins.
func EnableANSIColor() {
	if os.Getenv("NO_COLOR") != "" {
		return
	}
	lipgloss.SetColorProfile(termenv.ANSI)
}

// Threshold picks the severity style for a value where low means trouble:
// red at or below low, yellow at or below high, green above.
func Threshold(v, low, high float64) lipgloss.Style {
	switch {
	case v <= low:
		return Red
	case v <= high:
		return Yellow
	default:
		return Green
	}
}

// Compose joins non-empty segments with single spaces.
func Compose(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// StaleMarker annotates output served from an expired cache entry.
func StaleMarker(age time.Duration) string {
	return Dim.Render(fmt.Sprintf("(stale %s)", shortDuration(age)))
}

// UnavailableMarker is shown when a platform has no data at all, fresh
// or stale. It is the only user-visible failure mode.
func UnavailableMarker() string {
	return Dim.Render("[no data]")
}

func shortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
