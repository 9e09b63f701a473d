// Package theme holds the terminal styles used by the mailsync CLI.
package theme

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorBorder = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for section headers such as a folder name above a
// listing.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// MessagePanelStyle wraps the body of a single message.
var MessagePanelStyle = lipgloss.NewStyle().
	Padding(1, 2).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// LabelStyle renders header field names (From, To, Date).
var LabelStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorBlue).
	Width(9)

// UIDStyle renders message UIDs in listings.
var UIDStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Width(8).
	Align(lipgloss.Right).
	PaddingRight(1)

// SubjectStyle renders message subjects in listings.
var SubjectStyle = lipgloss.NewStyle().
	Bold(true)

// HelpStyle is used for hints and secondary text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// SuccessStyle marks completed operations.
var SuccessStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorGreen)

// ErrorStyle marks failed operations.
var ErrorStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorRed)

// StateStyle returns a color-coded style for a connection or sync state.
func StateStyle(state string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch state {
	case "connected", "idle":
		return base.Foreground(ColorGreen)
	case "connecting", "running":
		return base.Foreground(ColorYellow)
	case "error":
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}

// CountStyle highlights non-zero folder counts.
func CountStyle(n uint32) lipgloss.Style {
	base := lipgloss.NewStyle().Width(6).Align(lipgloss.Right)
	if n == 0 {
		return base.Foreground(ColorGray)
	}
	return base.Bold(true).Foreground(ColorBlue)
}
