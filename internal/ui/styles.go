package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/voxhq/vox/internal/session"
)

// Colors used throughout the TUI.
var (
	ColorSlate   = lipgloss.Color("#64748B")
	ColorAmber   = lipgloss.Color("#F59E0B")
	ColorRose    = lipgloss.Color("#E11D48")
	ColorIndigo  = lipgloss.Color("#6366F1")
	ColorEmerald = lipgloss.Color("#10B981")
	ColorRed     = lipgloss.Color("#B91C1C")
	ColorCyan    = lipgloss.Color("#00FFFF")
	ColorYellow  = lipgloss.Color("#FFFF00")
	ColorGray    = lipgloss.Color("#666666")
	ColorDimGray = lipgloss.Color("#444444")
	ColorWhite   = lipgloss.Color("#FFFFFF")
)

// statusColors follows the widget palette: one color per session status.
var statusColors = map[session.Status]lipgloss.Color{
	session.StatusIdle:      ColorSlate,
	session.StatusStarting:  ColorAmber,
	session.StatusRecording: ColorRose,
	session.StatusWriting:   ColorIndigo,
	session.StatusReady:     ColorEmerald,
	session.StatusFailed:    ColorRed,
}

// StatusColor returns the accent color for s.
func StatusColor(s session.Status) lipgloss.Color {
	if c, ok := statusColors[s]; ok {
		return c
	}
	return ColorSlate
}

// StatusBannerStyle renders the status label on its accent background.
func StatusBannerStyle(s session.Status) lipgloss.Style {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorWhite).
		Background(StatusColor(s)).
		Padding(0, 1)
}

// StatusDotStyle colors the leading status glyph.
func StatusDotStyle(s session.Status) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(StatusColor(s)).Bold(true)
}

// BadgeStyle colors a note status badge.
func BadgeStyle(s session.NoteStatus) lipgloss.Style {
	switch s {
	case session.NoteReady:
		return BadgeReadyStyle
	case session.NoteGenerating, session.NotePending:
		return BadgePendingStyle
	case session.NoteFailed:
		return BadgeFailedStyle
	default:
		return DimStyle
	}
}

// Base styles reused by UI components.
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorCyan)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	ErrorTextStyle = lipgloss.NewStyle().
			Foreground(ColorRed)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorYellow).
			Bold(true)

	PanelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWhite)

	PanelTitleActiveStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorCyan)

	SelectedStyle = lipgloss.NewStyle().
			Foreground(ColorCyan).
			Bold(true)

	DimStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	FooterKeyStyle = lipgloss.NewStyle().
			Foreground(ColorYellow).
			Bold(true)

	FooterDescStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	DividerStyle = lipgloss.NewStyle().
			Foreground(ColorDimGray)

	BarStyle = lipgloss.NewStyle().
			Foreground(ColorRose)

	BadgeReadyStyle = lipgloss.NewStyle().
			Foreground(ColorEmerald)

	BadgePendingStyle = lipgloss.NewStyle().
				Foreground(ColorAmber)

	BadgeFailedStyle = lipgloss.NewStyle().
				Foreground(ColorRed)

	MarkdownHeadingStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorWhite)
)
