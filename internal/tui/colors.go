package tui

import "github.com/charmbracelet/lipgloss"

// Color constants for the wrokhub chat theme
const (
	ColorBorder = "#3A3F55" // Grey-blue

	ColorPrimaryText   = "#E6EAF2"
	ColorSecondaryText = "#B1B8C7"
	ColorDisabledText  = "#6D7383"
	ColorPlaceholder   = "#B1B8C7"
	ColorHelpText      = "240"

	ColorAccentMain   = "#7C3AED" // Header, own messages
	ColorAccentBright = "#A78BFA" // Cursor, other senders

	ColorError   = "#EF4444"
	ColorSuccess = "#22C55E"
	ColorWarning = "#F59E0B"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(ColorPrimaryText)).
			Background(lipgloss.Color(ColorAccentMain)).
			Padding(0, 1)
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorSecondaryText))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorError))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorSuccess))
	typingStyle  = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color(ColorWarning))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorHelpText))
	timeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDisabledText))
	selfStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccentMain))
	otherStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccentBright))
	textStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorPrimaryText))
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorBorder))
)
