package tail

import "github.com/charmbracelet/lipgloss"

var (
	colorCyan   = lipgloss.Color("#00FFFF")
	colorYellow = lipgloss.Color("#FFFF00")
	colorGray   = lipgloss.Color("#666666")
	colorRed    = lipgloss.Color("#FF0000")
	colorGreen  = lipgloss.Color("#00FF00")

	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	statusStyle    = lipgloss.NewStyle().Foreground(colorGray)
	speakerStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	timestampStyle = lipgloss.NewStyle().Foreground(colorGray)
	partialStyle   = lipgloss.NewStyle().Foreground(colorYellow).Italic(true)
	errorStyle     = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	doneStyle      = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorGray).
			Padding(0, 1)
)
