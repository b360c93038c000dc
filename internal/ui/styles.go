package ui

import "github.com/charmbracelet/lipgloss"

var (
	ColorRed     = lipgloss.Color("#FF5555")
	ColorGreen   = lipgloss.Color("#50FA7B")
	ColorYellow  = lipgloss.Color("#F1FA8C")
	ColorCyan    = lipgloss.Color("#8BE9FD")
	ColorGray    = lipgloss.Color("#6272A4")
	ColorDimGray = lipgloss.Color("#44475A")
	ColorWhite   = lipgloss.Color("#F8F8F2")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorCyan)

	DimStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	ConnectedStyle = lipgloss.NewStyle().
			Foreground(ColorGreen)

	DisconnectedStyle = lipgloss.NewStyle().
				Foreground(ColorRed)

	RecordingBadgeStyle = lipgloss.NewStyle().
				Foreground(ColorRed).
				Bold(true)

	ReadyBadgeStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	ErrorBadgeStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Reverse(true)

	InterimStyle = lipgloss.NewStyle().
			Foreground(ColorGray).
			Italic(true)

	AlertStyle = lipgloss.NewStyle().
			Foreground(ColorYellow).
			Bold(true)

	InputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorDimGray).
			Padding(0, 1)

	QuestionStyle = lipgloss.NewStyle().
			Foreground(ColorCyan).
			Bold(true)

	AnswerStyle = lipgloss.NewStyle().
			Foreground(ColorWhite)

	SelectedStyle = lipgloss.NewStyle().
			Foreground(ColorYellow).
			Bold(true)

	CopiedStyle = lipgloss.NewStyle().
			Foreground(ColorGreen).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	FooterKeyStyle = lipgloss.NewStyle().
			Foreground(ColorYellow).
			Bold(true)

	FooterDescStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	DividerStyle = lipgloss.NewStyle().
			Foreground(ColorDimGray)
)
