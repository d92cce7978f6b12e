package tui

import "github.com/charmbracelet/lipgloss"

var (
	ColorNavy   = lipgloss.Color("#1B2A4A")
	ColorWhite  = lipgloss.Color("#F5F5F5")
	ColorGray   = lipgloss.Color("244")
	ColorBlue   = lipgloss.Color("39")
	ColorGreen  = lipgloss.Color("#44CC44")
	ColorYellow = lipgloss.Color("#FFAA00")
	ColorRed    = lipgloss.Color("#FF4444")
)

var (
	titleStyle = lipgloss.NewStyle().
			Background(ColorNavy).
			Foreground(ColorWhite).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorNavy).
			Padding(0, 1)

	chartTitleStyle = lipgloss.NewStyle().
			Foreground(ColorBlue).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(ColorGray).
			Italic(true)

	headerCellStyle = lipgloss.NewStyle().
			Foreground(ColorGray).
			Bold(true)

	selectedRowStyle = lipgloss.NewStyle().
				Background(lipgloss.Color("236")).
				Bold(true)

	staleStyle   = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
	freshStyle   = lipgloss.NewStyle().Foreground(ColorGreen)
	deletedStyle = lipgloss.NewStyle().Foreground(ColorGray).Italic(true)
	stopStyle    = lipgloss.NewStyle().Foreground(ColorYellow).Bold(true)
	deleteStyle  = lipgloss.NewStyle().Foreground(ColorRed)

	statusBarStyle = lipgloss.NewStyle().
			Background(ColorNavy).
			Foreground(ColorWhite)

	toastStyles = map[toastKind]lipgloss.Style{
		toastInfo:    lipgloss.NewStyle().Foreground(ColorBlue),
		toastSuccess: lipgloss.NewStyle().Foreground(ColorGreen).Bold(true),
		toastWarning: lipgloss.NewStyle().Foreground(ColorYellow).Bold(true),
		toastError:   lipgloss.NewStyle().Foreground(ColorRed).Bold(true),
	}
)
