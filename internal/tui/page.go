package tui

import tea "github.com/charmbracelet/bubbletea"

// Page is one top-level screen. Update returns a non-nil PageNav to ask
// the App to switch screens.
type Page interface {
	ID() string
	Init() tea.Cmd
	Update(msg tea.Msg) (tea.Cmd, *PageNav)
	View(width, height int) string
}

// PageNav names the page to show next.
type PageNav struct {
	PageID string
}
