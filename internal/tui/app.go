package tui

import (
	"github.com/charmbracelet/bubbles/key"

	tea "github.com/charmbracelet/bubbletea"
)

// App is the top-level Bubble Tea model that routes between pages.
// Key presses reach only the active page. Every other message is
// broadcast, so a page keeps receiving its background events while
// another page is shown.
type App struct {
	pages      map[string]Page
	order      []string
	started    map[string]bool
	activePage string
	forceQuit  key.Binding
	width      int
	height     int
}

// NewApp creates a new App with the given pages. The first page is the default.
func NewApp(pages ...Page) *App {
	a := &App{
		pages:     make(map[string]Page, len(pages)),
		started:   make(map[string]bool, len(pages)),
		forceQuit: DefaultKeyMap().ForceQuit,
	}
	for _, p := range pages {
		if _, dup := a.pages[p.ID()]; !dup {
			a.order = append(a.order, p.ID())
		}
		a.pages[p.ID()] = p
	}
	if len(a.order) > 0 {
		a.activePage = a.order[0]
	}
	return a
}

// Active returns the id of the page on screen.
func (a *App) Active() string {
	return a.activePage
}

func (a *App) Init() tea.Cmd {
	return a.start(a.activePage)
}

// start runs a page's Init the first time it becomes active.
func (a *App) start(id string) tea.Cmd {
	p, ok := a.pages[id]
	if !ok || a.started[id] {
		return nil
	}
	a.started[id] = true
	return p.Init()
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
	case tea.KeyMsg:
		if key.Matches(msg, a.forceQuit) {
			a.Close()
			return a, tea.Quit
		}
		p, ok := a.pages[a.activePage]
		if !ok {
			return a, nil
		}
		cmd, nav := p.Update(msg)
		return a, tea.Batch(cmd, a.navigate(nav))
	}

	var cmds []tea.Cmd
	for _, id := range a.order {
		if !a.started[id] {
			continue
		}
		cmd, nav := a.pages[id].Update(msg)
		cmds = append(cmds, cmd)
		if id == a.activePage {
			cmds = append(cmds, a.navigate(nav))
		}
	}
	return a, tea.Batch(cmds...)
}

func (a *App) navigate(nav *PageNav) tea.Cmd {
	if nav == nil {
		return nil
	}
	if _, exists := a.pages[nav.PageID]; !exists {
		return nil
	}
	a.activePage = nav.PageID
	return a.start(nav.PageID)
}

func (a *App) View() string {
	if p, ok := a.pages[a.activePage]; ok {
		return p.View(a.width, a.height)
	}
	return "No active page"
}

// Closer is implemented by pages that own background work.
type Closer interface {
	Close()
}

// Close releases every page that owns background work. Pages treat a
// second Close as a no-op, so this is safe after a page quit on its own.
func (a *App) Close() {
	for _, id := range a.order {
		if c, ok := a.pages[id].(Closer); ok {
			c.Close()
		}
	}
}
