package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
	"github.com/jumboxerox/opsconsole/internal/model"

	tea "github.com/charmbracelet/bubbletea"
)

const helpPageID = "help"

// HelpPage lists the key bindings and how the grace period works.
type HelpPage struct {
	keys  KeyMap
	help  help.Model
	grace string
	back  string
}

// NewHelpPage returns a help screen that navigates back to the page back.
func NewHelpPage(cfg Config, back string) *HelpPage {
	cfg = cfg.withDefaults()
	h := help.New()
	h.ShowAll = true
	h.Styles.FullKey = lipgloss.NewStyle().Foreground(ColorBlue).Bold(true)
	h.Styles.FullDesc = lipgloss.NewStyle().Foreground(ColorGray)
	return &HelpPage{
		keys:  DefaultKeyMap(),
		help:  h,
		grace: fmt.Sprintf("%ds", int(cfg.GracePeriod.Seconds())),
		back:  back,
	}
}

func (h *HelpPage) ID() string { return helpPageID }

func (h *HelpPage) Init() tea.Cmd { return nil }

func (h *HelpPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	if k, ok := msg.(tea.KeyMsg); ok {
		if key.Matches(k, h.keys.Help, h.keys.Escape, h.keys.Quit) {
			return nil, &PageNav{PageID: h.back}
		}
	}
	return nil, nil
}

func (h *HelpPage) View(width, height int) string {
	h.help.Width = width
	stale := int(model.DefaultStaleAfter.Hours() / 24)
	body := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Storage Cleanup · Help"),
		"",
		h.help.View(h.keys),
		"",
		helpStyle.Render(fmt.Sprintf("d starts a %s countdown. x stops it. D deletes at once.", h.grace)),
		helpStyle.Render("Deletion is irreversible once the countdown reaches zero."),
		helpStyle.Render(fmt.Sprintf("Ages of %d days or more are highlighted.", stale)),
		"",
		helpStyle.Render("esc or ? to go back"),
	)
	if width <= 0 || height <= 0 {
		return body
	}
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, body)
}
