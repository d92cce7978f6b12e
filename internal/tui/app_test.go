package tui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	tea "github.com/charmbracelet/bubbletea"
)

func newTestApp(t *testing.T, backend *fakeBackend) (*App, *CleanupPage, *testingclock.FakeClock) {
	t.Helper()
	clk := testingclock.NewFakeClock(epoch)
	cfg := Config{Clock: clk, PageSize: 3}
	page := NewCleanupPage(backend, cfg)
	app := NewApp(page, NewHelpPage(cfg, page.ID()))
	t.Cleanup(app.Close)

	require.NotNil(t, app.Init())
	app.Update(page.fetchCmd(page.list.Query())())
	require.True(t, page.list.Snapshot().Loaded)
	return app, page, clk
}

func appKey(a *App, r rune) tea.Cmd {
	_, cmd := a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	return cmd
}

// pumpApp routes background events through the app until one satisfies done.
func pumpApp(t *testing.T, a *App, p *CleanupPage, done func(tea.Msg) bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		ch := make(chan tea.Msg, 1)
		go func() { ch <- p.bus.next()() }()
		select {
		case msg := <-ch:
			a.Update(msg)
			if done(msg) {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for page event")
		}
	}
}

func TestHelpPageRoundTrip(t *testing.T) {
	app, page, _ := newTestApp(t, newFakeBackend(3))
	assert.Equal(t, cleanupPageID, app.Active())

	appKey(app, '?')
	assert.Equal(t, helpPageID, app.Active())
	app.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	assert.Contains(t, app.View(), "Help")
	assert.Contains(t, app.View(), "7s countdown")

	app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, cleanupPageID, app.Active())
	assert.False(t, page.loading, "returning to a started page does not re-run Init")
}

func TestBackgroundEventsReachHiddenPage(t *testing.T) {
	backend := newFakeBackend(3)
	app, page, clk := newTestApp(t, backend)

	appKey(app, 'd')
	appKey(app, '?')
	require.Equal(t, helpPageID, app.Active())

	clk.Step(7 * time.Second)
	pumpApp(t, app, page, isOutcome)

	assert.Equal(t, 1, backend.deleteCount())
	require.NotNil(t, page.toast)
	assert.Equal(t, msgDeleted, page.toast.text)
}

func TestSearchTypingDoesNotOpenHelp(t *testing.T) {
	app, page, _ := newTestApp(t, newFakeBackend(3))

	appKey(app, '/')
	appKey(app, '?')
	assert.Equal(t, cleanupPageID, app.Active())
	assert.Equal(t, "?", page.search.Value())
}

func TestForceQuitClosesPages(t *testing.T) {
	backend := newFakeBackend(3)
	app, page, clk := newTestApp(t, backend)

	appKey(app, 'd')
	appKey(app, '?')
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Zero(t, page.registry.Len())

	clk.Step(time.Minute)
	assert.Never(t, func() bool { return backend.deleteCount() > 0 }, 100*time.Millisecond, 5*time.Millisecond)
}
