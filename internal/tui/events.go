package tui

import (
	"sync"

	"github.com/jumboxerox/opsconsole/internal/cleanup"
	"github.com/jumboxerox/opsconsole/internal/grace"
	"github.com/jumboxerox/opsconsole/internal/model"

	tea "github.com/charmbracelet/bubbletea"
)

// Messages delivered from background goroutines (deadline timers, the
// display ticker, the search debouncer) into the Bubble Tea loop.
type (
	countdownMsg   struct{}
	outcomeMsg     struct{ outcome grace.Outcome }
	refreshMsg     struct{ query model.ListQuery }
	searchFlushMsg struct{ value string }
)

// listLoadedMsg carries a finished fetch back to the page.
type listLoadedMsg struct {
	result cleanup.ListResult
}

type toastExpiredMsg struct{ id int }

// eventBus forwards messages from goroutines the page does not own into
// the update loop. Posting blocks until the message is taken or the bus is
// closed, so nothing is dropped while the page is alive and nothing hangs
// after it is gone.
type eventBus struct {
	ch   chan tea.Msg
	done chan struct{}
	once sync.Once
}

func newEventBus(size int) *eventBus {
	return &eventBus{
		ch:   make(chan tea.Msg, size),
		done: make(chan struct{}),
	}
}

func (b *eventBus) post(msg tea.Msg) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.ch <- msg:
	case <-b.done:
	}
}

// next returns a command that waits for the next posted message. The page
// re-issues it after handling each one.
func (b *eventBus) next() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-b.ch:
			return msg
		case <-b.done:
			return nil
		}
	}
}

func (b *eventBus) close() {
	b.once.Do(func() { close(b.done) })
}
