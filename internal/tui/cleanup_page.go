package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jumboxerox/opsconsole/internal/cleanup"
	"github.com/jumboxerox/opsconsole/internal/debounce"
	"github.com/jumboxerox/opsconsole/internal/grace"
	"github.com/jumboxerox/opsconsole/internal/model"
	"github.com/willibrandon/mtlog"
	"github.com/willibrandon/mtlog/core"
	"k8s.io/utils/clock"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	cleanupPageID = "cleanup"
	toastDuration = 4 * time.Second
	eventBuffer   = 64
)

// Toast texts shown to the operator.
const (
	msgCancelled     = "Deletion cancelled"
	msgTooLate       = "Too late to cancel"
	msgDeleted       = "Files deleted successfully!"
	msgLoadFailed    = "Failed to load storage data"
	msgAlreadyGone   = "Files already deleted"
	msgInProgress    = "Deletion already in progress"
	msgNotScheduled  = "Press d to schedule deletion first"
	msgNothingToStop = "No deletion pending for this order"
)

// Config holds the timings and sizes the cleanup page runs with.
type Config struct {
	GracePeriod    time.Duration
	TickInterval   time.Duration
	DebounceQuiet  time.Duration
	RequestTimeout time.Duration
	StaleAfter     time.Duration
	PageSize       int

	Clock  clock.WithTickerAndDelayedExecution
	Logger core.Logger
}

func (c Config) withDefaults() Config {
	if c.GracePeriod <= 0 {
		c.GracePeriod = model.DefaultGracePeriod
	}
	if c.TickInterval <= 0 {
		c.TickInterval = model.DefaultTickInterval
	}
	if c.DebounceQuiet <= 0 {
		c.DebounceQuiet = model.DefaultDebounceQuiet
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = model.DefaultRequestTimeout
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = model.DefaultStaleAfter
	}
	if c.PageSize <= 0 {
		c.PageSize = model.DefaultPageSize
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	if c.Logger == nil {
		c.Logger = mtlog.New()
	}
	return c
}

type toastKind int

const (
	toastInfo toastKind = iota
	toastSuccess
	toastWarning
	toastError
)

type toast struct {
	id   int
	kind toastKind
	text string
}

// CleanupPage lists orders whose stored files can be removed and runs each
// deletion behind a cancellable grace period. It owns the registry, the
// display ticker and the search debouncer for as long as it is mounted;
// Close releases all three.
type CleanupPage struct {
	cfg    Config
	keys   KeyMap
	logger core.Logger

	registry  *grace.Registry
	ticker    *grace.Ticker
	debouncer *debounce.Debouncer
	list      *cleanup.ListController
	committer *cleanup.Committer
	bus       *eventBus

	ctx    context.Context
	cancel context.CancelFunc

	search    textinput.Model
	searching bool
	cursor    int
	loading   bool
	toast     *toast
	toastSeq  int
	closed    bool
}

// NewCleanupPage wires a page to the backend.
func NewCleanupPage(backend model.OrderAPI, cfg Config) *CleanupPage {
	cfg = cfg.withDefaults()
	logger := cfg.Logger.ForContext("Component", "cleanup")

	p := &CleanupPage{
		cfg:    cfg,
		keys:   DefaultKeyMap(),
		logger: logger,
		bus:    newEventBus(eventBuffer),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.registry = grace.NewRegistry(grace.RegistryOptions{
		Clock:  cfg.Clock,
		Logger: logger,
		Notify: func(o grace.Outcome) { p.bus.post(outcomeMsg{outcome: o}) },
	})
	p.ticker = grace.NewTicker(cfg.Clock, cfg.TickInterval, p.registry, func() {
		p.bus.post(countdownMsg{})
	})
	p.debouncer = debounce.New(cfg.Clock, cfg.DebounceQuiet, func(v string) {
		p.bus.post(searchFlushMsg{value: v})
	})
	p.list = cleanup.NewListController(backend, cfg.PageSize, logger)
	p.committer = &cleanup.Committer{
		Deleter: backend,
		Refresh: func(q model.ListQuery) { p.bus.post(refreshMsg{query: q}) },
		Current: p.list.Query,
		Logger:  logger,
	}

	p.search = textinput.New()
	p.search.Placeholder = "order id or customer name"
	p.search.Prompt = "/ "
	p.search.CharLimit = 64

	return p
}

func (p *CleanupPage) ID() string { return cleanupPageID }

// Init starts the display ticker, the event pump and the first fetch.
func (p *CleanupPage) Init() tea.Cmd {
	p.ticker.Start()
	p.loading = true
	return tea.Batch(p.bus.next(), p.fetchCmd(p.list.Query()))
}

// Close tears the page down: no countdown, flush or pending deletion
// survives it. Deletions already sent to the backend are waited for, up to
// the registry's teardown deadline.
//
// The bus closes first. Nothing drains it once the page is gone, and the
// ticker and timers block posting into a full bus until it is closed.
func (p *CleanupPage) Close() {
	if p.closed {
		return
	}
	p.closed = true

	p.bus.close()
	p.ticker.Stop()
	p.debouncer.Stop()
	if n := p.registry.InFlightCount(); n > 0 {
		p.logger.Information("Waiting for {Count} deletions to finish", n)
	}
	p.registry.Teardown()
	p.cancel()
	p.logger.Information("Cleanup page closed")
}

func (p *CleanupPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !p.searching && key.Matches(msg, p.keys.Help) {
			return nil, &PageNav{PageID: helpPageID}
		}
		return p.handleKey(msg), nil

	case listLoadedMsg:
		if !p.list.Apply(msg.result) {
			return nil, nil
		}
		p.loading = false
		p.clampCursor()
		if msg.result.Err != nil {
			return p.showToast(toastError, msgLoadFailed), nil
		}
		return nil, nil

	case countdownMsg:
		return p.bus.next(), nil

	case outcomeMsg:
		return tea.Batch(p.bus.next(), p.handleOutcome(msg.outcome)), nil

	case refreshMsg:
		return tea.Batch(p.bus.next(), p.refreshCmd(msg.query)), nil

	case searchFlushMsg:
		q := p.list.SetSearch(msg.value)
		p.cursor = 0
		p.loading = true
		p.logger.Debug("Search settled on {Search}", msg.value)
		return tea.Batch(p.bus.next(), p.fetchCmd(q)), nil

	case toastExpiredMsg:
		if p.toast != nil && p.toast.id == msg.id {
			p.toast = nil
		}
		return nil, nil
	}
	return nil, nil
}

func (p *CleanupPage) handleKey(msg tea.KeyMsg) tea.Cmd {
	if key.Matches(msg, p.keys.ForceQuit) {
		p.Close()
		return tea.Quit
	}
	if p.searching {
		return p.handleSearchKey(msg)
	}

	k := p.keys
	switch {
	case key.Matches(msg, k.Quit):
		p.Close()
		return tea.Quit
	case key.Matches(msg, k.Up):
		p.moveCursor(-1)
	case key.Matches(msg, k.Down):
		p.moveCursor(1)
	case key.Matches(msg, k.PrevPage):
		if q, ok := p.list.PrevPage(); ok {
			p.cursor = 0
			p.loading = true
			return p.fetchCmd(q)
		}
	case key.Matches(msg, k.NextPage):
		if q, ok := p.list.NextPage(); ok {
			p.cursor = 0
			p.loading = true
			return p.fetchCmd(q)
		}
	case key.Matches(msg, k.FirstPage):
		return p.jumpTo(1)
	case key.Matches(msg, k.LastPage):
		return p.jumpTo(p.list.Snapshot().Page.TotalPages)
	case key.Matches(msg, k.Refresh):
		p.loading = true
		return p.refreshCmd(p.list.Query())
	case key.Matches(msg, k.Search):
		p.searching = true
		return p.search.Focus()
	case key.Matches(msg, k.Delete):
		return p.scheduleSelected()
	case key.Matches(msg, k.Stop):
		return p.cancelSelected()
	case key.Matches(msg, k.DeleteNow):
		return p.commitSelected()
	}
	return nil
}

func (p *CleanupPage) jumpTo(page int) tea.Cmd {
	q, moved := p.list.SetPage(page)
	if !moved {
		return nil
	}
	p.cursor = 0
	p.loading = true
	return p.fetchCmd(q)
}

func (p *CleanupPage) handleSearchKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEsc, tea.KeyEnter:
		p.searching = false
		p.search.Blur()
		return nil
	}

	before := p.search.Value()
	var cmd tea.Cmd
	p.search, cmd = p.search.Update(msg)
	if after := p.search.Value(); after != before {
		p.debouncer.Input(after)
	}
	return cmd
}

func (p *CleanupPage) selected() (model.Order, bool) {
	orders := p.list.Snapshot().Page.Orders
	if p.cursor < 0 || p.cursor >= len(orders) {
		return model.Order{}, false
	}
	return orders[p.cursor], true
}

func (p *CleanupPage) scheduleSelected() tea.Cmd {
	o, ok := p.selected()
	if !ok {
		return nil
	}
	if o.FilesDeleted {
		return p.showToast(toastWarning, msgAlreadyGone)
	}
	err := p.registry.Schedule(o.ID, p.cfg.GracePeriod, p.committer.Commit)
	switch {
	case errors.Is(err, grace.ErrCommitInFlight):
		return p.showToast(toastWarning, msgInProgress)
	case err != nil:
		return p.showToast(toastError, err.Error())
	}
	secs, _ := p.registry.Remaining(o.ID)
	return p.showToast(toastInfo, fmt.Sprintf("Deletion scheduled in %ds...", secs))
}

func (p *CleanupPage) cancelSelected() tea.Cmd {
	o, ok := p.selected()
	if !ok {
		return nil
	}
	cancelled, err := p.registry.Cancel(o.ID)
	switch {
	case errors.Is(err, grace.ErrCancelAfterCommit):
		return p.showToast(toastWarning, msgTooLate)
	case cancelled:
		return p.showToast(toastInfo, msgCancelled)
	default:
		return p.showToast(toastInfo, msgNothingToStop)
	}
}

func (p *CleanupPage) commitSelected() tea.Cmd {
	o, ok := p.selected()
	if !ok {
		return nil
	}
	err := p.registry.CommitNow(o.ID)
	switch {
	case errors.Is(err, grace.ErrNotScheduled):
		return p.showToast(toastInfo, msgNotScheduled)
	case errors.Is(err, grace.ErrCommitInFlight):
		return p.showToast(toastWarning, msgInProgress)
	case err != nil:
		return p.showToast(toastError, err.Error())
	}
	return nil
}

func (p *CleanupPage) handleOutcome(o grace.Outcome) tea.Cmd {
	if o.Err == nil {
		p.list.MarkDeleted(o.Key)
		return p.showToast(toastSuccess, msgDeleted)
	}

	reason := cleanup.DefaultFailureReason
	var ce *cleanup.CommitError
	if errors.As(o.Err, &ce) {
		reason = ce.Reason()
	}
	return p.showToast(toastError, reason)
}

func (p *CleanupPage) fetchCmd(q model.ListQuery) tea.Cmd {
	ctx, timeout := p.ctx, p.cfg.RequestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return listLoadedMsg{result: p.list.Fetch(ctx, q)}
	}
}

// refreshCmd reloads q without sharing a fetch that started earlier.
func (p *CleanupPage) refreshCmd(q model.ListQuery) tea.Cmd {
	ctx, timeout := p.ctx, p.cfg.RequestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return listLoadedMsg{result: p.list.Refresh(ctx, q)}
	}
}

func (p *CleanupPage) showToast(kind toastKind, text string) tea.Cmd {
	p.toastSeq++
	id := p.toastSeq
	p.toast = &toast{id: id, kind: kind, text: text}
	return tea.Tick(toastDuration, func(time.Time) tea.Msg {
		return toastExpiredMsg{id: id}
	})
}

func (p *CleanupPage) moveCursor(delta int) {
	p.cursor += delta
	p.clampCursor()
}

func (p *CleanupPage) clampCursor() {
	n := len(p.list.Snapshot().Page.Orders)
	if p.cursor >= n {
		p.cursor = n - 1
	}
	if p.cursor < 0 {
		p.cursor = 0
	}
}
