// Package grace schedules irreversible actions behind a cancellable grace
// period and keeps a per-key countdown for display.
//
// Each scheduled key owns exactly one deadline timer, which is the only
// thing that can commit it. The countdown shown to humans is a separate
// integer that a shared Ticker decrements once per interval; it never
// commits anything. Keeping the two apart means a slow or stalled display
// clock cannot delay, skip or duplicate a commit.
package grace

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"github.com/willibrandon/mtlog"
	"github.com/willibrandon/mtlog/core"
	"k8s.io/utils/clock"
)

const (
	defaultRecentCommits   = 256
	defaultTeardownTimeout = 5 * time.Second
)

// CommitFunc performs the irreversible action for key. It runs on its own
// goroutine and may block on external I/O.
type CommitFunc func(ctx context.Context, key string) error

// Outcome reports how a commit ended. Err is nil on success.
type Outcome struct {
	Key string
	Err error
}

// Countdown is the display state of one scheduled key.
type Countdown struct {
	Key       string
	Remaining int
}

// RegistryOptions configures a Registry. Zero values use defaults.
type RegistryOptions struct {
	Clock         clock.WithDelayedExecution
	Notify        func(Outcome)
	Logger        core.Logger
	RecentCommits int // size of the too-late-to-cancel memory

	// TeardownTimeout bounds how long Teardown waits for running commits
	// before cancelling their context.
	TeardownTimeout time.Duration
}

// entry is one key in its grace period. remaining and timer live and die
// together; timer is nil only for the instant between insertion and arming.
type entry struct {
	gen       uint64
	remaining int
	timer     clock.Timer
	onCommit  CommitFunc
}

func (e *entry) stop() {
	if e != nil && e.timer != nil {
		e.timer.Stop()
	}
}

// Registry owns every scheduled key. It is the only writer of entry state.
//
// Clock methods are never called while mu is held, so timer callbacks that
// take mu cannot deadlock against a clock that runs them synchronously.
type Registry struct {
	clock           clock.WithDelayedExecution
	notify          func(Outcome)
	logger          core.Logger
	teardownTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	seq       uint64
	entries   map[string]*entry
	inflight  map[string]struct{}
	committed *lru.Cache[string, struct{}]
	closed    bool

	commits conc.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = mtlog.New()
	}
	size := opts.RecentCommits
	if size <= 0 {
		size = defaultRecentCommits
	}
	committed, err := lru.New[string, struct{}](size)
	if err != nil {
		// Only reachable with a non-positive size, which is excluded above.
		panic(fmt.Sprintf("grace: recent commit cache: %v", err))
	}

	teardown := opts.TeardownTimeout
	if teardown <= 0 {
		teardown = defaultTeardownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		clock:           clk,
		notify:          opts.Notify,
		logger:          logger,
		teardownTimeout: teardown,
		ctx:             ctx,
		cancel:          cancel,
		entries:         make(map[string]*entry),
		inflight:        make(map[string]struct{}),
		committed:       committed,
	}
}

// displaySeconds rounds a grace period up to whole seconds.
func displaySeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}

// Schedule starts a grace period for key. An existing grace period for the
// same key is superseded, never stacked.
func (r *Registry) Schedule(key string, grace time.Duration, onCommit CommitFunc) error {
	if grace <= 0 {
		return ErrInvalidGrace
	}
	if onCommit == nil {
		return fmt.Errorf("grace: schedule %q: nil commit func", key)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if _, busy := r.inflight[key]; busy {
		r.mu.Unlock()
		return ErrCommitInFlight
	}
	r.seq++
	gen := r.seq
	prev := r.entries[key]
	r.entries[key] = &entry{
		gen:       gen,
		remaining: displaySeconds(grace),
		onCommit:  onCommit,
	}
	r.committed.Remove(key)
	r.mu.Unlock()

	if prev != nil {
		prev.stop()
		r.logger.Debug("Rescheduled {Key}, previous deadline superseded", key)
	}

	timer := r.clock.AfterFunc(grace, func() { r.fire(key, gen) })

	r.mu.Lock()
	cur, ok := r.entries[key]
	if ok && cur.gen == gen {
		cur.timer = timer
		r.mu.Unlock()
		r.logger.Information("Scheduled {Key} to commit in {Grace}", key, grace)
		return nil
	}
	r.mu.Unlock()

	// Cancelled, replaced or torn down while the timer was being armed.
	timer.Stop()
	return nil
}

// Cancel stops the grace period for key. It reports whether a pending
// grace period was cancelled. Once Cancel returns, the cancelled
// scheduling can never commit.
//
// Cancelling a key with nothing scheduled is a no-op. Cancelling after the
// deadline fired returns ErrCancelAfterCommit; the commit's own outcome is
// still reported through Notify.
func (r *Registry) Cancel(key string) (bool, error) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
		r.mu.Unlock()
		e.stop()
		r.logger.Information("Cancelled pending commit for {Key}", key)
		return true, nil
	}
	_, busy := r.inflight[key]
	done := r.committed.Contains(key)
	r.mu.Unlock()

	if busy || done {
		r.logger.Warning("Cancel for {Key} arrived after commit started", key)
		return false, ErrCancelAfterCommit
	}
	return false, nil
}

// CommitNow ends the grace period for key immediately and commits it.
func (r *Registry) CommitNow(key string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	e, ok := r.entries[key]
	if !ok {
		_, busy := r.inflight[key]
		r.mu.Unlock()
		if busy {
			return ErrCommitInFlight
		}
		return ErrNotScheduled
	}
	r.beginCommitLocked(key, e)
	r.mu.Unlock()

	e.stop()
	return nil
}

// fire is the deadline callback for one scheduling generation.
func (r *Registry) fire(key string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok || e.gen != gen || r.closed {
		return
	}
	r.beginCommitLocked(key, e)
}

// beginCommitLocked removes the entry before the commit starts, so a
// Cancel racing with the commit finds nothing to cancel. Must hold mu.
func (r *Registry) beginCommitLocked(key string, e *entry) {
	delete(r.entries, key)
	r.inflight[key] = struct{}{}
	r.commits.Go(func() { r.runCommit(key, e.onCommit) })
}

func (r *Registry) runCommit(key string, onCommit CommitFunc) {
	r.logger.Information("Committing {Key}", key)

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = onCommit(r.ctx, key) })
	if rec := pc.Recovered(); rec != nil {
		err = fmt.Errorf("grace: commit for %q panicked: %v", key, rec.Value)
	}

	r.mu.Lock()
	delete(r.inflight, key)
	if err == nil {
		r.committed.Add(key, struct{}{})
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("Commit for {Key} failed: {Error}", key, err)
	} else {
		r.logger.Information("Committed {Key}", key)
	}

	if r.notify != nil {
		r.notify(Outcome{Key: key, Err: err})
	}
}

// Tick decrements every positive countdown by one. It reports whether any
// countdown changed; when none did, no state is touched.
func (r *Registry) Tick() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for _, e := range r.entries {
		if e.remaining > 0 {
			e.remaining--
			changed = true
		}
	}
	return changed
}

// Remaining returns the display countdown for key.
func (r *Registry) Remaining(key string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return 0, false
	}
	return e.remaining, true
}

// InFlight reports whether a commit for key is running.
func (r *Registry) InFlight(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.inflight[key]
	return ok
}

// InFlightCount returns the number of commits that are running.
func (r *Registry) InFlightCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

// Len returns the number of keys in their grace period.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns the countdowns of all scheduled keys, ordered by key.
func (r *Registry) Snapshot() []Countdown {
	r.mu.Lock()
	out := make([]Countdown, 0, len(r.entries))
	for k, e := range r.entries {
		out = append(out, Countdown{Key: k, Remaining: e.remaining})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Teardown cancels every pending grace period and refuses new ones. It
// waits for commits that already started, up to the teardown timeout,
// then cancels the context they run with. It is safe to call more than
// once.
func (r *Registry) Teardown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	pending := make([]*entry, 0, len(r.entries))
	for k, e := range r.entries {
		pending = append(pending, e)
		delete(r.entries, k)
	}
	r.mu.Unlock()

	for _, e := range pending {
		e.stop()
	}
	if len(pending) > 0 {
		r.logger.Information("Teardown cancelled {Count} pending commits", len(pending))
	}

	done := make(chan struct{})
	go func() {
		r.commits.Wait()
		close(done)
	}()

	deadline := r.clock.NewTimer(r.teardownTimeout)
	defer deadline.Stop()
	select {
	case <-done:
	case <-deadline.C():
		r.logger.Warning("Teardown stopped waiting for {Count} commits after {Timeout}", r.InFlightCount(), r.teardownTimeout)
	}
	r.cancel()
}
