package grace

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Tickable is anything whose display state advances once per tick. Tick
// reports whether anything changed.
type Tickable interface {
	Tick() bool
}

// Ticker is the single shared display clock. It only ever calls Tick on
// its target and never commits anything.
type Ticker struct {
	clock    clock.WithTicker
	interval time.Duration
	target   Tickable
	onChange func()

	mu       sync.Mutex
	started  bool
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewTicker creates a stopped ticker. onChange, if set, runs after every
// tick that changed the target's state.
func NewTicker(clk clock.WithTicker, interval time.Duration, target Tickable, onChange func()) *Ticker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Ticker{
		clock:    clk,
		interval: interval,
		target:   target,
		onChange: onChange,
		done:     make(chan struct{}),
	}
}

// Start begins ticking. Calling Start twice, or after Stop, does nothing.
func (t *Ticker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	select {
	case <-t.done:
		return
	default:
	}
	t.started = true

	// Created before the loop starts so the first interval is measured
	// from Start, not from goroutine scheduling.
	tk := t.clock.NewTicker(t.interval)
	t.wg.Add(1)
	go t.loop(tk)
}

func (t *Ticker) loop(tk clock.Ticker) {
	defer t.wg.Done()
	defer tk.Stop()

	for {
		select {
		case <-tk.C():
			if t.target.Tick() && t.onChange != nil {
				t.onChange()
			}
		case <-t.done:
			return
		}
	}
}

// Stop halts the ticker and waits for the loop to exit. Safe to call more
// than once.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		close(t.done)
		t.mu.Unlock()
		t.wg.Wait()
	})
}
