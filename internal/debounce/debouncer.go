// Package debounce coalesces bursts of input into a single downstream call.
package debounce

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// State of a Debouncer.
type State int

const (
	Idle State = iota
	Pending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	default:
		return "unknown"
	}
}

// Debouncer emits the latest input value once no new input has arrived for
// the quiet period. Intermediate values are discarded.
type Debouncer struct {
	clock clock.WithDelayedExecution
	quiet time.Duration
	flush func(string)

	mu      sync.Mutex
	state   State
	value   string
	gen     uint64
	timer   clock.Timer
	stopped bool
}

// New creates an idle debouncer. flush runs on the clock's timer goroutine.
func New(clk clock.WithDelayedExecution, quiet time.Duration, flush func(string)) *Debouncer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Debouncer{
		clock: clk,
		quiet: quiet,
		flush: flush,
	}
}

// Input records value and restarts the quiet period.
func (d *Debouncer) Input(value string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.gen++
	gen := d.gen
	d.value = value
	d.state = Pending
	prev := d.timer
	d.timer = nil
	d.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	timer := d.clock.AfterFunc(d.quiet, func() { d.fire(gen) })

	d.mu.Lock()
	if d.gen == gen && !d.stopped {
		d.timer = timer
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	timer.Stop()
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.gen != gen || d.stopped || d.state != Pending {
		d.mu.Unlock()
		return
	}
	d.state = Idle
	d.timer = nil
	value := d.value
	d.mu.Unlock()

	if d.flush != nil {
		d.flush(value)
	}
}

// State returns the current state.
func (d *Debouncer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Pending returns the most recent input, whether or not it has flushed.
func (d *Debouncer) Pending() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value
}

// Stop cancels a pending flush without emitting. Later input is ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.gen++
	d.state = Idle
	timer := d.timer
	d.timer = nil
	d.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
}
