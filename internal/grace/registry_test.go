package grace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/willibrandon/mtlog"
	"github.com/willibrandon/mtlog/sinks"
	testingclock "k8s.io/utils/clock/testing"
)

const (
	waitFor = 2 * time.Second
	pollAt  = 5 * time.Millisecond
	quietly = 100 * time.Millisecond
)

type outcomeRecorder struct {
	mu  sync.Mutex
	got []Outcome
}

func (r *outcomeRecorder) record(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, o)
}

func (r *outcomeRecorder) all() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.got...)
}

func (r *outcomeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

type commitCounter struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func newCommitCounter() *commitCounter {
	return &commitCounter{calls: make(map[string]int)}
}

func (c *commitCounter) commit(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[key]++
	return c.err
}

func (c *commitCounter) callsFor(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[key]
}

func newTestRegistry(t *testing.T) (*Registry, *testingclock.FakeClock, *outcomeRecorder) {
	t.Helper()
	clk := testingclock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := &outcomeRecorder{}
	reg := NewRegistry(RegistryOptions{Clock: clk, Notify: rec.record})
	t.Cleanup(reg.Teardown)
	return reg, clk, rec
}

func TestScheduleThenCancelNeverCommits(t *testing.T) {
	reg, clk, rec := newTestRegistry(t)
	commits := newCommitCounter()

	require.NoError(t, reg.Schedule("A", 7*time.Second, commits.commit))
	clk.Step(3 * time.Second)

	cancelled, err := reg.Cancel("A")
	require.NoError(t, err)
	assert.True(t, cancelled)

	_, active := reg.Remaining("A")
	assert.False(t, active)

	clk.Step(30 * time.Second)
	assert.Never(t, func() bool { return commits.callsFor("A") > 0 }, quietly, pollAt)
	assert.Zero(t, rec.count())
}

func TestDeadlineCommitsExactlyOnce(t *testing.T) {
	reg, clk, rec := newTestRegistry(t)
	commits := newCommitCounter()

	require.NoError(t, reg.Schedule("B", 7*time.Second, commits.commit))

	clk.Step(7*time.Second - time.Millisecond)
	assert.Never(t, func() bool { return commits.callsFor("B") > 0 }, quietly, pollAt)

	clk.Step(time.Millisecond)
	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, pollAt)

	assert.Equal(t, 1, commits.callsFor("B"))
	assert.Equal(t, Outcome{Key: "B"}, rec.all()[0])

	_, active := reg.Remaining("B")
	assert.False(t, active)
	assert.Zero(t, reg.Len())
	assert.False(t, reg.InFlight("B"))

	clk.Step(time.Minute)
	assert.Never(t, func() bool { return commits.callsFor("B") > 1 }, quietly, pollAt)
}

func TestRescheduleSupersedesPreviousDeadline(t *testing.T) {
	reg, clk, rec := newTestRegistry(t)
	commits := newCommitCounter()

	require.NoError(t, reg.Schedule("k", 7*time.Second, commits.commit))
	clk.Step(5 * time.Second)
	require.NoError(t, reg.Schedule("k", 7*time.Second, commits.commit))

	remaining, ok := reg.Remaining("k")
	require.True(t, ok)
	assert.Equal(t, 7, remaining)
	assert.Equal(t, 1, reg.Len())

	// The first deadline would have been here.
	clk.Step(2 * time.Second)
	assert.Never(t, func() bool { return commits.callsFor("k") > 0 }, quietly, pollAt)

	clk.Step(5 * time.Second)
	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, pollAt)
	assert.Equal(t, 1, commits.callsFor("k"))

	clk.Step(time.Minute)
	assert.Never(t, func() bool { return commits.callsFor("k") > 1 }, quietly, pollAt)
}

func TestCancelUnknownKeyIsNoop(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	cancelled, err := reg.Cancel("nope")
	require.NoError(t, err)
	assert.False(t, cancelled)

	cancelled, err = reg.Cancel("nope")
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestTickOnEmptyRegistryChangesNothing(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	assert.False(t, reg.Tick())
	assert.False(t, reg.Tick())
	assert.Empty(t, reg.Snapshot())
	assert.Zero(t, reg.Len())
}

func TestTickDecrementsByOneAndFloorsAtZero(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	commits := newCommitCounter()

	require.NoError(t, reg.Schedule("a", 2*time.Second, commits.commit))
	require.NoError(t, reg.Schedule("b", 3*time.Second, commits.commit))

	assert.True(t, reg.Tick())
	assert.Equal(t, []Countdown{{Key: "a", Remaining: 1}, {Key: "b", Remaining: 2}}, reg.Snapshot())

	assert.True(t, reg.Tick())
	assert.Equal(t, []Countdown{{Key: "a", Remaining: 0}, {Key: "b", Remaining: 1}}, reg.Snapshot())

	assert.True(t, reg.Tick())
	assert.Equal(t, []Countdown{{Key: "a", Remaining: 0}, {Key: "b", Remaining: 0}}, reg.Snapshot())

	// Everything at zero: the display clock has nothing to do, and it does
	// not commit on its own.
	assert.False(t, reg.Tick())
	assert.Equal(t, []Countdown{{Key: "a", Remaining: 0}, {Key: "b", Remaining: 0}}, reg.Snapshot())
	assert.Zero(t, commits.callsFor("a"))
	assert.Zero(t, commits.callsFor("b"))
}

func TestDisplaySecondsRoundUp(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	commits := newCommitCounter()

	require.NoError(t, reg.Schedule("x", 1500*time.Millisecond, commits.commit))
	remaining, ok := reg.Remaining("x")
	require.True(t, ok)
	assert.Equal(t, 2, remaining)
}

func TestScheduleRejectsNonPositiveGrace(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	commits := newCommitCounter()

	assert.ErrorIs(t, reg.Schedule("x", 0, commits.commit), ErrInvalidGrace)
	assert.ErrorIs(t, reg.Schedule("x", -time.Second, commits.commit), ErrInvalidGrace)
	assert.Zero(t, reg.Len())
}

func TestCancelWhileCommitInFlightIsTooLate(t *testing.T) {
	reg, clk, rec := newTestRegistry(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	blocking := func(_ context.Context, _ string) error {
		calls.Add(1)
		close(started)
		<-release
		return nil
	}

	require.NoError(t, reg.Schedule("C", 7*time.Second, blocking))
	clk.Step(7 * time.Second)

	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("commit never started")
	}
	assert.True(t, reg.InFlight("C"))

	cancelled, err := reg.Cancel("C")
	assert.False(t, cancelled)
	assert.ErrorIs(t, err, ErrCancelAfterCommit)

	// Rescheduling is refused while the commit is still running.
	assert.ErrorIs(t, reg.Schedule("C", 7*time.Second, blocking), ErrCommitInFlight)

	close(release)
	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, pollAt)
	assert.NoError(t, rec.all()[0].Err, "late cancel must not suppress the commit report")
	assert.Equal(t, int32(1), calls.Load())

	// Still too late after the commit completed.
	_, err = reg.Cancel("C")
	assert.ErrorIs(t, err, ErrCancelAfterCommit)
}

func TestCancelAfterFailedCommitIsNoop(t *testing.T) {
	reg, clk, rec := newTestRegistry(t)
	commits := newCommitCounter()
	commits.err = errors.New("disk busy")

	require.NoError(t, reg.Schedule("F", time.Second, commits.commit))
	clk.Step(time.Second)
	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, pollAt)

	out := rec.all()[0]
	assert.Equal(t, "F", out.Key)
	assert.EqualError(t, out.Err, "disk busy")

	// The key is idle again: no retry, no requeue, cancel is a no-op.
	assert.Zero(t, reg.Len())
	cancelled, err := reg.Cancel("F")
	require.NoError(t, err)
	assert.False(t, cancelled)

	clk.Step(time.Minute)
	assert.Never(t, func() bool { return commits.callsFor("F") > 1 }, quietly, pollAt)

	// An operator can schedule it again.
	commits.mu.Lock()
	commits.err = nil
	commits.mu.Unlock()
	require.NoError(t, reg.Schedule("F", time.Second, commits.commit))
	clk.Step(time.Second)
	require.Eventually(t, func() bool { return rec.count() == 2 }, waitFor, pollAt)
	assert.NoError(t, rec.all()[1].Err)
}

func TestSchedulingAgainClearsTooLateMemory(t *testing.T) {
	reg, clk, rec := newTestRegistry(t)
	commits := newCommitCounter()

	require.NoError(t, reg.Schedule("R", time.Second, commits.commit))
	clk.Step(time.Second)
	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, pollAt)

	require.NoError(t, reg.Schedule("R", time.Second, commits.commit))
	cancelled, err := reg.Cancel("R")
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestCommitNow(t *testing.T) {
	reg, clk, rec := newTestRegistry(t)
	commits := newCommitCounter()

	assert.ErrorIs(t, reg.CommitNow("N"), ErrNotScheduled)

	require.NoError(t, reg.Schedule("N", 7*time.Second, commits.commit))
	require.NoError(t, reg.CommitNow("N"))
	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, pollAt)
	assert.Equal(t, 1, commits.callsFor("N"))

	// The original deadline must not fire a second commit.
	clk.Step(7 * time.Second)
	assert.Never(t, func() bool { return commits.callsFor("N") > 1 }, quietly, pollAt)
}

func TestPanickingCommitIsReportedAsFailure(t *testing.T) {
	reg, clk, rec := newTestRegistry(t)
	commits := newCommitCounter()

	boom := func(_ context.Context, _ string) error { panic("boom") }
	require.NoError(t, reg.Schedule("P", time.Second, boom))
	require.NoError(t, reg.Schedule("Q", time.Second, commits.commit))
	clk.Step(time.Second)

	require.Eventually(t, func() bool { return rec.count() == 2 }, waitFor, pollAt)
	byKey := map[string]error{}
	for _, o := range rec.all() {
		byKey[o.Key] = o.Err
	}
	assert.ErrorContains(t, byKey["P"], "panicked")
	assert.NoError(t, byKey["Q"], "other keys are unaffected")
}

func TestTeardownCancelsEverything(t *testing.T) {
	reg, clk, rec := newTestRegistry(t)
	commits := newCommitCounter()

	require.NoError(t, reg.Schedule("a", 7*time.Second, commits.commit))
	require.NoError(t, reg.Schedule("b", 3*time.Second, commits.commit))

	reg.Teardown()
	assert.Zero(t, reg.Len())
	assert.Empty(t, reg.Snapshot())
	assert.False(t, reg.Tick())

	clk.Step(time.Minute)
	assert.Never(t, func() bool { return commits.callsFor("a")+commits.callsFor("b") > 0 }, quietly, pollAt)
	assert.Zero(t, rec.count())

	assert.ErrorIs(t, reg.Schedule("c", time.Second, commits.commit), ErrClosed)
	assert.ErrorIs(t, reg.CommitNow("a"), ErrClosed)

	assert.NotPanics(t, reg.Teardown)
}

func TestTeardownWaitsForInFlightCommit(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	rec := &outcomeRecorder{}
	reg := NewRegistry(RegistryOptions{Clock: clk, Notify: rec.record})

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, reg.Schedule("W", time.Second, func(_ context.Context, _ string) error {
		close(started)
		<-release
		return nil
	}))
	clk.Step(time.Second)
	<-started

	done := make(chan struct{})
	go func() {
		reg.Teardown()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("teardown returned while a commit was still running")
	case <-time.After(quietly):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("teardown did not return after the commit finished")
	}
	assert.Equal(t, 1, rec.count())
}

func TestRegistryLogsLifecycle(t *testing.T) {
	sink := sinks.NewMemorySink()
	clk := testingclock.NewFakeClock(time.Now())
	reg := NewRegistry(RegistryOptions{Clock: clk, Logger: mtlog.New(mtlog.WithSink(sink))})
	t.Cleanup(reg.Teardown)

	commits := newCommitCounter()
	require.NoError(t, reg.Schedule("L", time.Second, commits.commit))
	_, err := reg.Cancel("L")
	require.NoError(t, err)

	var templates []string
	for _, ev := range sink.Events() {
		templates = append(templates, ev.MessageTemplate)
	}
	assert.Contains(t, templates, "Scheduled {Key} to commit in {Grace}")
	assert.Contains(t, templates, "Cancelled pending commit for {Key}")
}

// With a real clock, every key either cancels cleanly or reports too late,
// and the commit count matches exactly.
func TestCancelRacesWithDeadline(t *testing.T) {
	rec := &outcomeRecorder{}
	reg := NewRegistry(RegistryOptions{Notify: rec.record})
	commits := newCommitCounter()

	const keys = 200
	for i := 0; i < keys; i++ {
		require.NoError(t, reg.Schedule(fmt.Sprintf("k%d", i), 5*time.Millisecond, commits.commit))
	}

	var wg sync.WaitGroup
	results := make([]error, keys)
	cancelled := make([]bool, keys)
	for i := 0; i < keys; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(i%10) * time.Millisecond)
			cancelled[i], results[i] = reg.Cancel(fmt.Sprintf("k%d", i))
		}(i)
	}
	wg.Wait()
	reg.Teardown()

	for i := 0; i < keys; i++ {
		key := fmt.Sprintf("k%d", i)
		if cancelled[i] {
			assert.Zero(t, commits.callsFor(key), "cancelled key %s committed", key)
			continue
		}
		assert.ErrorIs(t, results[i], ErrCancelAfterCommit, "key %s", key)
		assert.Equal(t, 1, commits.callsFor(key), "key %s", key)
	}
}

func TestTeardownGivesUpOnStuckCommit(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	rec := &outcomeRecorder{}
	reg := NewRegistry(RegistryOptions{Clock: clk, Notify: rec.record, TeardownTimeout: 3 * time.Second})

	started := make(chan struct{})
	require.NoError(t, reg.Schedule("S", time.Second, func(ctx context.Context, _ string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	clk.Step(time.Second)
	<-started
	assert.Equal(t, 1, reg.InFlightCount())

	done := make(chan struct{})
	go func() {
		reg.Teardown()
		close(done)
	}()

	require.Eventually(t, clk.HasWaiters, waitFor, pollAt)
	select {
	case <-done:
		t.Fatal("teardown returned before its deadline")
	case <-time.After(quietly):
	}

	clk.Step(3 * time.Second)
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("teardown kept waiting past its deadline")
	}

	// The stuck commit sees its context cancelled and reports the failure.
	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, pollAt)
	assert.ErrorIs(t, rec.all()[0].Err, context.Canceled)
	assert.Zero(t, reg.InFlightCount())
}

func TestTooLateMemoryEvictsOldestKey(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	rec := &outcomeRecorder{}
	reg := NewRegistry(RegistryOptions{Clock: clk, Notify: rec.record, RecentCommits: 1})
	t.Cleanup(reg.Teardown)
	commits := newCommitCounter()

	require.NoError(t, reg.Schedule("A", time.Second, commits.commit))
	clk.Step(time.Second)
	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, pollAt)

	_, err := reg.Cancel("A")
	assert.ErrorIs(t, err, ErrCancelAfterCommit)

	require.NoError(t, reg.Schedule("B", time.Second, commits.commit))
	clk.Step(time.Second)
	require.Eventually(t, func() bool { return rec.count() == 2 }, waitFor, pollAt)

	// A has been pushed out, so a late cancel for it is a plain no-op.
	cancelled, err := reg.Cancel("A")
	require.NoError(t, err)
	assert.False(t, cancelled)

	_, err = reg.Cancel("B")
	assert.ErrorIs(t, err, ErrCancelAfterCommit)
	assert.Equal(t, 1, commits.callsFor("A"))
}
