package grace

import "errors"

// Sentinel errors returned by the registry. Use errors.Is to check.
var (
	// ErrCancelAfterCommit means the deadline already fired: the commit is
	// in flight or has completed, so the cancellation did not apply.
	ErrCancelAfterCommit = errors.New("grace: too late to cancel, commit already started")

	// ErrCommitInFlight means a commit for the key is still running and the
	// key cannot be scheduled again until it reports.
	ErrCommitInFlight = errors.New("grace: commit in flight")

	// ErrNotScheduled means no grace period is active for the key.
	ErrNotScheduled = errors.New("grace: key not scheduled")

	// ErrInvalidGrace means a non-positive grace period was requested.
	ErrInvalidGrace = errors.New("grace: grace period must be positive")

	// ErrClosed means the registry has been torn down.
	ErrClosed = errors.New("grace: registry torn down")
)
