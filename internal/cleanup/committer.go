// Package cleanup glues the grace-period registry to the order backend: it
// performs the deletion when a grace period ends and keeps the visible
// order list in step with the backend.
package cleanup

import (
	"context"
	"errors"
	"fmt"

	"github.com/jumboxerox/opsconsole/internal/model"
	"github.com/willibrandon/mtlog"
	"github.com/willibrandon/mtlog/core"
)

// DefaultFailureReason is shown when the backend gives no reason.
const DefaultFailureReason = "Deletion failed"

// CommitError is a failed deletion for one order.
type CommitError struct {
	Key string
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("delete files for order %s: %v", e.Key, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// Reason returns the human-readable failure reason, preferring the one the
// backend sent.
func (e *CommitError) Reason() string {
	var r interface{ Reason() string }
	if errors.As(e.Err, &r) {
		if s := r.Reason(); s != "" {
			return s
		}
	}
	return DefaultFailureReason
}

// Committer performs the irreversible deletion once a grace period ends.
type Committer struct {
	Deleter model.FileDeleter

	// Refresh is asked to reload the list after a successful deletion.
	// It receives the query that was current when the deletion finished.
	Refresh func(model.ListQuery)
	Current func() model.ListQuery

	Logger core.Logger
}

// Commit deletes the files for key. Its signature matches grace.CommitFunc.
func (c *Committer) Commit(ctx context.Context, key string) error {
	logger := c.Logger
	if logger == nil {
		logger = mtlog.New()
	}
	if c.Deleter == nil {
		return &CommitError{Key: key, Err: errors.New("no deleter configured")}
	}

	if err := c.Deleter.DeleteOrderFiles(ctx, key); err != nil {
		logger.Warning("Deleting files for order {OrderID} failed: {Error}", key, err)
		return &CommitError{Key: key, Err: err}
	}
	logger.Information("Deleted files for order {OrderID}", key)

	if c.Refresh != nil {
		var q model.ListQuery
		if c.Current != nil {
			q = c.Current()
		}
		c.Refresh(q)
	}
	return nil
}
