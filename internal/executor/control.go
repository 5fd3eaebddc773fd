// Package executor implements the parallel evaluator: pipelined streaming
// operators over the federation algebra, scheduled on the engine's worker
// pools and cancelled through the owning query's abort flag.
package executor

import (
	"sync"

	"github.com/canonica-labs/fedra/internal/errors"
	"github.com/canonica-labs/fedra/internal/scheduler"
)

// QueryInfo is the per-query context the evaluator observes.
type QueryInfo interface {
	scheduler.QueryInfo

	// Abort sets the query's abort flag.
	Abort()
}

// Control is the executor control shared by all tasks of one query. It
// records the first error, aborts the query, and re-raises the error on
// the consumer at its next pull; later errors are dropped.
type Control struct {
	query QueryInfo

	mu  sync.Mutex
	err error
}

// NewControl creates the control for one query evaluation.
func NewControl(q QueryInfo) *Control {
	return &Control{query: q}
}

// Completed implements scheduler.Control.
func (c *Control) Completed(*scheduler.Task) {}

// Toss implements scheduler.Control: the first error wins and aborts the
// query; subsequent errors are discarded.
func (c *Control) Toss(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.query.Abort()
}

// Err returns the recorded error: the first tossed failure, or a
// cancellation error when the query was aborted without one.
func (c *Control) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.query.Aborted() {
		return errors.NewCancelled(c.query.ID())
	}
	return nil
}
