package engine

import (
	"context"
	"sync"

	"github.com/canonica-labs/fedra/internal/endpoint"
	"github.com/canonica-labs/fedra/internal/errors"
	"github.com/canonica-labs/fedra/internal/rdf"
)

// Result is the streaming answer of one federated query. Rows arrive as
// the federation produces them; a requested abort ends the stream
// silently with cancellation status, while failures surface on Next and
// again on Close, carrying the originating member.
type Result struct {
	manager *Manager
	qi      *QueryInfo
	vars    []string
	stream  endpoint.BindingStream
	ctx     context.Context

	mu        sync.Mutex
	closed    bool
	err       error
	cancelled bool
}

// Vars returns the projected variable names.
func (r *Result) Vars() []string {
	return append([]string(nil), r.vars...)
}

// QueryID returns the underlying query id.
func (r *Result) QueryID() uint64 { return r.qi.ID() }

// Next returns the next solution row, or nil when the stream ends. A
// requested abort ends the stream without error; evaluation failures are
// returned and recorded for Close.
func (r *Result) Next(ctx context.Context) (rdf.BindingSet, error) {
	row, err := r.stream.Next(ctx)
	if err != nil {
		if errors.IsCancelled(err) {
			r.mu.Lock()
			r.cancelled = true
			r.mu.Unlock()
			return nil, nil
		}
		r.mu.Lock()
		if r.err == nil {
			r.err = err
		}
		r.mu.Unlock()
		return nil, err
	}
	if row != nil {
		r.qi.CountRow()
	}
	return row, nil
}

// Cancelled reports whether the query was aborted before completing.
func (r *Result) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled || (r.qi.Aborted() && r.err == nil)
}

// Abort requests cancellation of the running query.
func (r *Result) Abort() {
	r.qi.Abort()
}

// Close releases the query's resources. It returns the recorded
// evaluation error, if any, so failures cannot pass silently.
func (r *Result) Close() error {
	r.mu.Lock()
	if r.closed {
		err := r.err
		r.mu.Unlock()
		return err
	}
	r.closed = true
	err := r.err
	cancelled := r.cancelled
	r.mu.Unlock()

	r.stream.Close()

	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case cancelled || r.qi.Aborted():
		outcome = "cancelled"
	}
	r.manager.finish(r.qi, outcome)
	return err
}
