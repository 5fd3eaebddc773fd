package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/canonica-labs/fedra/internal/endpoint"
	"github.com/canonica-labs/fedra/internal/rdf"
	"github.com/canonica-labs/fedra/internal/scheduler"
)

// unionStream merges child streams concurrently: one task per child is
// scheduled on the union pool, each draining its child into a shared
// bounded channel. Output order across children is unspecified; the total
// is the bag union. Any child error aborts the whole query.
type unionStream struct {
	ctrl *Control
	out  chan rdf.BindingSet

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc

	remaining int
	doneCh    chan struct{}
}

// openFn opens one child stream when its task runs.
type openFn func(ctx context.Context) (endpoint.BindingStream, error)

// newUnionStream schedules one drain task per child.
func newUnionStream(ctx context.Context, q QueryInfo, ctrl *Control, sched *scheduler.Scheduler, children []openFn) *unionStream {
	ctx, cancel := context.WithCancel(ctx)
	u := &unionStream{
		ctrl:      ctrl,
		out:       make(chan rdf.BindingSet, endpoint.DefaultBufferCapacity),
		cancel:    cancel,
		remaining: len(children),
		doneCh:    make(chan struct{}),
	}
	if len(children) == 0 {
		close(u.doneCh)
		return u
	}

	for i, open := range children {
		open := open
		task := &scheduler.Task{
			Name:  fmt.Sprintf("union arm %d of query %d", i, q.ID()),
			Query: q,
			Run: func(ctx context.Context) error {
				return u.drain(ctx, open)
			},
		}
		sched.Schedule(ctx, task, unionControl{u: u, ctrl: ctrl})
	}
	return u
}

// drain pulls one child stream into the shared channel.
func (u *unionStream) drain(ctx context.Context, open openFn) error {
	stream, err := open(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		row, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		select {
		case u.out <- row:
		case <-ctx.Done():
			return nil
		}
	}
}

// unionControl forwards task completion to the union's arm counter while
// routing errors to the query's executor control.
type unionControl struct {
	u    *unionStream
	ctrl *Control
}

func (c unionControl) Completed(*scheduler.Task) {
	c.u.mu.Lock()
	c.u.remaining--
	done := c.u.remaining == 0
	c.u.mu.Unlock()
	if done {
		close(c.u.doneCh)
	}
}

func (c unionControl) Toss(err error) {
	c.ctrl.Toss(err)
}

func (u *unionStream) Next(ctx context.Context) (rdf.BindingSet, error) {
	for {
		if err := u.ctrl.Err(); err != nil {
			return nil, err
		}
		select {
		case row := <-u.out:
			return row, nil
		case <-u.doneCh:
			// arms finished; flush anything left in the channel
			select {
			case row := <-u.out:
				return row, nil
			default:
				return nil, u.ctrl.Err()
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (u *unionStream) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	u.mu.Unlock()

	// cancelling the arm context unblocks producers stuck on a full channel
	u.cancel()
	return nil
}
