// Package scheduler provides the bounded worker pools used by the parallel
// evaluator: a FIFO task queue drained by a fixed number of workers, with
// cooperative cancellation via the owning query's abort flag.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/els0r/telemetry/logging"
)

// QueryInfo is the slice of the per-query context tasks observe. Dequeued
// tasks check Aborted before running and exit early when set.
type QueryInfo interface {
	ID() uint64
	Aborted() bool
}

// Control is the executor control a task reports back to. Completed fires
// exactly once per scheduled task, after the task ran, was skipped, or
// failed; Toss receives task failures and aborts the owning query.
type Control interface {
	Completed(*Task)
	Toss(err error)
}

// Task is one schedulable unit of work.
type Task struct {
	// Name describes the task for logs.
	Name string

	// Query is the owning query's context.
	Query QueryInfo

	// Run does the work. It must observe ctx and the query's abort flag
	// at yield points (after each batch).
	Run func(ctx context.Context) error
}

type scheduled struct {
	ctx  context.Context
	task *Task
	ctrl Control
}

// Scheduler is a bounded FIFO worker pool. The queue is unbounded so
// Schedule never blocks; concurrency is bounded by the worker count.
type Scheduler struct {
	name    string
	workers int

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []scheduled
	shutdown bool

	wg sync.WaitGroup
}

// New starts a scheduler with the given number of workers.
func New(name string, workers int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	s := &Scheduler{name: name, workers: workers}
	s.cond = sync.NewCond(&s.mu)
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

// Workers returns the pool size.
func (s *Scheduler) Workers() int { return s.workers }

// Schedule hands a task off to the pool without blocking. After shutdown,
// tasks are rejected via the control's Toss and still complete.
func (s *Scheduler) Schedule(ctx context.Context, t *Task, ctrl Control) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		ctrl.Toss(fmt.Errorf("scheduler %s is shut down", s.name))
		ctrl.Completed(t)
		return
	}
	s.queue = append(s.queue, scheduled{ctx: ctx, task: t, ctrl: ctrl})
	s.cond.Signal()
	s.mu.Unlock()
}

// QueueLen returns the number of queued, not yet running tasks.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Shutdown stops the workers. Queued tasks are not run; their controls are
// notified so no latch is left hanging. Shutdown is idempotent and returns
// once all workers exited.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.shutdown = true
	pending := s.queue
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	for _, item := range pending {
		item.ctrl.Toss(fmt.Errorf("scheduler %s shut down before task %s ran", s.name, item.task.Name))
		item.ctrl.Completed(item.task)
	}
	s.wg.Wait()
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.shutdown {
			s.cond.Wait()
		}
		if s.shutdown {
			s.mu.Unlock()
			return
		}
		item := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.runOne(item)
	}
}

// runOne executes a single task, routing failures to the control. The
// completion callback always fires, also for skipped and panicked tasks.
func (s *Scheduler) runOne(item scheduled) {
	defer item.ctrl.Completed(item.task)

	defer func() {
		if r := recover(); r != nil {
			logging.Logger().With("scheduler", s.name, "task", item.task.Name).
				Errorf("task panicked: %v", r)
			item.ctrl.Toss(fmt.Errorf("task %s panicked: %v", item.task.Name, r))
		}
	}()

	// skip without running when the query was aborted or its context is gone
	if item.task.Query != nil && item.task.Query.Aborted() {
		return
	}
	if item.ctx.Err() != nil {
		return
	}

	if err := item.task.Run(item.ctx); err != nil {
		item.ctrl.Toss(err)
	}
}
