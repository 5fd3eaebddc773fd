// Package optimizer turns a parsed query into the federation algebra:
// source selection over the member set, exclusive grouping, filter
// push-down, bound-join marking and join ordering.
package optimizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/els0r/telemetry/logging"

	"github.com/canonica-labs/fedra/internal/algebra"
	"github.com/canonica-labs/fedra/internal/cache"
	"github.com/canonica-labs/fedra/internal/endpoint"
	"github.com/canonica-labs/fedra/internal/errors"
	"github.com/canonica-labs/fedra/internal/monitoring"
	"github.com/canonica-labs/fedra/internal/rdf"
	"github.com/canonica-labs/fedra/internal/scheduler"
)

// QueryInfo is the per-query context the optimizer observes: identity,
// the abort flag, and the remaining time budget.
type QueryInfo interface {
	scheduler.QueryInfo

	// RemainingTime returns the query's remaining budget; zero means
	// no budget is enforced.
	RemainingTime() time.Duration

	// Abort sets the query's abort flag.
	Abort()
}

// Resolver performs source selection: it decides, per triple pattern,
// which members can contribute answers, using the cache first and
// concurrent remote probes for unknown pairs.
type Resolver struct {
	registry *endpoint.Registry
	cache    cache.SourceSelectionCache
	sched    *scheduler.Scheduler
	sink     monitoring.Sink
}

// NewResolver creates a resolver probing via the given scheduler.
func NewResolver(registry *endpoint.Registry, c cache.SourceSelectionCache, sched *scheduler.Scheduler, sink monitoring.Sink) *Resolver {
	if sink == nil {
		sink = monitoring.NopSink{}
	}
	return &Resolver{registry: registry, cache: c, sched: sched, sink: sink}
}

// probeKey identifies one deduplicated probe within a selection pass.
type probeKey struct {
	key        rdf.SubQueryKey
	endpointID string
}

// selectionControl is the latch: it counts task completions and collects
// probe errors for a single sample after the latch drains.
type selectionControl struct {
	mu        sync.Mutex
	remaining int
	done      chan struct{}
	errs      []error
}

func newSelectionControl(count int) *selectionControl {
	c := &selectionControl{remaining: count, done: make(chan struct{})}
	if count == 0 {
		close(c.done)
	}
	return c
}

// Completed implements scheduler.Control.
func (c *selectionControl) Completed(*scheduler.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining--
	if c.remaining == 0 {
		close(c.done)
	}
}

// Toss implements scheduler.Control.
func (c *selectionControl) Toss(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *selectionControl) firstError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) == 0 {
		return nil
	}
	return c.errs[0]
}

// SelectSources annotates each pattern with its source list. After a
// successful pass no pattern retains an unknown (possibly) source.
func (r *Resolver) SelectSources(ctx context.Context, q QueryInfo, patterns []rdf.TriplePattern) ([][]algebra.StatementSource, error) {
	start := time.Now()
	members := r.registry.List()

	// pass 1: cache lookups; unknown pairs become probe tasks
	probes := make(map[probeKey]*scheduler.Task)
	for _, p := range patterns {
		key := p.Key()
		for _, e := range members {
			switch r.cache.CanProvideStatements(key, e.ID) {
			case cache.HasLocalStatements, cache.HasRemoteStatements, cache.None:
				// known; nothing to probe
			case cache.PossiblyHasStatements:
				pk := probeKey{key: key, endpointID: e.ID}
				if _, ok := probes[pk]; ok {
					continue
				}
				probes[pk] = r.probeTask(q, e, p)
			}
		}
	}

	// pass 2: run all probes and wait on the latch within the budget
	ctrl := newSelectionControl(len(probes))
	for _, task := range probes {
		r.sched.Schedule(ctx, task, ctrl)
	}
	if err := r.awaitLatch(ctx, q, ctrl); err != nil {
		q.Abort()
		return nil, err
	}
	if err := ctrl.firstError(); err != nil {
		q.Abort()
		return nil, errors.NewOptimization("source selection probe failed", err)
	}

	// pass 3: assemble the per-pattern source lists from the cache
	sources := make([][]algebra.StatementSource, len(patterns))
	for i, p := range patterns {
		key := p.Key()
		for _, e := range members {
			a := r.cache.CanProvideStatements(key, e.ID)
			if !a.IsPositive() {
				continue
			}
			kind := algebra.SourceRemote
			if a == cache.HasLocalStatements {
				kind = algebra.SourceLocal
			}
			sources[i] = append(sources[i], algebra.StatementSource{EndpointID: e.ID, Kind: kind})
		}
	}

	r.sink.SourceSelectionDone(time.Since(start), len(patterns), len(probes))
	logging.FromContext(ctx).With(
		"query_id", q.ID(),
		"patterns", len(patterns),
		"probes", len(probes),
		"elapsed", time.Since(start),
	).Debug("source selection finished")

	return sources, nil
}

// probeTask builds the remote probe for one (endpoint, pattern) pair. The
// probe updates the cache on success; failures are tossed to the control
// and the latch still counts down.
func (r *Resolver) probeTask(q QueryInfo, e *endpoint.Endpoint, p rdf.TriplePattern) *scheduler.Task {
	key := p.Key()
	return &scheduler.Task{
		Name:  fmt.Sprintf("probe %s @ %s", key, e.ID),
		Query: q,
		Run: func(ctx context.Context) error {
			src, err := e.TripleSource()
			if err != nil {
				return err
			}
			start := time.Now()
			has, err := src.Ask(ctx, p, nil)
			r.sink.RemoteRequest(e.ID, time.Since(start), err)
			if err != nil {
				return err
			}
			r.sink.ProbeIssued(e.ID, has)
			r.cache.UpdateEntry(key, e.ID, has, src.Kind() == algebra.SourceLocal)
			return nil
		},
	}
}

// awaitLatch blocks until all probes completed, honouring the query's
// remaining time budget.
func (r *Resolver) awaitLatch(ctx context.Context, q QueryInfo, ctrl *selectionControl) error {
	budget := q.RemainingTime()
	var timeout <-chan time.Time
	if budget > 0 {
		timer := time.NewTimer(budget)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctrl.done:
		return nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return errors.NewOptimizationTimeout("query deadline reached during source selection")
		}
		return errors.NewOptimization("source selection interrupted", ctx.Err())
	case <-timeout:
		return errors.NewOptimizationTimeout(
			fmt.Sprintf("probes outstanding after %s", budget))
	}
}
