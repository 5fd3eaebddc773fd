package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/canonica-labs/fedra/internal/algebra"
	"github.com/canonica-labs/fedra/internal/endpoint"
	"github.com/canonica-labs/fedra/internal/errors"
	"github.com/canonica-labs/fedra/internal/monitoring"
	"github.com/canonica-labs/fedra/internal/rdf"
	"github.com/canonica-labs/fedra/internal/scheduler"
	"github.com/canonica-labs/fedra/internal/sparql"
)

// DefaultBoundJoinBlockSize is the bound-join batch size when none is
// configured.
const DefaultBoundJoinBlockSize = 20

// Evaluator executes the federation algebra. Evaluation is pipelined:
// each node produces a lazy stream consumed by its parent; unions and
// multi-source patterns run on the union pool, and each bound-join batch
// fans out to its sources on goroutines of its own.
type Evaluator struct {
	registry  *endpoint.Registry
	joins     *scheduler.Scheduler
	unions    *scheduler.Scheduler
	sink      monitoring.Sink
	blockSize int
}

// New creates an evaluator on the given pools.
func New(registry *endpoint.Registry, joins, unions *scheduler.Scheduler, sink monitoring.Sink, blockSize int) *Evaluator {
	if sink == nil {
		sink = monitoring.NopSink{}
	}
	if blockSize <= 0 {
		blockSize = DefaultBoundJoinBlockSize
	}
	return &Evaluator{
		registry:  registry,
		joins:     joins,
		unions:    unions,
		sink:      sink,
		blockSize: blockSize,
	}
}

// Evaluate runs the plan and returns the result stream. The stream
// re-raises the first task error on pull and observes the abort flag.
func (ev *Evaluator) Evaluate(ctx context.Context, q QueryInfo, plan algebra.Node) (endpoint.BindingStream, error) {
	ctrl := NewControl(q)
	stream, err := ev.eval(ctx, q, ctrl, plan)
	if err != nil {
		return nil, err
	}
	return guard(ctrl, stream), nil
}

func (ev *Evaluator) eval(ctx context.Context, q QueryInfo, ctrl *Control, node algebra.Node) (endpoint.BindingStream, error) {
	switch n := node.(type) {
	case *algebra.EmptyPattern:
		// zero surviving sources: no rows, no remote I/O
		return endpoint.EmptyBindingStream(), nil

	case *algebra.ExclusiveStatement:
		return ev.openExclusive(ctx, n.Source, []rdf.TriplePattern{n.Pattern}, n.Filters)

	case *algebra.ExclusiveGroup:
		return ev.openExclusive(ctx, n.Source, n.Patterns, n.Filters)

	case *algebra.StatementSourcePattern:
		return ev.evalSourcePattern(ctx, q, ctrl, n), nil

	case *algebra.NJoin:
		return ev.evalJoin(ctx, q, ctrl, n)

	case *algebra.BoundJoin:
		left, err := ev.eval(ctx, q, ctrl, n.Left)
		if err != nil {
			return nil, err
		}
		bj := &boundJoinStream{ev: ev, q: q, left: left, blockSize: ev.blockSize}
		switch r := n.Right.(type) {
		case *algebra.StatementSourcePattern:
			bj.pattern, bj.sources = r.Pattern, r.Sources
		case *algebra.ExclusiveStatement:
			bj.pattern, bj.sources, bj.filters = r.Pattern, []algebra.StatementSource{r.Source}, r.Filters
		default:
			left.Close()
			return nil, errors.NewEvaluation("", fmt.Sprintf("bound join right side is %T", n.Right), nil)
		}
		return bj, nil

	case *algebra.NUnion:
		arms := make([]openFn, len(n.Children))
		for i, c := range n.Children {
			c := c
			arms[i] = func(ctx context.Context) (endpoint.BindingStream, error) {
				return ev.eval(ctx, q, ctrl, c)
			}
		}
		return newUnionStream(ctx, q, ctrl, ev.unions, arms), nil

	case *algebra.LeftJoin:
		left, err := ev.eval(ctx, q, ctrl, n.Left)
		if err != nil {
			return nil, err
		}
		right, err := ev.eval(ctx, q, ctrl, n.Right)
		if err != nil {
			left.Close()
			return nil, err
		}
		return newHashJoinStream(ctx, left, right, sharedVars(n.Left, n.Right), true)

	case *algebra.Filter:
		inner, err := ev.eval(ctx, q, ctrl, n.Child)
		if err != nil {
			return nil, err
		}
		return &filterStream{cond: n.Condition, inner: inner}, nil

	case *algebra.Projection:
		inner, err := ev.eval(ctx, q, ctrl, n.Child)
		if err != nil {
			return nil, err
		}
		return &projectionStream{vars: n.Selected, inner: inner}, nil

	default:
		return nil, errors.NewEvaluation("", fmt.Sprintf("unknown algebra node %T", node), nil)
	}
}

// evalJoin evaluates an n-ary join left-deep: each further child is
// hash-joined against the accumulated left side on their shared
// variables. An empty join is the identity: one empty binding.
func (ev *Evaluator) evalJoin(ctx context.Context, q QueryInfo, ctrl *Control, n *algebra.NJoin) (endpoint.BindingStream, error) {
	if len(n.Children) == 0 {
		return endpoint.NewSliceBindingStream([]rdf.BindingSet{rdf.EmptyBindingSet()}), nil
	}

	acc, err := ev.eval(ctx, q, ctrl, n.Children[0])
	if err != nil {
		return nil, err
	}
	accVars := n.Children[0].Vars()

	for _, child := range n.Children[1:] {
		right, err := ev.eval(ctx, q, ctrl, child)
		if err != nil {
			acc.Close()
			return nil, err
		}

		shared := intersectVars(accVars, child.Vars())
		joined, err := newHashJoinStream(ctx, acc, right, shared, false)
		if err != nil {
			acc.Close()
			return nil, err
		}
		acc = joined
		accVars = unionVars(accVars, child.Vars())
	}
	return acc, nil
}

// evalSourcePattern evaluates a multi-source pattern as the bag union of
// its per-source evaluations, merged concurrently on the union pool.
func (ev *Evaluator) evalSourcePattern(ctx context.Context, q QueryInfo, ctrl *Control, n *algebra.StatementSourcePattern) endpoint.BindingStream {
	arms := make([]openFn, len(n.Sources))
	for i, src := range n.Sources {
		src := src
		arms[i] = func(ctx context.Context) (endpoint.BindingStream, error) {
			return ev.openExclusive(ctx, src, []rdf.TriplePattern{n.Pattern}, nil)
		}
	}
	return newUnionStream(ctx, q, ctrl, ev.unions, arms)
}

// openExclusive ships a pattern conjunction to a single member: rendered
// SPARQL for remote members, the algebra form for local stores.
func (ev *Evaluator) openExclusive(ctx context.Context, src algebra.StatementSource, patterns []rdf.TriplePattern, filters []algebra.Expr) (endpoint.BindingStream, error) {
	source, err := ev.tripleSource(src)
	if err != nil {
		return nil, err
	}

	pq := &endpoint.PreparedQuery{Patterns: patterns, Filters: filters}
	if source.UsesPreparedQuery() {
		pq.Text = sparql.RenderSelect(patterns, filters, nil)
	}

	start := time.Now()
	stream, err := source.Evaluate(ctx, pq, nil)
	ev.sink.RemoteRequest(src.EndpointID, time.Since(start), err)
	if err != nil {
		return nil, errors.NewEvaluation(src.EndpointID, "sub-query failed", err)
	}
	return stream, nil
}

// openBoundJoin ships one bound-join batch to a single member.
func (ev *Evaluator) openBoundJoin(ctx context.Context, src algebra.StatementSource, pattern rdf.TriplePattern, filters []algebra.Expr, batch []rdf.BindingSet) (endpoint.BindingStream, error) {
	source, err := ev.tripleSource(src)
	if err != nil {
		return nil, err
	}

	patterns := []rdf.TriplePattern{pattern}
	pq := &endpoint.PreparedQuery{Patterns: patterns, Filters: filters, Batch: batch}
	if source.UsesPreparedQuery() {
		pq.Text = sparql.RenderBoundJoin(patterns, filters, batch)
	}

	start := time.Now()
	stream, err := source.Evaluate(ctx, pq, nil)
	ev.sink.RemoteRequest(src.EndpointID, time.Since(start), err)
	if err != nil {
		return nil, errors.NewEvaluation(src.EndpointID, "bound join batch failed", err)
	}
	return stream, nil
}

func (ev *Evaluator) tripleSource(src algebra.StatementSource) (endpoint.TripleSource, error) {
	e, err := ev.registry.Get(src.EndpointID)
	if err != nil {
		return nil, err
	}
	return e.TripleSource()
}

func intersectVars(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	var out []string
	for _, v := range b {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}

func unionVars(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, v := range append(append([]string(nil), a...), b...) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
