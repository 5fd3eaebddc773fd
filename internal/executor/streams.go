package executor

import (
	"context"
	"sort"
	"strings"

	"github.com/canonica-labs/fedra/internal/algebra"
	"github.com/canonica-labs/fedra/internal/endpoint"
	"github.com/canonica-labs/fedra/internal/rdf"
)

// guardStream wraps an operator's output: every pull observes the abort
// flag and re-raises the control's recorded error. Close is idempotent
// and propagates bottom-up.
type guardStream struct {
	ctrl  *Control
	inner endpoint.BindingStream
}

func guard(ctrl *Control, inner endpoint.BindingStream) endpoint.BindingStream {
	return &guardStream{ctrl: ctrl, inner: inner}
}

func (g *guardStream) Next(ctx context.Context) (rdf.BindingSet, error) {
	if err := g.ctrl.Err(); err != nil {
		g.inner.Close()
		return nil, err
	}
	row, err := g.inner.Next(ctx)
	if err != nil {
		g.ctrl.Toss(err)
		g.inner.Close()
		return nil, err
	}
	return row, nil
}

func (g *guardStream) Close() error {
	return g.inner.Close()
}

// filterStream drops rows failing the condition. Evaluation errors (for
// example unbound comparison operands) drop the row, matching SPARQL's
// error-as-false filter semantics.
type filterStream struct {
	cond  algebra.Expr
	inner endpoint.BindingStream
}

func (f *filterStream) Next(ctx context.Context) (rdf.BindingSet, error) {
	for {
		row, err := f.inner.Next(ctx)
		if err != nil || row == nil {
			return nil, err
		}
		ok, err := algebra.Eval(f.cond, row)
		if err == nil && ok {
			return row, nil
		}
	}
}

func (f *filterStream) Close() error { return f.inner.Close() }

// projectionStream restricts visible variables; cardinality is unchanged.
type projectionStream struct {
	vars  []string
	inner endpoint.BindingStream
}

func (p *projectionStream) Next(ctx context.Context) (rdf.BindingSet, error) {
	row, err := p.inner.Next(ctx)
	if err != nil || row == nil {
		return nil, err
	}
	return row.Project(p.vars), nil
}

func (p *projectionStream) Close() error { return p.inner.Close() }

// DistinctStream deduplicates rows by their canonical rendering.
type DistinctStream struct {
	inner endpoint.BindingStream
	seen  map[string]bool
}

// NewDistinctStream wraps a stream with duplicate elimination.
func NewDistinctStream(inner endpoint.BindingStream) *DistinctStream {
	return &DistinctStream{inner: inner, seen: make(map[string]bool)}
}

func (d *DistinctStream) Next(ctx context.Context) (rdf.BindingSet, error) {
	for {
		row, err := d.inner.Next(ctx)
		if err != nil || row == nil {
			return nil, err
		}
		key := row.String()
		if d.seen[key] {
			continue
		}
		d.seen[key] = true
		return row, nil
	}
}

func (d *DistinctStream) Close() error { return d.inner.Close() }

// LimitStream caps the number of rows and closes its input once reached.
type LimitStream struct {
	inner endpoint.BindingStream
	limit int
	count int
}

// NewLimitStream wraps a stream with a row cap.
func NewLimitStream(inner endpoint.BindingStream, limit int) *LimitStream {
	return &LimitStream{inner: inner, limit: limit}
}

func (l *LimitStream) Next(ctx context.Context) (rdf.BindingSet, error) {
	if l.count >= l.limit {
		l.inner.Close()
		return nil, nil
	}
	row, err := l.inner.Next(ctx)
	if err != nil || row == nil {
		return nil, err
	}
	l.count++
	return row, nil
}

func (l *LimitStream) Close() error { return l.inner.Close() }

// joinKey renders the values of the shared variables; rows where a shared
// variable is unbound report ok=false and fall back to pairwise merging.
func joinKey(row rdf.BindingSet, shared []string) (string, bool) {
	parts := make([]string, 0, len(shared))
	for _, v := range shared {
		t, bound := row[v]
		if !bound {
			return "", false
		}
		parts = append(parts, t.String())
	}
	return strings.Join(parts, "\x1f"), true
}

// sharedVars returns the variables common to both nodes, sorted.
func sharedVars(left, right algebra.Node) []string {
	set := make(map[string]bool)
	for _, v := range left.Vars() {
		set[v] = true
	}
	var shared []string
	for _, v := range right.Vars() {
		if set[v] {
			shared = append(shared, v)
		}
	}
	sort.Strings(shared)
	return shared
}

// hashJoinStream joins a streamed left side against a materialised right
// side, hashed on the shared variables. Rows with unbound shared
// variables are merged pairwise. With leftOuter set, unmatched left rows
// survive (OPTIONAL semantics).
type hashJoinStream struct {
	left      endpoint.BindingStream
	shared    []string
	index     map[string][]rdf.BindingSet
	unkeyed   []rdf.BindingSet
	leftOuter bool

	pending []rdf.BindingSet
}

func newHashJoinStream(ctx context.Context, left, right endpoint.BindingStream, shared []string, leftOuter bool) (*hashJoinStream, error) {
	defer right.Close()
	h := &hashJoinStream{
		left:      left,
		shared:    shared,
		index:     make(map[string][]rdf.BindingSet),
		leftOuter: leftOuter,
	}
	for {
		row, err := right.Next(ctx)
		if err != nil {
			left.Close()
			return nil, err
		}
		if row == nil {
			break
		}
		if key, ok := joinKey(row, shared); ok {
			h.index[key] = append(h.index[key], row)
		} else {
			h.unkeyed = append(h.unkeyed, row)
		}
	}
	return h, nil
}

func (h *hashJoinStream) Next(ctx context.Context) (rdf.BindingSet, error) {
	for {
		if len(h.pending) > 0 {
			row := h.pending[0]
			h.pending = h.pending[1:]
			return row, nil
		}

		leftRow, err := h.left.Next(ctx)
		if err != nil || leftRow == nil {
			return nil, err
		}

		var candidates []rdf.BindingSet
		if key, ok := joinKey(leftRow, h.shared); ok {
			candidates = h.index[key]
		} else {
			// unbound shared variable: consider every keyed right row
			for _, rows := range h.index {
				candidates = append(candidates, rows...)
			}
		}
		candidates = append(candidates, h.unkeyed...)

		for _, rightRow := range candidates {
			if merged, ok := leftRow.Merge(rightRow); ok {
				h.pending = append(h.pending, merged)
			}
		}
		if len(h.pending) == 0 && h.leftOuter {
			return leftRow, nil
		}
	}
}

func (h *hashJoinStream) Close() error {
	return h.left.Close()
}
