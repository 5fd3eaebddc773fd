package executor

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/canonica-labs/fedra/internal/algebra"
	"github.com/canonica-labs/fedra/internal/endpoint"
	"github.com/canonica-labs/fedra/internal/errors"
	"github.com/canonica-labs/fedra/internal/rdf"
	"github.com/canonica-labs/fedra/internal/sparql"
)

// boundJoinStream evaluates a bound join: left rows are accumulated in
// batches; each batch becomes one VALUES-parameterised sub-query per
// source of the right-hand pattern. Result rows are re-associated with
// their left tuple through the hidden index variable. An empty left side
// issues no remote requests.
type boundJoinStream struct {
	ev      *Evaluator
	q       QueryInfo
	left    endpoint.BindingStream
	pattern rdf.TriplePattern
	sources []algebra.StatementSource
	filters []algebra.Expr

	blockSize int
	pending   []rdf.BindingSet
	done      bool
}

func (b *boundJoinStream) Next(ctx context.Context) (rdf.BindingSet, error) {
	for {
		if len(b.pending) > 0 {
			row := b.pending[0]
			b.pending = b.pending[1:]
			return row, nil
		}
		if b.done {
			return nil, nil
		}

		batch, err := b.nextBatch(ctx)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			b.done = true
			continue
		}

		rows, err := b.evalBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		b.pending = rows
	}
}

// nextBatch pulls up to blockSize rows from the left side.
func (b *boundJoinStream) nextBatch(ctx context.Context) ([]rdf.BindingSet, error) {
	var batch []rdf.BindingSet
	for len(batch) < b.blockSize {
		row, err := b.left.Next(ctx)
		if err != nil {
			return nil, err
		}
		if row == nil {
			b.done = true
			break
		}
		batch = append(batch, row)
	}
	return batch, nil
}

// evalBatch fans one batch out to every source of the right-hand pattern
// and merges the returned rows with their originating left tuples.
func (b *boundJoinStream) evalBatch(ctx context.Context, batch []rdf.BindingSet) ([]rdf.BindingSet, error) {
	var (
		mu     sync.Mutex
		merged []rdf.BindingSet
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range b.sources {
		src := src
		g.Go(func() error {
			rows, err := b.evalBatchOnSource(gctx, src, batch)
			if err != nil {
				return err
			}
			mu.Lock()
			merged = append(merged, rows...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merged, nil
}

func (b *boundJoinStream) evalBatchOnSource(ctx context.Context, src algebra.StatementSource, batch []rdf.BindingSet) ([]rdf.BindingSet, error) {
	stream, err := b.ev.openBoundJoin(ctx, src, b.pattern, b.filters, batch)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var out []rdf.BindingSet
	for {
		row, err := stream.Next(ctx)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return out, nil
		}

		idxTerm, ok := row[sparql.IndexVar]
		if !ok {
			return nil, errors.NewEvaluation(src.EndpointID, "bound join row lost its index variable", nil)
		}
		idx, err := strconv.Atoi(idxTerm.Value)
		if err != nil || idx < 0 || idx >= len(batch) {
			return nil, errors.NewEvaluation(src.EndpointID, "bound join row carries an invalid index", err)
		}

		if m, ok := batch[idx].Merge(stripIndex(row)); ok {
			out = append(out, m)
		}
	}
}

// stripIndex removes the hidden index variable from a result row.
func stripIndex(row rdf.BindingSet) rdf.BindingSet {
	out := row.Copy()
	delete(out, sparql.IndexVar)
	return out
}

func (b *boundJoinStream) Close() error {
	return b.left.Close()
}
