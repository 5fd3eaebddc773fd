// Package endpoint provides federation members: their identity and
// lifecycle, the registry, and the per-member triple sources used by the
// execution engine.
package endpoint

import (
	"context"
	"sync"

	"github.com/canonica-labs/fedra/internal/algebra"
	"github.com/canonica-labs/fedra/internal/rdf"
)

// PreparedQuery is a sub-query ready for evaluation on one member. Remote
// sources ship Text over the wire; local sources evaluate the algebra
// form (Patterns, Filters, Batch) directly.
type PreparedQuery struct {
	// Text is the rendered SPARQL for sources accepting query text.
	Text string

	// Patterns is the algebra form for sources evaluating in-process.
	Patterns []rdf.TriplePattern

	// Filters are constraints pushed into the sub-query.
	Filters []algebra.Expr

	// Batch carries bound-join left tuples. For remote sources the VALUES
	// clause is already part of Text; local sources iterate the batch.
	Batch []rdf.BindingSet
}

// BindingStream is a closable stream of solution rows. Next returns a nil
// binding set when the stream is exhausted. Close is idempotent and
// releases the underlying connection.
type BindingStream interface {
	Next(ctx context.Context) (rdf.BindingSet, error)
	Close() error
}

// StatementStream is a closable stream of statements; nil means exhausted.
type StatementStream interface {
	Next(ctx context.Context) (*rdf.Statement, error)
	Close() error
}

// TripleSource is the per-member evaluation façade.
type TripleSource interface {
	// Evaluate runs a SELECT sub-query, streaming solution rows.
	Evaluate(ctx context.Context, q *PreparedQuery, bindings rdf.BindingSet) (BindingStream, error)

	// Ask probes whether the pattern has at least one answer.
	Ask(ctx context.Context, pattern rdf.TriplePattern, bindings rdf.BindingSet) (bool, error)

	// GetStatements looks up statements matching the given terms;
	// variable terms act as wildcards.
	GetStatements(ctx context.Context, subj, pred, obj rdf.Term) (StatementStream, error)

	// UsesPreparedQuery reports whether the source accepts SPARQL text
	// (remote members) rather than in-memory algebra (local stores).
	UsesPreparedQuery() bool

	// Kind reports whether answering requires wire I/O.
	Kind() algebra.SourceKind

	// Close releases the source's resources.
	Close() error
}

// sliceBindingStream streams a fixed slice of rows.
type sliceBindingStream struct {
	mu   sync.Mutex
	rows []rdf.BindingSet
	idx  int
}

// NewSliceBindingStream creates a stream over the given rows.
func NewSliceBindingStream(rows []rdf.BindingSet) BindingStream {
	return &sliceBindingStream{rows: rows}
}

func (s *sliceBindingStream) Next(ctx context.Context) (rdf.BindingSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if s.idx >= len(s.rows) {
		return nil, nil
	}
	row := s.rows[s.idx]
	s.idx++
	return row, nil
}

func (s *sliceBindingStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = nil
	s.idx = 0
	return nil
}

// EmptyBindingStream returns a stream with no rows.
func EmptyBindingStream() BindingStream {
	return NewSliceBindingStream(nil)
}

// ConsumingBuffer drains a producer eagerly into a bounded queue so the
// producer's connection is freed even when the consumer is slow. The
// producer goroutine owns the connection; it is released exactly once,
// either when the producer finishes or when the stream is closed.
type ConsumingBuffer struct {
	ch     chan rdf.BindingSet
	done   chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool

	releaseOnce sync.Once
	release     func()
}

// DefaultBufferCapacity bounds the consuming buffer's queue.
const DefaultBufferCapacity = 512

// NewConsumingBuffer starts a producer goroutine running fill. The emit
// callback enqueues one row and reports a closed buffer via its error.
// release frees the underlying connection and runs exactly once.
func NewConsumingBuffer(ctx context.Context, capacity int,
	fill func(ctx context.Context, emit func(rdf.BindingSet) error) error,
	release func()) *ConsumingBuffer {

	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	ctx, cancel := context.WithCancel(ctx)
	b := &ConsumingBuffer{
		ch:      make(chan rdf.BindingSet, capacity),
		done:    make(chan struct{}),
		cancel:  cancel,
		release: release,
	}

	go func() {
		defer close(b.done)
		defer close(b.ch)
		defer b.doRelease()

		err := fill(ctx, func(row rdf.BindingSet) error {
			select {
			case b.ch <- row:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && ctx.Err() == nil {
			b.mu.Lock()
			b.err = err
			b.mu.Unlock()
		}
	}()
	return b
}

func (b *ConsumingBuffer) doRelease() {
	b.releaseOnce.Do(func() {
		if b.release != nil {
			b.release()
		}
	})
}

// Next implements BindingStream.
func (b *ConsumingBuffer) Next(ctx context.Context) (rdf.BindingSet, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case row, ok := <-b.ch:
		if ok {
			return row, nil
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		return nil, b.err
	}
}

// Close implements BindingStream. It stops the producer and releases the
// connection; safe to call more than once.
func (b *ConsumingBuffer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	// drain so the producer unblocks promptly
	go func() {
		for range b.ch {
		}
	}()
	<-b.done
	b.doRelease()
	return nil
}
