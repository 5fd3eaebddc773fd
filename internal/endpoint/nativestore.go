package endpoint

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/canonica-labs/fedra/internal/algebra"
	"github.com/canonica-labs/fedra/internal/errors"
	"github.com/canonica-labs/fedra/internal/rdf"
	"github.com/canonica-labs/fedra/internal/sparql"
)

// NativeStore is a co-located triple store backed by SQLite. Terms are
// stored in their canonical surface form; answering never leaves the
// process.
type NativeStore struct {
	endpointID string
	db         *sql.DB
}

const nativeSchema = `
CREATE TABLE IF NOT EXISTS triples (
	subj TEXT NOT NULL,
	pred TEXT NOT NULL,
	obj  TEXT NOT NULL,
	UNIQUE (subj, pred, obj)
);
CREATE INDEX IF NOT EXISTS idx_triples_pred ON triples (pred);
CREATE INDEX IF NOT EXISTS idx_triples_obj  ON triples (obj);
`

// OpenNativeStore opens (creating if necessary) the store at path.
func OpenNativeStore(ctx context.Context, endpointID, path string) (*NativeStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.NewEvaluation(endpointID, "opening native store", err)
	}
	if _, err := db.ExecContext(ctx, nativeSchema); err != nil {
		db.Close()
		return nil, errors.NewEvaluation(endpointID, "initializing native store schema", err)
	}
	return &NativeStore{endpointID: endpointID, db: db}, nil
}

// UsesPreparedQuery implements TripleSource: local stores evaluate the
// algebra form, not SPARQL text.
func (ns *NativeStore) UsesPreparedQuery() bool { return false }

// Kind implements TripleSource.
func (ns *NativeStore) Kind() algebra.SourceKind { return algebra.SourceLocal }

// Close implements TripleSource.
func (ns *NativeStore) Close() error { return ns.db.Close() }

// Add inserts a statement. Duplicate statements are ignored.
func (ns *NativeStore) Add(ctx context.Context, st rdf.Statement) error {
	_, err := ns.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO triples (subj, pred, obj) VALUES (?, ?, ?)",
		st.Subject.String(), st.Predicate.String(), st.Object.String())
	if err != nil {
		return errors.NewEvaluation(ns.endpointID, "inserting statement", err)
	}
	return nil
}

// Ask implements TripleSource via an indexed existence check.
func (ns *NativeStore) Ask(ctx context.Context, pattern rdf.TriplePattern, bindings rdf.BindingSet) (bool, error) {
	applied := pattern.Apply(bindings)
	where, args := whereClause(applied.Subject, applied.Predicate, applied.Object)

	row := ns.db.QueryRowContext(ctx, "SELECT 1 FROM triples "+where+" LIMIT 1", args...)
	var one int
	switch err := row.Scan(&one); err {
	case nil:
		return true, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, errors.NewEvaluation(ns.endpointID, "existence probe failed", err)
	}
}

// GetStatements implements TripleSource.
func (ns *NativeStore) GetStatements(ctx context.Context, subj, pred, obj rdf.Term) (StatementStream, error) {
	where, args := whereClause(subj, pred, obj)
	rows, err := ns.db.QueryContext(ctx, "SELECT subj, pred, obj FROM triples "+where, args...)
	if err != nil {
		return nil, errors.NewEvaluation(ns.endpointID, "statement lookup failed", err)
	}
	return &sqlStatementStream{endpointID: ns.endpointID, rows: rows}, nil
}

// Evaluate implements TripleSource with an in-process nested-loop
// evaluation of the pattern conjunction. Bound-join batches are iterated
// locally, tagging each result row with the hidden index variable.
func (ns *NativeStore) Evaluate(ctx context.Context, q *PreparedQuery, bindings rdf.BindingSet) (BindingStream, error) {
	buf := NewConsumingBuffer(ctx, 0, func(ctx context.Context, emit func(rdf.BindingSet) error) error {
		if len(q.Batch) == 0 {
			return ns.evalConjunction(ctx, q, bindings, emit)
		}
		for i, left := range q.Batch {
			seed, ok := bindings.Merge(left)
			if !ok {
				continue
			}
			idx := rdf.NewLiteral(strconv.Itoa(i))
			err := ns.evalConjunction(ctx, q, seed, func(row rdf.BindingSet) error {
				return emit(row.With(sparql.IndexVar, idx))
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, nil)
	return buf, nil
}

// evalConjunction extends the seed binding across all patterns, applying
// filters before emission.
func (ns *NativeStore) evalConjunction(ctx context.Context, q *PreparedQuery, seed rdf.BindingSet, emit func(rdf.BindingSet) error) error {
	if seed == nil {
		seed = rdf.EmptyBindingSet()
	}
	rows := []rdf.BindingSet{seed}

	for _, pattern := range q.Patterns {
		var next []rdf.BindingSet
		for _, b := range rows {
			applied := pattern.Apply(b)
			stream, err := ns.GetStatements(ctx, applied.Subject, applied.Predicate, applied.Object)
			if err != nil {
				return err
			}
			for {
				st, err := stream.Next(ctx)
				if err != nil {
					stream.Close()
					return err
				}
				if st == nil {
					break
				}
				if extended, ok := bindPattern(applied, *st, b); ok {
					next = append(next, extended)
				}
			}
			stream.Close()
		}
		rows = next
		if len(rows) == 0 {
			return nil
		}
	}

	for _, b := range rows {
		keep := true
		for _, f := range q.Filters {
			ok, err := algebra.Eval(f, b)
			if err != nil || !ok {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}
		if err := emit(b); err != nil {
			return err
		}
	}
	return nil
}

// bindPattern unifies a matched statement with the pattern's variables.
func bindPattern(pattern rdf.TriplePattern, st rdf.Statement, base rdf.BindingSet) (rdf.BindingSet, bool) {
	out := base
	slots := []struct {
		p rdf.Term
		v rdf.Term
	}{
		{pattern.Subject, st.Subject},
		{pattern.Predicate, st.Predicate},
		{pattern.Object, st.Object},
	}
	for _, slot := range slots {
		if !slot.p.IsVariable() {
			continue
		}
		if bound, ok := out[slot.p.Value]; ok {
			if bound != slot.v {
				return nil, false
			}
			continue
		}
		out = out.With(slot.p.Value, slot.v)
	}
	return out, true
}

func whereClause(subj, pred, obj rdf.Term) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(col string, t rdf.Term) {
		if t.IsBound() && t != (rdf.Term{}) {
			conds = append(conds, col+" = ?")
			args = append(args, t.String())
		}
	}
	add("subj", subj)
	add("pred", pred)
	add("obj", obj)
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// sqlStatementStream adapts sql.Rows to a StatementStream.
type sqlStatementStream struct {
	endpointID string
	rows       *sql.Rows
}

func (s *sqlStatementStream) Next(ctx context.Context) (*rdf.Statement, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, errors.NewEvaluation(s.endpointID, "reading statements", err)
		}
		return nil, nil
	}
	var subj, pred, obj string
	if err := s.rows.Scan(&subj, &pred, &obj); err != nil {
		return nil, errors.NewEvaluation(s.endpointID, "scanning statement", err)
	}
	st := rdf.Statement{}
	var err error
	if st.Subject, err = rdf.ParseTerm(subj); err != nil {
		return nil, errors.NewEvaluation(s.endpointID, "decoding subject", err)
	}
	if st.Predicate, err = rdf.ParseTerm(pred); err != nil {
		return nil, errors.NewEvaluation(s.endpointID, "decoding predicate", err)
	}
	if st.Object, err = rdf.ParseTerm(obj); err != nil {
		return nil, errors.NewEvaluation(s.endpointID, "decoding object", err)
	}
	return &st, nil
}

func (s *sqlStatementStream) Close() error {
	return s.rows.Close()
}
