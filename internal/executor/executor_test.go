package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/canonica-labs/fedra/internal/algebra"
	"github.com/canonica-labs/fedra/internal/config"
	"github.com/canonica-labs/fedra/internal/endpoint"
	"github.com/canonica-labs/fedra/internal/errors"
	"github.com/canonica-labs/fedra/internal/rdf"
	"github.com/canonica-labs/fedra/internal/scheduler"
	"github.com/canonica-labs/fedra/internal/sparql"
)

// memSource is an in-memory triple source counting evaluation requests.
type memSource struct {
	statements []rdf.Statement
	requests   atomic.Int32
	evalErr    error
}

func (m *memSource) Evaluate(ctx context.Context, q *endpoint.PreparedQuery, bindings rdf.BindingSet) (endpoint.BindingStream, error) {
	m.requests.Add(1)
	if m.evalErr != nil {
		return nil, m.evalErr
	}

	var out []rdf.BindingSet
	if len(q.Batch) == 0 {
		out = m.evalConjunction(q, bindings)
	} else {
		for i, left := range q.Batch {
			seed, ok := rdf.EmptyBindingSet().Merge(left)
			if !ok {
				continue
			}
			idx := rdf.NewLiteral(strconv.Itoa(i))
			for _, row := range m.evalConjunction(q, seed) {
				out = append(out, row.With(sparql.IndexVar, idx))
			}
		}
	}
	return endpoint.NewSliceBindingStream(out), nil
}

func (m *memSource) evalConjunction(q *endpoint.PreparedQuery, seed rdf.BindingSet) []rdf.BindingSet {
	if seed == nil {
		seed = rdf.EmptyBindingSet()
	}
	rows := []rdf.BindingSet{seed}
	for _, p := range q.Patterns {
		var next []rdf.BindingSet
		for _, b := range rows {
			applied := p.Apply(b)
			for _, st := range m.statements {
				if ext, ok := matchStatement(applied, st, b); ok {
					next = append(next, ext)
				}
			}
		}
		rows = next
	}
	var out []rdf.BindingSet
	for _, b := range rows {
		keep := true
		for _, f := range q.Filters {
			ok, err := algebra.Eval(f, b)
			if err != nil || !ok {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, b.Project(varsOf(q.Patterns)))
		}
	}
	return out
}

func matchStatement(p rdf.TriplePattern, st rdf.Statement, base rdf.BindingSet) (rdf.BindingSet, bool) {
	out := base
	for _, slot := range []struct{ p, v rdf.Term }{
		{p.Subject, st.Subject}, {p.Predicate, st.Predicate}, {p.Object, st.Object},
	} {
		if !slot.p.IsVariable() {
			if slot.p != slot.v {
				return nil, false
			}
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

func varsOf(patterns []rdf.TriplePattern) []string {
	var vars []string
	seen := map[string]bool{}
	for _, p := range patterns {
		for _, v := range p.Vars() {
			if !seen[v] {
				seen[v] = true
				vars = append(vars, v)
			}
		}
	}
	return vars
}

func (m *memSource) Ask(ctx context.Context, p rdf.TriplePattern, b rdf.BindingSet) (bool, error) {
	return false, fmt.Errorf("not used")
}

func (m *memSource) GetStatements(ctx context.Context, s, p, o rdf.Term) (endpoint.StatementStream, error) {
	return nil, fmt.Errorf("not used")
}

func (m *memSource) UsesPreparedQuery() bool  { return false }
func (m *memSource) Kind() algebra.SourceKind { return algebra.SourceRemote }
func (m *memSource) Close() error             { return nil }

type testQuery struct {
	id      uint64
	aborted atomic.Bool
}

func (q *testQuery) ID() uint64    { return q.id }
func (q *testQuery) Aborted() bool { return q.aborted.Load() }
func (q *testQuery) Abort()        { q.aborted.Store(true) }

type evalEnv struct {
	registry *endpoint.Registry
	ev       *Evaluator
	sources  map[string]*memSource
}

func newEvalEnv(t *testing.T, blockSize int, data map[string][]rdf.Statement) *evalEnv {
	t.Helper()
	joins := scheduler.New("joins", 4)
	unions := scheduler.New("unions", 4)
	t.Cleanup(joins.Shutdown)
	t.Cleanup(unions.Shutdown)

	env := &evalEnv{registry: endpoint.NewRegistry(), sources: map[string]*memSource{}}
	for id, stmts := range data {
		src := &memSource{statements: stmts}
		env.sources[id] = src
		e := endpoint.NewWithSource(id, id, config.MemberSparqlEndpoint, src)
		if err := e.Initialize(context.Background()); err != nil {
			t.Fatal(err)
		}
		if err := env.registry.Register(e); err != nil {
			t.Fatal(err)
		}
	}
	env.ev = New(env.registry, joins, unions, nil, blockSize)
	return env
}

func iri(s string) rdf.Term { return rdf.NewIRI("http://ex/" + s) }

func st(s, p, o string) rdf.Statement {
	return rdf.Statement{Subject: iri(s), Predicate: iri(p), Object: iri(o)}
}

func vpattern(s, p, o string) rdf.TriplePattern {
	term := func(x string) rdf.Term {
		if len(x) > 0 && x[0] == '?' {
			return rdf.NewVariable(x[1:])
		}
		return iri(x)
	}
	return rdf.TriplePattern{Subject: term(s), Predicate: term(p), Object: term(o)}
}

func drain(t *testing.T, s endpoint.BindingStream) []rdf.BindingSet {
	t.Helper()
	defer s.Close()
	var rows []rdf.BindingSet
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		row, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		if row == nil {
			return rows
		}
		rows = append(rows, row)
	}
}

func TestEvaluate_ExclusiveStatement(t *testing.T) {
	env := newEvalEnv(t, 0, map[string][]rdf.Statement{
		"e1": {st("a", "p", "b"), st("c", "p", "d")},
	})
	plan := &algebra.ExclusiveStatement{
		Pattern: vpattern("?s", "p", "?o"),
		Source:  algebra.StatementSource{EndpointID: "e1"},
	}

	rows := drain(t, mustEvaluate(t, env, &testQuery{id: 1}, plan))
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
}

func TestEvaluate_SourcePatternUnion(t *testing.T) {
	env := newEvalEnv(t, 0, map[string][]rdf.Statement{
		"dbpedia": {st("conf1", "type", "Conference"), st("conf2", "type", "Conference")},
		"swdf":    {st("conf3", "type", "Conference")},
	})
	plan := &algebra.StatementSourcePattern{
		Pattern: vpattern("?c", "type", "Conference"),
		Sources: []algebra.StatementSource{{EndpointID: "dbpedia"}, {EndpointID: "swdf"}},
	}

	rows := drain(t, mustEvaluate(t, env, &testQuery{id: 1}, plan))
	if len(rows) != 3 {
		t.Fatalf("union row count = %d, want sum of per-source counts 3", len(rows))
	}
}

func TestEvaluate_EmptyPatternNoIO(t *testing.T) {
	env := newEvalEnv(t, 0, map[string][]rdf.Statement{
		"e1": {st("a", "p", "b")},
	})
	plan := &algebra.NJoin{Children: []algebra.Node{
		&algebra.EmptyPattern{Pattern: vpattern("?s", "q", "?o")},
		&algebra.ExclusiveStatement{
			Pattern: vpattern("?s", "p", "?o"),
			Source:  algebra.StatementSource{EndpointID: "e1"},
		},
	}}

	rows := drain(t, mustEvaluate(t, env, &testQuery{id: 1}, plan))
	if len(rows) != 0 {
		t.Fatalf("empty conjunct must produce zero rows, got %d", len(rows))
	}
}

func TestEvaluate_HashJoin(t *testing.T) {
	env := newEvalEnv(t, 0, map[string][]rdf.Statement{
		"e1": {st("conf1", "near", "berlin"), st("conf2", "near", "paris")},
		"e2": {st("berlin", "country", "germany"), st("paris", "country", "france")},
	})
	plan := &algebra.NJoin{Children: []algebra.Node{
		&algebra.ExclusiveStatement{
			Pattern: vpattern("?c", "near", "?loc"),
			Source:  algebra.StatementSource{EndpointID: "e1"},
		},
		&algebra.ExclusiveStatement{
			Pattern: vpattern("?loc", "country", "?cty"),
			Source:  algebra.StatementSource{EndpointID: "e2"},
		},
	}}

	rows := drain(t, mustEvaluate(t, env, &testQuery{id: 1}, plan))
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	for _, row := range rows {
		if row["loc"] == iri("berlin") && row["cty"] != iri("germany") {
			t.Errorf("join mismatch: %v", row)
		}
	}
}

func TestEvaluate_BoundJoinBatching(t *testing.T) {
	var left []rdf.Statement
	var right []rdf.Statement
	for i := 0; i < 5; i++ {
		left = append(left, st(fmt.Sprintf("c%d", i), "near", fmt.Sprintf("l%d", i)))
		right = append(right, st(fmt.Sprintf("l%d", i), "country", "germany"))
	}
	env := newEvalEnv(t, 2, map[string][]rdf.Statement{
		"e1": left,
		"e2": right,
	})
	plan := &algebra.BoundJoin{
		Left: &algebra.ExclusiveStatement{
			Pattern: vpattern("?c", "near", "?loc"),
			Source:  algebra.StatementSource{EndpointID: "e1"},
		},
		Right: &algebra.StatementSourcePattern{
			Pattern: vpattern("?loc", "country", "?cty"),
			Sources: []algebra.StatementSource{{EndpointID: "e2"}},
		},
	}

	rows := drain(t, mustEvaluate(t, env, &testQuery{id: 1}, plan))
	if len(rows) != 5 {
		t.Fatalf("got %d rows, want 5", len(rows))
	}
	// 5 left rows with block size 2: 3 batches
	if got := env.sources["e2"].requests.Load(); got != 3 {
		t.Errorf("right side saw %d requests, want 3", got)
	}
	for _, row := range rows {
		if row.Has(sparql.IndexVar) {
			t.Errorf("hidden index variable leaked: %v", row)
		}
		if !row.Has("c") || !row.Has("cty") {
			t.Errorf("merged row incomplete: %v", row)
		}
	}
}

func TestEvaluate_BoundJoinEmptyLeft(t *testing.T) {
	env := newEvalEnv(t, 4, map[string][]rdf.Statement{
		"e1": {},
		"e2": {st("l0", "country", "germany")},
	})
	plan := &algebra.BoundJoin{
		Left: &algebra.ExclusiveStatement{
			Pattern: vpattern("?c", "near", "?loc"),
			Source:  algebra.StatementSource{EndpointID: "e1"},
		},
		Right: &algebra.StatementSourcePattern{
			Pattern: vpattern("?loc", "country", "?cty"),
			Sources: []algebra.StatementSource{{EndpointID: "e2"}},
		},
	}

	rows := drain(t, mustEvaluate(t, env, &testQuery{id: 1}, plan))
	if len(rows) != 0 {
		t.Fatalf("empty left must produce zero rows, got %d", len(rows))
	}
	if got := env.sources["e2"].requests.Load(); got != 0 {
		t.Errorf("empty left must issue no remote requests, saw %d", got)
	}
}

func TestEvaluate_BoundJoinSingleBatch(t *testing.T) {
	env := newEvalEnv(t, 50, map[string][]rdf.Statement{
		"e1": {st("c0", "near", "l0"), st("c1", "near", "l1")},
		"e2": {st("l0", "country", "germany"), st("l1", "country", "france")},
	})
	plan := &algebra.BoundJoin{
		Left: &algebra.ExclusiveStatement{
			Pattern: vpattern("?c", "near", "?loc"),
			Source:  algebra.StatementSource{EndpointID: "e1"},
		},
		Right: &algebra.StatementSourcePattern{
			Pattern: vpattern("?loc", "country", "?cty"),
			Sources: []algebra.StatementSource{{EndpointID: "e2"}},
		},
	}

	rows := drain(t, mustEvaluate(t, env, &testQuery{id: 1}, plan))
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if got := env.sources["e2"].requests.Load(); got != 1 {
		t.Errorf("batch size above left cardinality must degrade to one call, saw %d", got)
	}
}

func TestEvaluate_LeftJoinOptional(t *testing.T) {
	env := newEvalEnv(t, 0, map[string][]rdf.Statement{
		"e1": {st("a", "p", "x"), st("b", "p", "y")},
		"e2": {st("x", "label", "labelX")},
	})
	plan := &algebra.LeftJoin{
		Left: &algebra.ExclusiveStatement{
			Pattern: vpattern("?s", "p", "?o"),
			Source:  algebra.StatementSource{EndpointID: "e1"},
		},
		Right: &algebra.ExclusiveStatement{
			Pattern: vpattern("?o", "label", "?l"),
			Source:  algebra.StatementSource{EndpointID: "e2"},
		},
	}

	rows := drain(t, mustEvaluate(t, env, &testQuery{id: 1}, plan))
	if len(rows) != 2 {
		t.Fatalf("optional must keep unmatched left rows: got %d rows", len(rows))
	}
	matched := 0
	for _, row := range rows {
		if row.Has("l") {
			matched++
		}
	}
	if matched != 1 {
		t.Errorf("expected exactly one matched row, got %d", matched)
	}
}

func TestEvaluate_FilterAndProjection(t *testing.T) {
	env := newEvalEnv(t, 0, map[string][]rdf.Statement{
		"e1": {st("a", "p", "x"), st("b", "p", "y")},
	})
	plan := &algebra.Projection{
		Selected: []string{"s"},
		Child: &algebra.Filter{
			Condition: &algebra.Compare{
				Op:    algebra.OpEq,
				Left:  &algebra.TermExpr{Term: rdf.NewVariable("o")},
				Right: &algebra.TermExpr{Term: iri("x")},
			},
			Child: &algebra.ExclusiveStatement{
				Pattern: vpattern("?s", "p", "?o"),
				Source:  algebra.StatementSource{EndpointID: "e1"},
			},
		},
	}

	rows := drain(t, mustEvaluate(t, env, &testQuery{id: 1}, plan))
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Has("o") {
		t.Error("projection must drop ?o")
	}
	if rows[0]["s"] != iri("a") {
		t.Errorf("unexpected row %v", rows[0])
	}
}

func TestEvaluate_UnionArmErrorCancelsQuery(t *testing.T) {
	env := newEvalEnv(t, 0, map[string][]rdf.Statement{
		"good": {st("a", "p", "b")},
		"bad":  {},
	})
	env.sources["bad"].evalErr = fmt.Errorf("endpoint exploded")

	q := &testQuery{id: 7}
	plan := &algebra.StatementSourcePattern{
		Pattern: vpattern("?s", "p", "?o"),
		Sources: []algebra.StatementSource{{EndpointID: "good"}, {EndpointID: "bad"}},
	}
	stream := mustEvaluate(t, env, q, plan)
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var err error
	for err == nil {
		var row rdf.BindingSet
		row, err = stream.Next(ctx)
		if row == nil && err == nil {
			t.Fatal("stream ended without surfacing the arm error")
		}
	}
	if !q.Aborted() {
		t.Error("arm failure must abort the query")
	}
	var ee *errors.ErrEvaluation
	if !stderrors.As(err, &ee) {
		t.Errorf("expected evaluation error, got %v", err)
	}
}

func TestEvaluate_AbortStopsStream(t *testing.T) {
	env := newEvalEnv(t, 0, map[string][]rdf.Statement{
		"e1": {st("a", "p", "b"), st("c", "p", "d")},
	})
	q := &testQuery{id: 9}
	plan := &algebra.ExclusiveStatement{
		Pattern: vpattern("?s", "p", "?o"),
		Source:  algebra.StatementSource{EndpointID: "e1"},
	}
	stream := mustEvaluate(t, env, q, plan)
	defer stream.Close()

	ctx := context.Background()
	if _, err := stream.Next(ctx); err != nil {
		t.Fatal(err)
	}
	q.Abort()
	_, err := stream.Next(ctx)
	if err == nil {
		t.Fatal("pull after abort must fail")
	}
	if !errors.IsCancelled(err) {
		t.Errorf("expected cancellation, got %v", err)
	}
}

func TestDistinctAndLimitStreams(t *testing.T) {
	rows := []rdf.BindingSet{
		{"x": iri("a")},
		{"x": iri("a")},
		{"x": iri("b")},
		{"x": iri("c")},
	}
	distinct := NewDistinctStream(endpoint.NewSliceBindingStream(rows))
	out := drain(t, distinct)
	if len(out) != 3 {
		t.Errorf("distinct kept %d rows, want 3", len(out))
	}

	limited := NewLimitStream(endpoint.NewSliceBindingStream(rows), 2)
	out = drain(t, limited)
	if len(out) != 2 {
		t.Errorf("limit kept %d rows, want 2", len(out))
	}
}

func mustEvaluate(t *testing.T, env *evalEnv, q QueryInfo, plan algebra.Node) endpoint.BindingStream {
	t.Helper()
	stream, err := env.ev.Evaluate(context.Background(), q, plan)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	return stream
}
