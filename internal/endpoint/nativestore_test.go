package endpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/canonica-labs/fedra/internal/rdf"
	"github.com/canonica-labs/fedra/internal/sparql"
)

func openTestStore(t *testing.T) *NativeStore {
	t.Helper()
	ns, err := OpenNativeStore(context.Background(), "local", filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { ns.Close() })
	return ns
}

func seedStore(t *testing.T, ns *NativeStore) {
	t.Helper()
	ctx := context.Background()
	stmts := []rdf.Statement{
		{Subject: rdf.NewIRI("http://ex/alice"), Predicate: rdf.NewIRI("http://ex/knows"), Object: rdf.NewIRI("http://ex/bob")},
		{Subject: rdf.NewIRI("http://ex/alice"), Predicate: rdf.NewIRI("http://ex/name"), Object: rdf.NewLangLiteral("Alice", "en")},
		{Subject: rdf.NewIRI("http://ex/bob"), Predicate: rdf.NewIRI("http://ex/name"), Object: rdf.NewLiteral("Bob")},
		{Subject: rdf.NewIRI("http://ex/bob"), Predicate: rdf.NewIRI("http://ex/age"), Object: rdf.NewTypedLiteral("42", rdf.XSDInteger)},
	}
	for _, st := range stmts {
		if err := ns.Add(ctx, st); err != nil {
			t.Fatalf("adding %v: %v", st, err)
		}
	}
}

func TestNativeStore_RoundTrip(t *testing.T) {
	ns := openTestStore(t)
	seedStore(t, ns)
	ctx := context.Background()

	stream, err := ns.GetStatements(ctx, rdf.NewIRI("http://ex/alice"), rdf.NewVariable("p"), rdf.NewVariable("o"))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	defer stream.Close()

	count := 0
	for {
		st, err := stream.Next(ctx)
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		if st == nil {
			break
		}
		count++
		if st.Subject != rdf.NewIRI("http://ex/alice") {
			t.Errorf("wrong subject: %v", st.Subject)
		}
	}
	if count != 2 {
		t.Errorf("got %d statements, want 2", count)
	}
}

func TestNativeStore_TermDecoding(t *testing.T) {
	ns := openTestStore(t)
	seedStore(t, ns)
	ctx := context.Background()

	stream, err := ns.GetStatements(ctx, rdf.NewVariable("s"), rdf.NewIRI("http://ex/name"), rdf.NewVariable("o"))
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	objects := make(map[rdf.Term]bool)
	for {
		st, err := stream.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if st == nil {
			break
		}
		objects[st.Object] = true
	}
	if !objects[rdf.NewLangLiteral("Alice", "en")] {
		t.Error("language-tagged literal lost in round trip")
	}
	if !objects[rdf.NewLiteral("Bob")] {
		t.Error("plain literal lost in round trip")
	}
}

func TestNativeStore_Ask(t *testing.T) {
	ns := openTestStore(t)
	seedStore(t, ns)
	ctx := context.Background()

	p := rdf.TriplePattern{
		Subject:   rdf.NewVariable("s"),
		Predicate: rdf.NewIRI("http://ex/knows"),
		Object:    rdf.NewVariable("o"),
	}
	ok, err := ns.Ask(ctx, p, nil)
	if err != nil || !ok {
		t.Errorf("expected positive probe, got %v %v", ok, err)
	}

	missing := rdf.TriplePattern{
		Subject:   rdf.NewVariable("s"),
		Predicate: rdf.NewIRI("http://ex/unknown"),
		Object:    rdf.NewVariable("o"),
	}
	ok, err = ns.Ask(ctx, missing, nil)
	if err != nil || ok {
		t.Errorf("expected negative probe, got %v %v", ok, err)
	}
}

func TestNativeStore_EvaluateConjunction(t *testing.T) {
	ns := openTestStore(t)
	seedStore(t, ns)
	ctx := context.Background()

	q := &PreparedQuery{
		Patterns: []rdf.TriplePattern{
			{Subject: rdf.NewVariable("a"), Predicate: rdf.NewIRI("http://ex/knows"), Object: rdf.NewVariable("b")},
			{Subject: rdf.NewVariable("b"), Predicate: rdf.NewIRI("http://ex/name"), Object: rdf.NewVariable("n")},
		},
	}
	stream, err := ns.Evaluate(ctx, q, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	rows := collectRows(t, stream)
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0]["n"] != rdf.NewLiteral("Bob") {
		t.Errorf("join produced %v", rows[0])
	}
}

func TestNativeStore_EvaluateBatch(t *testing.T) {
	ns := openTestStore(t)
	seedStore(t, ns)
	ctx := context.Background()

	q := &PreparedQuery{
		Patterns: []rdf.TriplePattern{
			{Subject: rdf.NewVariable("p"), Predicate: rdf.NewIRI("http://ex/name"), Object: rdf.NewVariable("n")},
		},
		Batch: []rdf.BindingSet{
			{"p": rdf.NewIRI("http://ex/alice")},
			{"p": rdf.NewIRI("http://ex/bob")},
		},
	}
	stream, err := ns.Evaluate(ctx, q, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	rows := collectRows(t, stream)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	for _, row := range rows {
		if !row.Has(sparql.IndexVar) {
			t.Errorf("batch row missing index variable: %v", row)
		}
	}
}

func collectRows(t *testing.T, s BindingStream) []rdf.BindingSet {
	t.Helper()
	var rows []rdf.BindingSet
	for {
		row, err := s.Next(context.Background())
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		if row == nil {
			return rows
		}
		rows = append(rows, row)
	}
}
