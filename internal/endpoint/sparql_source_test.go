package endpoint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/canonica-labs/fedra/internal/rdf"
)

const selectResultsDoc = `{
	"head": {"vars": ["c"]},
	"results": {"bindings": [
		{"c": {"type": "uri", "value": "http://ex/conf1"}},
		{"c": {"type": "literal", "value": "Berlin", "xml:lang": "de"}},
		{"c": {"type": "literal", "value": "42", "datatype": "http://www.w3.org/2001/XMLSchema#integer"}}
	]}
}`

func newTestSource(t *testing.T, handler http.HandlerFunc, cfg SparqlSourceConfig) *SparqlSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSparqlSource("test-ep", srv.URL, srv.Client(), cfg)
}

func TestSparqlSource_Evaluate(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("bad form: %v", err)
		}
		if !strings.Contains(r.FormValue("query"), "SELECT") {
			t.Errorf("unexpected query: %s", r.FormValue("query"))
		}
		w.Header().Set("Content-Type", sparqlResultsJSON)
		w.Write([]byte(selectResultsDoc))
	}, SparqlSourceConfig{SupportsAsk: true})

	stream, err := src.Evaluate(context.Background(), &PreparedQuery{Text: "SELECT ?c WHERE { ?c ?p ?o }"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	rows := collectRows(t, stream)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[0]["c"] != rdf.NewIRI("http://ex/conf1") {
		t.Errorf("row 0 = %v", rows[0])
	}
	if rows[1]["c"] != rdf.NewLangLiteral("Berlin", "de") {
		t.Errorf("row 1 = %v", rows[1])
	}
	if rows[2]["c"] != rdf.NewTypedLiteral("42", rdf.XSDInteger) {
		t.Errorf("row 2 = %v", rows[2])
	}
}

func TestSparqlSource_Ask(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if !strings.HasPrefix(r.FormValue("query"), "ASK") {
			t.Errorf("expected ASK probe, got %s", r.FormValue("query"))
		}
		w.Header().Set("Content-Type", sparqlResultsJSON)
		w.Write([]byte(`{"head": {}, "boolean": true}`))
	}, SparqlSourceConfig{SupportsAsk: true})

	p := rdf.TriplePattern{
		Subject:   rdf.NewVariable("s"),
		Predicate: rdf.NewIRI("http://ex/p"),
		Object:    rdf.NewVariable("o"),
	}
	ok, err := src.Ask(context.Background(), p, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected positive ASK")
	}
}

func TestSparqlSource_AskFallback(t *testing.T) {
	var sawSelect atomic.Bool
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		q := r.FormValue("query")
		if strings.HasPrefix(q, "ASK") {
			t.Errorf("endpoint without ASK support received an ASK query")
		}
		if strings.Contains(q, "LIMIT 1") {
			sawSelect.Store(true)
		}
		w.Header().Set("Content-Type", sparqlResultsJSON)
		w.Write([]byte(`{"head": {"vars": ["s"]}, "results": {"bindings": [{"s": {"type": "uri", "value": "http://x"}}]}}`))
	}, SparqlSourceConfig{SupportsAsk: false})

	p := rdf.TriplePattern{
		Subject:   rdf.NewVariable("s"),
		Predicate: rdf.NewIRI("http://ex/p"),
		Object:    rdf.NewVariable("o"),
	}
	ok, err := src.Ask(context.Background(), p, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected positive fallback probe")
	}
	if !sawSelect.Load() {
		t.Error("fallback must probe via SELECT ... LIMIT 1")
	}
}

func TestSparqlSource_RepairOnce(t *testing.T) {
	var calls atomic.Int32
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "transient", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", sparqlResultsJSON)
		w.Write([]byte(selectResultsDoc))
	}, SparqlSourceConfig{SupportsAsk: true})

	stream, err := src.Evaluate(context.Background(), &PreparedQuery{Text: "SELECT * WHERE { ?s ?p ?o }"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	rows := collectRows(t, stream)
	if len(rows) != 3 {
		t.Fatalf("repair did not recover: %d rows", len(rows))
	}
	if calls.Load() != 2 {
		t.Errorf("expected exactly one repair attempt, saw %d calls", calls.Load())
	}
}

func TestSparqlSource_RepairFailsSurfacesEndpoint(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}, SparqlSourceConfig{SupportsAsk: true})

	stream, err := src.Evaluate(context.Background(), &PreparedQuery{Text: "SELECT * WHERE { ?s ?p ?o }"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	_, err = stream.Next(context.Background())
	if err == nil {
		t.Fatal("expected an evaluation error")
	}
	if !strings.Contains(err.Error(), "test-ep") {
		t.Errorf("error must carry the endpoint id: %v", err)
	}
}
