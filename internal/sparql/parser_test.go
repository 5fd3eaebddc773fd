package sparql

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/canonica-labs/fedra/internal/algebra"
	"github.com/canonica-labs/fedra/internal/errors"
	"github.com/canonica-labs/fedra/internal/rdf"
)

const rdfType = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"

func TestParse_SimpleSelect(t *testing.T) {
	q, err := NewParser().Parse(`
		PREFIX swc: <http://data.semanticweb.org/ns/swc/ontology#>
		SELECT ?c WHERE { ?c a swc:ConferenceEvent }`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(q.SelectVars) != 1 || q.SelectVars[0] != "c" {
		t.Errorf("unexpected projection: %v", q.SelectVars)
	}
	pats := q.Where.TriplePatterns()
	if len(pats) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(pats))
	}
	p := pats[0]
	if p.Predicate != rdf.NewIRI(rdfType) {
		t.Errorf("'a' must expand to rdf:type, got %v", p.Predicate)
	}
	if p.Object != rdf.NewIRI("http://data.semanticweb.org/ns/swc/ontology#ConferenceEvent") {
		t.Errorf("prefixed name not expanded: %v", p.Object)
	}
}

func TestParse_PredicateObjectLists(t *testing.T) {
	q, err := NewParser().Parse(`
		PREFIX foaf: <http://xmlns.com/foaf/0.1/>
		SELECT * WHERE {
			?p foaf:name ?n ;
			   foaf:knows ?q , ?r .
		}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pats := q.Where.TriplePatterns()
	if len(pats) != 3 {
		t.Fatalf("expected 3 patterns, got %d", len(pats))
	}
	for _, p := range pats[1:] {
		if p.Subject != rdf.NewVariable("p") {
			t.Errorf("';' must reuse the subject, got %v", p.Subject)
		}
	}
	if pats[2].Predicate != pats[1].Predicate {
		t.Error("',' must reuse the predicate")
	}
}

func TestParse_FilterUnionOptionalLimit(t *testing.T) {
	q, err := NewParser().Parse(`
		PREFIX dbo: <http://dbpedia.org/ontology/>
		SELECT ?x ?pop WHERE {
			{ ?x dbo:population ?pop } UNION { ?x dbo:populationTotal ?pop }
			OPTIONAL { ?x dbo:abstract ?ab }
			FILTER (?pop > 1000 && bound(?x))
		} LIMIT 10`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Limit != 10 {
		t.Errorf("limit = %d, want 10", q.Limit)
	}

	var union *UnionElement
	var optional *OptionalElement
	var filter *FilterElement
	for _, el := range q.Where.Elements {
		switch e := el.(type) {
		case *UnionElement:
			union = e
		case *OptionalElement:
			optional = e
		case *FilterElement:
			filter = e
		}
	}
	if union == nil || len(union.Alternatives) != 2 {
		t.Fatal("expected a 2-way union")
	}
	if optional == nil {
		t.Fatal("expected an optional element")
	}
	if filter == nil {
		t.Fatal("expected a filter element")
	}
	if _, ok := filter.Condition.(*algebra.And); !ok {
		t.Errorf("expected conjunction, got %T", filter.Condition)
	}
}

func TestParse_Literals(t *testing.T) {
	q, err := NewParser().Parse(`SELECT ?s WHERE {
		?s <http://example.org/name> "Berlin"@de .
		?s <http://example.org/pop> 3645000 .
	}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pats := q.Where.TriplePatterns()
	if pats[0].Object != rdf.NewLangLiteral("Berlin", "de") {
		t.Errorf("unexpected literal: %v", pats[0].Object)
	}
	if pats[1].Object != rdf.NewTypedLiteral("3645000", rdf.XSDInteger) {
		t.Errorf("unexpected numeric literal: %v", pats[1].Object)
	}
}

func TestParse_UnsupportedConstructs(t *testing.T) {
	cases := []string{
		`CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }`,
		`ASK { ?s ?p ?o }`,
		`SELECT ?s WHERE { ?s ?p ?o } ORDER BY ?s`,
		`SELECT ?s WHERE { GRAPH <http://g> { ?s ?p ?o } }`,
		`SELECT ?s WHERE { SERVICE <http://e> { ?s ?p ?o } }`,
		`INSERT DATA { <http://s> <http://p> <http://o> }`,
	}
	for _, query := range cases {
		_, err := NewParser().Parse(query)
		if err == nil {
			t.Errorf("expected rejection for %q", query)
			continue
		}
		var ue *errors.ErrUnsupportedSyntax
		if !stderrors.As(err, &ue) {
			t.Errorf("expected ErrUnsupportedSyntax for %q, got %v", query, err)
		}
	}
}

func TestParse_MalformedQueries(t *testing.T) {
	cases := []string{
		``,
		`SELECT`,
		`SELECT ?s WHERE { ?s <http://p> }`,
		`SELECT ?s WHERE { ?s prefixless:x ?o }`,
		`SELECT ?s WHERE { ?s <http://p ?o }`,
	}
	for _, query := range cases {
		if _, err := NewParser().Parse(query); err == nil {
			t.Errorf("expected parse error for %q", query)
		}
	}
}

func TestRenderSelect(t *testing.T) {
	pats := []rdf.TriplePattern{
		{Subject: rdf.NewVariable("s"), Predicate: rdf.NewIRI("http://p"), Object: rdf.NewVariable("o")},
	}
	rendered := RenderSelect(pats, nil, rdf.BindingSet{"o": rdf.NewLiteral("x")})
	if !strings.Contains(rendered, `"x"`) {
		t.Errorf("bindings not substituted: %s", rendered)
	}
	if !strings.Contains(rendered, "SELECT ?s WHERE") {
		t.Errorf("unexpected projection: %s", rendered)
	}
}

func TestRenderBoundJoin(t *testing.T) {
	pats := []rdf.TriplePattern{
		{Subject: rdf.NewVariable("loc"), Predicate: rdf.NewIRI("http://p"), Object: rdf.NewVariable("c")},
	}
	batch := []rdf.BindingSet{
		{"loc": rdf.NewIRI("http://a")},
		{"loc": rdf.NewIRI("http://b")},
		{},
	}
	rendered := RenderBoundJoin(pats, nil, batch)
	for _, want := range []string{
		"?" + IndexVar,
		"VALUES (?" + IndexVar + " ?loc)",
		`("0" <http://a>)`,
		`("2" UNDEF)`,
	} {
		if !strings.Contains(rendered, want) {
			t.Errorf("rendered query missing %q:\n%s", want, rendered)
		}
	}
}

func TestRenderAsk(t *testing.T) {
	p := rdf.TriplePattern{
		Subject:   rdf.NewVariable("s"),
		Predicate: rdf.NewIRI("http://p"),
		Object:    rdf.NewVariable("o"),
	}
	if got := RenderAsk(p, nil); got != "ASK { ?s <http://p> ?o }" {
		t.Errorf("unexpected ASK: %s", got)
	}
	if got := RenderAskAsSelect(p, nil); got != "SELECT * WHERE { ?s <http://p> ?o } LIMIT 1" {
		t.Errorf("unexpected fallback probe: %s", got)
	}
}
