package rdf

import "testing"

func TestTerm_String(t *testing.T) {
	cases := []struct {
		term Term
		want string
	}{
		{NewIRI("http://example.org/a"), "<http://example.org/a>"},
		{NewLiteral("hello"), `"hello"`},
		{NewLangLiteral("hallo", "de"), `"hallo"@de`},
		{NewTypedLiteral("42", XSDInteger), `"42"^^<http://www.w3.org/2001/XMLSchema#integer>`},
		{NewBNode("b0"), "_:b0"},
		{NewVariable("x"), "?x"},
		{NewLiteral(`say "hi"`), `"say \"hi\""`},
	}
	for _, c := range cases {
		if got := c.term.String(); got != c.want {
			t.Errorf("String() = %s, want %s", got, c.want)
		}
	}
}

func TestTriplePattern_Key(t *testing.T) {
	p1 := TriplePattern{
		Subject:   NewVariable("s"),
		Predicate: NewIRI("http://example.org/p"),
		Object:    NewVariable("o"),
	}
	p2 := TriplePattern{
		Subject:   NewVariable("conf"),
		Predicate: NewIRI("http://example.org/p"),
		Object:    NewVariable("loc"),
	}
	if p1.Key() != p2.Key() {
		t.Errorf("patterns differing only in variable names must share a key: %q vs %q", p1.Key(), p2.Key())
	}

	p3 := TriplePattern{
		Subject:   NewVariable("s"),
		Predicate: NewIRI("http://example.org/q"),
		Object:    NewVariable("o"),
	}
	if p1.Key() == p3.Key() {
		t.Error("patterns with different predicates must not share a key")
	}
}

func TestTriplePattern_Apply(t *testing.T) {
	p := TriplePattern{
		Subject:   NewVariable("s"),
		Predicate: NewIRI("http://example.org/p"),
		Object:    NewVariable("o"),
	}
	b := BindingSet{"s": NewIRI("http://example.org/x")}

	applied := p.Apply(b)
	if applied.Subject != NewIRI("http://example.org/x") {
		t.Errorf("subject not substituted: %v", applied.Subject)
	}
	if !applied.Object.IsVariable() {
		t.Error("unbound object must stay a variable")
	}
	// original untouched
	if !p.Subject.IsVariable() {
		t.Error("Apply must not mutate the receiver")
	}
}

func TestBindingSet_Merge(t *testing.T) {
	a := BindingSet{"x": NewLiteral("1"), "y": NewLiteral("2")}
	b := BindingSet{"y": NewLiteral("2"), "z": NewLiteral("3")}

	merged, ok := a.Merge(b)
	if !ok {
		t.Fatal("compatible binding sets must merge")
	}
	if len(merged) != 3 {
		t.Errorf("expected 3 bindings, got %d", len(merged))
	}

	conflict := BindingSet{"x": NewLiteral("other")}
	if _, ok := a.Merge(conflict); ok {
		t.Error("conflicting values on a shared variable must not merge")
	}
}

func TestBindingSet_Project(t *testing.T) {
	b := BindingSet{"x": NewLiteral("1"), "y": NewLiteral("2")}
	p := b.Project([]string{"x", "missing"})
	if len(p) != 1 || !p.Has("x") {
		t.Errorf("unexpected projection: %v", p)
	}
}
