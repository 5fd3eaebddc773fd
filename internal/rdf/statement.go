package rdf

import (
	"fmt"
	"strings"
)

// Statement is a fully bound RDF triple.
type Statement struct {
	Subject   Term
	Predicate Term
	Object    Term
}

// String renders the statement in N-Triples-like syntax.
func (s Statement) String() string {
	return fmt.Sprintf("%s %s %s .", s.Subject, s.Predicate, s.Object)
}

// TriplePattern is a triple whose slots may be variables.
// Invariant: at least one slot is a variable; a pattern with all constants
// degenerates to an existence check and is probed via ASK.
type TriplePattern struct {
	Subject   Term
	Predicate Term
	Object    Term
}

// Vars returns the distinct variable names of the pattern, in slot order.
func (p TriplePattern) Vars() []string {
	var vars []string
	seen := make(map[string]bool, 3)
	for _, t := range []Term{p.Subject, p.Predicate, p.Object} {
		if t.IsVariable() && !seen[t.Value] {
			seen[t.Value] = true
			vars = append(vars, t.Value)
		}
	}
	return vars
}

// FreeVarCount returns the number of distinct variables in the pattern.
func (p TriplePattern) FreeVarCount() int {
	return len(p.Vars())
}

// HasVariable reports whether any slot is a variable.
func (p TriplePattern) HasVariable() bool {
	return p.Subject.IsVariable() || p.Predicate.IsVariable() || p.Object.IsVariable()
}

// Apply substitutes bound variables from the binding set, returning the
// resulting (possibly more constrained) pattern.
func (p TriplePattern) Apply(b BindingSet) TriplePattern {
	sub := func(t Term) Term {
		if t.IsVariable() {
			if v, ok := b[t.Value]; ok {
				return v
			}
		}
		return t
	}
	return TriplePattern{
		Subject:   sub(p.Subject),
		Predicate: sub(p.Predicate),
		Object:    sub(p.Object),
	}
}

// String renders the pattern in SPARQL surface syntax.
func (p TriplePattern) String() string {
	return fmt.Sprintf("%s %s %s", p.Subject, p.Predicate, p.Object)
}

// SubQueryKey is the normalised cache key of a triple pattern: bound slots
// keep their rendered value, variables collapse to a wildcard. Two patterns
// differing only in variable naming share a key.
type SubQueryKey string

// Key normalises the pattern into its cache key.
func (p TriplePattern) Key() SubQueryKey {
	var sb strings.Builder
	for i, t := range []Term{p.Subject, p.Predicate, p.Object} {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if t.IsVariable() {
			sb.WriteByte('*')
		} else {
			sb.WriteString(t.String())
		}
	}
	return SubQueryKey(sb.String())
}
