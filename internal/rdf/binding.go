package rdf

import (
	"sort"
	"strings"
)

// BindingSet maps variable names to terms, representing one solution row.
// Binding sets are treated as immutable: operations return fresh maps and
// never mutate their receiver.
type BindingSet map[string]Term

// EmptyBindingSet is the solution with no bound variables.
func EmptyBindingSet() BindingSet {
	return BindingSet{}
}

// Has reports whether the variable is bound.
func (b BindingSet) Has(name string) bool {
	_, ok := b[name]
	return ok
}

// Copy returns an independent copy of the binding set.
func (b BindingSet) Copy() BindingSet {
	c := make(BindingSet, len(b))
	for k, v := range b {
		c[k] = v
	}
	return c
}

// With returns a copy with an additional binding.
func (b BindingSet) With(name string, value Term) BindingSet {
	c := b.Copy()
	c[name] = value
	return c
}

// Merge combines two binding sets. Shared variables must agree on their
// value; a conflict makes the rows incompatible and Merge reports false.
func (b BindingSet) Merge(other BindingSet) (BindingSet, bool) {
	merged := b.Copy()
	for k, v := range other {
		if existing, ok := merged[k]; ok {
			if existing != v {
				return nil, false
			}
			continue
		}
		merged[k] = v
	}
	return merged, true
}

// Project restricts the binding set to the given variables. Unbound
// variables are simply absent from the result.
func (b BindingSet) Project(vars []string) BindingSet {
	p := make(BindingSet, len(vars))
	for _, v := range vars {
		if t, ok := b[v]; ok {
			p[v] = t
		}
	}
	return p
}

// Vars returns the bound variable names in lexical order.
func (b BindingSet) Vars() []string {
	vars := make([]string, 0, len(b))
	for k := range b {
		vars = append(vars, k)
	}
	sort.Strings(vars)
	return vars
}

// String renders the binding set deterministically, for logs and tests.
func (b BindingSet) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, v := range b.Vars() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("?" + v + "=" + b[v].String())
	}
	sb.WriteByte('}')
	return sb.String()
}
