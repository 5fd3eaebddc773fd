package sparql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/canonica-labs/fedra/internal/algebra"
	"github.com/canonica-labs/fedra/internal/rdf"
)

// IndexVar is the hidden variable injected into bound-join sub-queries to
// re-associate result rows with the left-hand tuple that produced them.
const IndexVar = "__fedra_idx"

// RenderSelect renders a SELECT sub-query over the given patterns, with
// pushed-down filters, for shipping to a single endpoint. Bindings from the
// evaluation context are substituted into the patterns before rendering.
func RenderSelect(patterns []rdf.TriplePattern, filters []algebra.Expr, bindings rdf.BindingSet) string {
	applied := make([]rdf.TriplePattern, len(patterns))
	for i, p := range patterns {
		applied[i] = p.Apply(bindings)
	}

	vars := projectionVars(applied)
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(vars) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString("?" + strings.Join(vars, " ?"))
	}
	sb.WriteString(" WHERE { ")
	writeBody(&sb, applied, filters)
	sb.WriteString("}")
	return sb.String()
}

// RenderBoundJoin renders one VALUES-parameterised sub-query for a batch of
// left-hand bindings. Each VALUES row carries the hidden index variable so
// rows can be re-associated on return. Variables of the pattern that are
// unbound in a given left tuple render as UNDEF.
func RenderBoundJoin(patterns []rdf.TriplePattern, filters []algebra.Expr, batch []rdf.BindingSet) string {
	vars := projectionVars(patterns)

	// the VALUES clause binds the pattern variables that any left tuple binds
	bound := boundJoinVars(patterns, batch)

	var sb strings.Builder
	sb.WriteString("SELECT ?" + IndexVar)
	for _, v := range vars {
		sb.WriteString(" ?" + v)
	}
	sb.WriteString(" WHERE { VALUES (?" + IndexVar)
	for _, v := range bound {
		sb.WriteString(" ?" + v)
	}
	sb.WriteString(") { ")
	for i, b := range batch {
		sb.WriteString(fmt.Sprintf(`("%d"`, i))
		for _, v := range bound {
			sb.WriteByte(' ')
			if t, ok := b[v]; ok {
				sb.WriteString(t.String())
			} else {
				sb.WriteString("UNDEF")
			}
		}
		sb.WriteString(") ")
	}
	sb.WriteString("} ")
	writeBody(&sb, patterns, filters)
	sb.WriteString("}")
	return sb.String()
}

// RenderAsk renders an ASK probe for the pattern.
func RenderAsk(pattern rdf.TriplePattern, bindings rdf.BindingSet) string {
	p := pattern.Apply(bindings)
	return fmt.Sprintf("ASK { %s }", p)
}

// RenderAskAsSelect renders the probe as SELECT ... LIMIT 1 for endpoints
// that do not support ASK queries.
func RenderAskAsSelect(pattern rdf.TriplePattern, bindings rdf.BindingSet) string {
	p := pattern.Apply(bindings)
	return fmt.Sprintf("SELECT * WHERE { %s } LIMIT 1", p)
}

func writeBody(sb *strings.Builder, patterns []rdf.TriplePattern, filters []algebra.Expr) {
	for _, p := range patterns {
		sb.WriteString(p.String())
		sb.WriteString(" . ")
	}
	for _, f := range filters {
		sb.WriteString("FILTER ")
		sb.WriteString(f.String())
		sb.WriteByte(' ')
	}
}

// projectionVars returns the distinct variables of the patterns in sorted
// order, so rendered queries are deterministic.
func projectionVars(patterns []rdf.TriplePattern) []string {
	seen := make(map[string]bool)
	var vars []string
	for _, p := range patterns {
		for _, v := range p.Vars() {
			if !seen[v] {
				seen[v] = true
				vars = append(vars, v)
			}
		}
	}
	sort.Strings(vars)
	return vars
}

// boundJoinVars returns the pattern variables bound by at least one tuple of
// the batch, sorted for deterministic rendering.
func boundJoinVars(patterns []rdf.TriplePattern, batch []rdf.BindingSet) []string {
	patternVars := make(map[string]bool)
	for _, p := range patterns {
		for _, v := range p.Vars() {
			patternVars[v] = true
		}
	}
	seen := make(map[string]bool)
	var vars []string
	for _, b := range batch {
		for v := range b {
			if patternVars[v] && !seen[v] {
				seen[v] = true
				vars = append(vars, v)
			}
		}
	}
	sort.Strings(vars)
	return vars
}
