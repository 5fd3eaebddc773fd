package optimizer

import (
	"context"

	"github.com/canonica-labs/fedra/internal/algebra"
	"github.com/canonica-labs/fedra/internal/rdf"
	"github.com/canonica-labs/fedra/internal/sparql"
)

// Rewriter turns a parsed query into the federation algebra. The passes
// run in order: source annotation, exclusive group extraction, filter
// push-down, join ordering, bound-join marking, projection preservation.
type Rewriter struct {
	resolver *Resolver
}

// NewRewriter creates a rewriter using the given resolver.
func NewRewriter(resolver *Resolver) *Rewriter {
	return &Rewriter{resolver: resolver}
}

// Rewrite produces the executable plan for a parsed query.
func (rw *Rewriter) Rewrite(ctx context.Context, q QueryInfo, query *sparql.Query) (algebra.Node, error) {
	// one selection pass for the whole query; probes are deduplicated
	// across groups through the subquery key
	patterns := collectPatterns(query.Where)
	sources, err := rw.resolver.SelectSources(ctx, q, patterns)
	if err != nil {
		return nil, err
	}
	annotations := make(map[rdf.TriplePattern][]algebra.StatementSource, len(patterns))
	for i, p := range patterns {
		annotations[p] = sources[i]
	}

	node := rw.rewriteGroup(query.Where, annotations)
	node = Normalize(node)
	return &algebra.Projection{Selected: query.Vars(), Child: node}, nil
}

// collectPatterns gathers every triple pattern of the query, including
// union, optional and nested group scopes.
func collectPatterns(group *sparql.GroupGraphPattern) []rdf.TriplePattern {
	var out []rdf.TriplePattern
	for _, el := range group.Elements {
		switch e := el.(type) {
		case *sparql.TriplePatternElement:
			out = append(out, e.Pattern)
		case *sparql.UnionElement:
			for _, alt := range e.Alternatives {
				out = append(out, collectPatterns(alt)...)
			}
		case *sparql.OptionalElement:
			out = append(out, collectPatterns(e.Pattern)...)
		case *sparql.GroupElement:
			out = append(out, collectPatterns(e.Group)...)
		}
	}
	return out
}

// rewriteGroup builds the algebra for one conjunctive scope.
func (rw *Rewriter) rewriteGroup(group *sparql.GroupGraphPattern, annotations map[rdf.TriplePattern][]algebra.StatementSource) algebra.Node {
	var (
		children  []algebra.Node
		optionals []algebra.Node
		filters   []algebra.Expr

		// run of adjacent source-annotated patterns, fused into
		// exclusive groups before joining
		run []algebra.Node
	)

	flushRun := func() {
		if len(run) == 0 {
			return
		}
		children = append(children, extractExclusiveGroups(run)...)
		run = nil
	}

	for _, el := range group.Elements {
		switch e := el.(type) {
		case *sparql.TriplePatternElement:
			run = append(run, annotate(e.Pattern, annotations[e.Pattern]))

		case *sparql.FilterElement:
			filters = append(filters, e.Condition)

		case *sparql.UnionElement:
			flushRun()
			alts := make([]algebra.Node, len(e.Alternatives))
			for i, alt := range e.Alternatives {
				alts[i] = rw.rewriteGroup(alt, annotations)
			}
			children = append(children, &algebra.NUnion{Children: alts})

		case *sparql.OptionalElement:
			// optionals never join the conjunction; they wrap it
			optionals = append(optionals, rw.rewriteGroup(e.Pattern, annotations))

		case *sparql.GroupElement:
			flushRun()
			children = append(children, rw.rewriteGroup(e.Group, annotations))
		}
	}
	flushRun()

	// a conjunct no source can answer empties the whole scope; evaluation
	// must not issue remote requests for the siblings
	for _, c := range children {
		if isEmpty(c) {
			return &algebra.EmptyPattern{}
		}
	}

	filters = pushDownFilters(children, filters)

	node := buildJoin(OrderJoinChildren(children))
	for _, opt := range optionals {
		node = &algebra.LeftJoin{Left: node, Right: opt}
	}
	for _, f := range filters {
		node = &algebra.Filter{Condition: f, Child: node}
	}
	return node
}

// annotate maps a source-annotated pattern onto its algebra variant.
func annotate(p rdf.TriplePattern, sources []algebra.StatementSource) algebra.Node {
	switch len(sources) {
	case 0:
		return &algebra.EmptyPattern{Pattern: p}
	case 1:
		return &algebra.ExclusiveStatement{Pattern: p, Source: sources[0]}
	default:
		return &algebra.StatementSourcePattern{Pattern: p, Sources: sources}
	}
}

// extractExclusiveGroups fuses adjacent exclusive statements sharing the
// same source into one group, shipped as a single sub-query. Adjacency is
// bounded by the run: groups never cross union, optional or nested group
// boundaries.
func extractExclusiveGroups(run []algebra.Node) []algebra.Node {
	var out []algebra.Node
	for i := 0; i < len(run); {
		es, ok := run[i].(*algebra.ExclusiveStatement)
		if !ok {
			out = append(out, run[i])
			i++
			continue
		}

		j := i + 1
		for j < len(run) {
			next, ok := run[j].(*algebra.ExclusiveStatement)
			if !ok || next.Source != es.Source {
				break
			}
			j++
		}

		if j-i == 1 {
			out = append(out, es)
		} else {
			grp := &algebra.ExclusiveGroup{Source: es.Source}
			for _, n := range run[i:j] {
				grp.Patterns = append(grp.Patterns, n.(*algebra.ExclusiveStatement).Pattern)
			}
			out = append(out, grp)
		}
		i = j
	}
	return out
}

// pushDownFilters attaches filters whose free variables are fully covered
// by an exclusive node to that node, shipping them remotely. The residual
// filters are returned for local evaluation.
func pushDownFilters(children []algebra.Node, filters []algebra.Expr) (residual []algebra.Expr) {
	for _, f := range filters {
		if target := coveringExclusive(children, f); target != nil {
			switch n := target.(type) {
			case *algebra.ExclusiveStatement:
				n.Filters = append(n.Filters, f)
			case *algebra.ExclusiveGroup:
				n.Filters = append(n.Filters, f)
			}
			continue
		}
		residual = append(residual, f)
	}
	return residual
}

// coveringExclusive finds the first exclusive node binding all free
// variables of the expression.
func coveringExclusive(children []algebra.Node, f algebra.Expr) algebra.Node {
	free := f.FreeVars()
	for _, c := range children {
		if !isExclusive(c) {
			continue
		}
		vars := make(map[string]bool)
		for _, v := range c.Vars() {
			vars[v] = true
		}
		covered := true
		for _, v := range free {
			if !vars[v] {
				covered = false
				break
			}
		}
		if covered {
			return c
		}
	}
	return nil
}

// buildJoin assembles the ordered children into a left-deep execution
// shape. A right side that is a single statement pattern becomes a bound
// join: left bindings are pushed into it batch-wise at evaluation time.
func buildJoin(children []algebra.Node) algebra.Node {
	switch len(children) {
	case 0:
		return &algebra.NJoin{}
	case 1:
		return children[0]
	}

	acc := children[0]
	for _, c := range children[1:] {
		if boundJoinable(c) {
			acc = &algebra.BoundJoin{Left: acc, Right: c}
			continue
		}
		if j, ok := acc.(*algebra.NJoin); ok {
			j.Children = append(j.Children, c)
			continue
		}
		acc = &algebra.NJoin{Children: []algebra.Node{acc, c}}
	}
	return acc
}

// boundJoinable reports whether a right-hand side takes left bindings as
// VALUES batches: single patterns do, exclusive groups ship whole.
func boundJoinable(n algebra.Node) bool {
	switch n.(type) {
	case *algebra.StatementSourcePattern, *algebra.ExclusiveStatement:
		return true
	default:
		return false
	}
}

func isEmpty(n algebra.Node) bool {
	_, ok := n.(*algebra.EmptyPattern)
	return ok
}

// Normalize flattens nested joins and unions and collapses trivial
// wrappers. It is idempotent: Normalize(Normalize(t)) == Normalize(t).
func Normalize(n algebra.Node) algebra.Node {
	return algebra.Rewrite(n, func(n algebra.Node) algebra.Node {
		switch x := n.(type) {
		case *algebra.NJoin:
			var flat []algebra.Node
			for _, c := range x.Children {
				if inner, ok := c.(*algebra.NJoin); ok {
					flat = append(flat, inner.Children...)
					continue
				}
				flat = append(flat, c)
			}
			for _, c := range flat {
				if isEmpty(c) {
					return &algebra.EmptyPattern{}
				}
			}
			if len(flat) == 1 {
				return flat[0]
			}
			return &algebra.NJoin{Children: flat}

		case *algebra.NUnion:
			var flat []algebra.Node
			for _, c := range x.Children {
				if inner, ok := c.(*algebra.NUnion); ok {
					flat = append(flat, inner.Children...)
					continue
				}
				if isEmpty(c) {
					continue
				}
				flat = append(flat, c)
			}
			switch len(flat) {
			case 0:
				return &algebra.EmptyPattern{}
			case 1:
				return flat[0]
			}
			return &algebra.NUnion{Children: flat}

		default:
			return n
		}
	})
}
