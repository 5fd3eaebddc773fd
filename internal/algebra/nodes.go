// Package algebra defines the federation query algebra: the node variants
// produced by the rewriter and consumed by the parallel evaluator.
package algebra

import (
	"fmt"
	"strings"

	"github.com/canonica-labs/fedra/internal/rdf"
)

// SourceKind distinguishes co-located stores from members requiring wire I/O.
type SourceKind int

const (
	// SourceLocal means the member's store is co-located, no network needed.
	SourceLocal SourceKind = iota
	// SourceRemote means answering requires wire I/O.
	SourceRemote
)

func (k SourceKind) String() string {
	if k == SourceLocal {
		return "local"
	}
	return "remote"
}

// StatementSource identifies a federation member able to answer a pattern.
type StatementSource struct {
	EndpointID string
	Kind       SourceKind
}

func (s StatementSource) String() string {
	return fmt.Sprintf("%s(%s)", s.EndpointID, s.Kind)
}

// Node is a federation algebra node. The variant set is sealed: evaluation
// and rewriting switch over the concrete types below.
type Node interface {
	// Vars returns the distinct free variables of the subtree.
	Vars() []string
	fmt.Stringer
	node()
}

// EmptyPattern is a triple pattern no source can answer. It evaluates to
// zero rows without remote I/O.
type EmptyPattern struct {
	Pattern rdf.TriplePattern
}

// ExclusiveStatement is a pattern answerable by exactly one source.
type ExclusiveStatement struct {
	Pattern rdf.TriplePattern
	Source  StatementSource

	// Filters holds filter expressions pushed into the remote sub-query.
	Filters []Expr
}

// StatementSourcePattern is a pattern with multiple candidate sources;
// evaluation is the bag union over all of them.
type StatementSourcePattern struct {
	Pattern rdf.TriplePattern
	Sources []StatementSource
}

// ExclusiveGroup is a run of patterns all exclusive to the same source,
// shipped to it as a single sub-query.
type ExclusiveGroup struct {
	Patterns []rdf.TriplePattern
	Source   StatementSource

	// Filters holds filter expressions pushed into the remote sub-query.
	Filters []Expr
}

// NJoin is an n-ary join evaluated left-deep in the given order.
type NJoin struct {
	Children []Node
}

// BoundJoin joins Left and Right by pushing batches of left bindings into
// the right side as a VALUES-style sub-query per source.
type BoundJoin struct {
	Left  Node
	Right Node
}

// NUnion is an n-ary bag union with no output order guarantee.
type NUnion struct {
	Children []Node
}

// LeftJoin implements OPTIONAL: left rows survive even without a match.
type LeftJoin struct {
	Left  Node
	Right Node
}

// Filter drops bindings for which the expression does not evaluate to true.
type Filter struct {
	Condition Expr
	Child     Node
}

// Projection restricts the visible variables without changing cardinality.
type Projection struct {
	Selected []string
	Child    Node
}

func (*EmptyPattern) node()           {}
func (*ExclusiveStatement) node()     {}
func (*StatementSourcePattern) node() {}
func (*ExclusiveGroup) node()         {}
func (*NJoin) node()                  {}
func (*BoundJoin) node()              {}
func (*NUnion) node()                 {}
func (*LeftJoin) node()               {}
func (*Filter) node()                 {}
func (*Projection) node()             {}

// Vars implementations. Order is first-occurrence, duplicates removed.

func (n *EmptyPattern) Vars() []string       { return n.Pattern.Vars() }
func (n *ExclusiveStatement) Vars() []string { return n.Pattern.Vars() }

func (n *StatementSourcePattern) Vars() []string { return n.Pattern.Vars() }

func (n *ExclusiveGroup) Vars() []string {
	var vars []string
	seen := make(map[string]bool)
	for _, p := range n.Patterns {
		for _, v := range p.Vars() {
			if !seen[v] {
				seen[v] = true
				vars = append(vars, v)
			}
		}
	}
	return vars
}

func childVars(children []Node) []string {
	var vars []string
	seen := make(map[string]bool)
	for _, c := range children {
		for _, v := range c.Vars() {
			if !seen[v] {
				seen[v] = true
				vars = append(vars, v)
			}
		}
	}
	return vars
}

func (n *NJoin) Vars() []string     { return childVars(n.Children) }
func (n *BoundJoin) Vars() []string { return childVars([]Node{n.Left, n.Right}) }
func (n *NUnion) Vars() []string    { return childVars(n.Children) }
func (n *LeftJoin) Vars() []string  { return childVars([]Node{n.Left, n.Right}) }
func (n *Filter) Vars() []string    { return n.Child.Vars() }
func (n *Projection) Vars() []string {
	return append([]string(nil), n.Selected...)
}

// String renderings produce the indented plan used by debugQueryPlan.

func (n *EmptyPattern) String() string {
	return fmt.Sprintf("Empty(%s)", n.Pattern)
}

func (n *ExclusiveStatement) String() string {
	return fmt.Sprintf("Exclusive(%s @ %s)", n.Pattern, n.Source)
}

func (n *StatementSourcePattern) String() string {
	srcs := make([]string, len(n.Sources))
	for i, s := range n.Sources {
		srcs[i] = s.String()
	}
	return fmt.Sprintf("SourcePattern(%s @ [%s])", n.Pattern, strings.Join(srcs, ", "))
}

func (n *ExclusiveGroup) String() string {
	pats := make([]string, len(n.Patterns))
	for i, p := range n.Patterns {
		pats[i] = p.String()
	}
	return fmt.Sprintf("ExclusiveGroup({%s} @ %s)", strings.Join(pats, " . "), n.Source)
}

func renderNary(name string, children []Node) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = c.String()
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}

func (n *NJoin) String() string     { return renderNary("NJoin", n.Children) }
func (n *BoundJoin) String() string { return renderNary("BoundJoin", []Node{n.Left, n.Right}) }
func (n *NUnion) String() string    { return renderNary("NUnion", n.Children) }
func (n *LeftJoin) String() string  { return renderNary("LeftJoin", []Node{n.Left, n.Right}) }

func (n *Filter) String() string {
	return fmt.Sprintf("Filter(%s, %s)", n.Condition, n.Child)
}

func (n *Projection) String() string {
	return fmt.Sprintf("Projection([%s], %s)", strings.Join(n.Selected, " "), n.Child)
}
