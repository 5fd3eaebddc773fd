package optimizer

import (
	"github.com/canonica-labs/fedra/internal/algebra"
)

// joinCandidate tracks a join argument and its original position.
type joinCandidate struct {
	node  algebra.Node
	index int
}

// OrderJoinChildren permutes the children of an n-ary join to minimise
// expected intermediate cardinality, using a greedy variable-count
// heuristic rather than statistics:
//
//   - nodes with fewer variables still unbound by the prefix go first
//   - exclusive nodes beat multi-source nodes at equal count
//   - larger overlap with already-bound variables wins next
//   - remaining ties keep the original order (stable)
//
// The result is a permutation: same multiset of nodes, new order. The
// heuristic is O(n²), acceptable since conjunctions rarely exceed tens
// of patterns.
func OrderJoinChildren(children []algebra.Node) []algebra.Node {
	if len(children) < 2 {
		return children
	}

	remaining := make([]joinCandidate, len(children))
	for i, c := range children {
		remaining[i] = joinCandidate{node: c, index: i}
	}

	bound := make(map[string]bool)
	ordered := make([]algebra.Node, 0, len(children))

	for len(remaining) > 0 {
		best := 0
		for i := 1; i < len(remaining); i++ {
			if beats(remaining[i], remaining[best], bound) {
				best = i
			}
		}

		chosen := remaining[best]
		ordered = append(ordered, chosen.node)
		for _, v := range chosen.node.Vars() {
			bound[v] = true
		}
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return ordered
}

// beats reports whether candidate a is preferred over b under the
// heuristic, given the variables bound by the prefix so far.
func beats(a, b joinCandidate, bound map[string]bool) bool {
	aUnbound, aOverlap := varCounts(a.node, bound)
	bUnbound, bOverlap := varCounts(b.node, bound)

	if aUnbound != bUnbound {
		return aUnbound < bUnbound
	}
	ae, be := isExclusive(a.node), isExclusive(b.node)
	if ae != be {
		return ae
	}
	if aOverlap != bOverlap {
		return aOverlap > bOverlap
	}
	return a.index < b.index
}

// varCounts returns the node's unbound variable count and its overlap with
// the already-bound prefix.
func varCounts(n algebra.Node, bound map[string]bool) (unbound, overlap int) {
	for _, v := range n.Vars() {
		if bound[v] {
			overlap++
		} else {
			unbound++
		}
	}
	return unbound, overlap
}

func isExclusive(n algebra.Node) bool {
	switch n.(type) {
	case *algebra.ExclusiveStatement, *algebra.ExclusiveGroup:
		return true
	default:
		return false
	}
}
