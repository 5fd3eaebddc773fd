package algebra

// Visitor is invoked for each node during a Walk. If Visit returns a nil
// visitor, the node's children are skipped.
type Visitor interface {
	Visit(Node) Visitor
}

// Walk traverses the tree depth-first, parent before children.
func Walk(v Visitor, n Node) {
	if n == nil {
		return
	}
	if v = v.Visit(n); v == nil {
		return
	}
	switch x := n.(type) {
	case *NJoin:
		for _, c := range x.Children {
			Walk(v, c)
		}
	case *NUnion:
		for _, c := range x.Children {
			Walk(v, c)
		}
	case *BoundJoin:
		Walk(v, x.Left)
		Walk(v, x.Right)
	case *LeftJoin:
		Walk(v, x.Left)
		Walk(v, x.Right)
	case *Filter:
		Walk(v, x.Child)
	case *Projection:
		Walk(v, x.Child)
	}
}

// VisitorFunc adapts a function to the Visitor interface.
type VisitorFunc func(Node) bool

// Visit calls the function; returning false prunes the subtree.
func (f VisitorFunc) Visit(n Node) Visitor {
	if f(n) {
		return f
	}
	return nil
}

// Rewrite transforms the tree bottom-up: children are rewritten first,
// then f is applied to the node itself. f must return a non-nil node.
func Rewrite(n Node, f func(Node) Node) Node {
	if n == nil {
		return nil
	}
	switch x := n.(type) {
	case *NJoin:
		children := make([]Node, len(x.Children))
		for i, c := range x.Children {
			children[i] = Rewrite(c, f)
		}
		return f(&NJoin{Children: children})
	case *NUnion:
		children := make([]Node, len(x.Children))
		for i, c := range x.Children {
			children[i] = Rewrite(c, f)
		}
		return f(&NUnion{Children: children})
	case *BoundJoin:
		return f(&BoundJoin{Left: Rewrite(x.Left, f), Right: Rewrite(x.Right, f)})
	case *LeftJoin:
		return f(&LeftJoin{Left: Rewrite(x.Left, f), Right: Rewrite(x.Right, f)})
	case *Filter:
		return f(&Filter{Condition: x.Condition, Child: Rewrite(x.Child, f)})
	case *Projection:
		return f(&Projection{Selected: x.Selected, Child: Rewrite(x.Child, f)})
	default:
		return f(n)
	}
}
