package algebra

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/canonica-labs/fedra/internal/rdf"
)

// Expr is a filter value expression. The variant set is sealed.
type Expr interface {
	// FreeVars returns the distinct variables the expression references.
	FreeVars() []string
	fmt.Stringer
	expr()
}

// CompareOp is a binary comparison operator.
type CompareOp string

const (
	OpEq CompareOp = "="
	OpNe CompareOp = "!="
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
)

// TermExpr wraps a term (variable or constant) as an expression operand.
type TermExpr struct {
	Term rdf.Term
}

// Compare is a binary comparison between two operands.
type Compare struct {
	Op    CompareOp
	Left  Expr
	Right Expr
}

// And is logical conjunction.
type And struct {
	Left  Expr
	Right Expr
}

// Or is logical disjunction.
type Or struct {
	Left  Expr
	Right Expr
}

// Not is logical negation.
type Not struct {
	Child Expr
}

// Bound tests whether a variable is bound.
type Bound struct {
	Var string
}

func (*TermExpr) expr() {}
func (*Compare) expr()  {}
func (*And) expr()      {}
func (*Or) expr()       {}
func (*Not) expr()      {}
func (*Bound) expr()    {}

func (e *TermExpr) FreeVars() []string {
	if e.Term.IsVariable() {
		return []string{e.Term.Value}
	}
	return nil
}

func mergeVars(groups ...[]string) []string {
	var vars []string
	seen := make(map[string]bool)
	for _, g := range groups {
		for _, v := range g {
			if !seen[v] {
				seen[v] = true
				vars = append(vars, v)
			}
		}
	}
	return vars
}

func (e *Compare) FreeVars() []string { return mergeVars(e.Left.FreeVars(), e.Right.FreeVars()) }
func (e *And) FreeVars() []string     { return mergeVars(e.Left.FreeVars(), e.Right.FreeVars()) }
func (e *Or) FreeVars() []string      { return mergeVars(e.Left.FreeVars(), e.Right.FreeVars()) }
func (e *Not) FreeVars() []string     { return e.Child.FreeVars() }
func (e *Bound) FreeVars() []string   { return []string{e.Var} }

func (e *TermExpr) String() string { return e.Term.String() }
func (e *Compare) String() string  { return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right) }
func (e *And) String() string      { return fmt.Sprintf("(%s && %s)", e.Left, e.Right) }
func (e *Or) String() string       { return fmt.Sprintf("(%s || %s)", e.Left, e.Right) }
func (e *Not) String() string      { return fmt.Sprintf("!(%s)", e.Child) }
func (e *Bound) String() string    { return fmt.Sprintf("bound(?%s)", e.Var) }

// Eval evaluates the expression against a binding set using SPARQL's
// effective boolean value semantics. Unbound variables in a comparison
// make the expression an error, which callers treat as false.
func Eval(e Expr, b rdf.BindingSet) (bool, error) {
	switch x := e.(type) {
	case *And:
		l, err := Eval(x.Left, b)
		if err != nil || !l {
			return false, err
		}
		return Eval(x.Right, b)
	case *Or:
		l, err := Eval(x.Left, b)
		if err == nil && l {
			return true, nil
		}
		return Eval(x.Right, b)
	case *Not:
		v, err := Eval(x.Child, b)
		if err != nil {
			return false, err
		}
		return !v, nil
	case *Bound:
		return b.Has(x.Var), nil
	case *Compare:
		return evalCompare(x, b)
	case *TermExpr:
		t, err := resolveTerm(x.Term, b)
		if err != nil {
			return false, err
		}
		return effectiveBoolean(t)
	default:
		return false, fmt.Errorf("unknown expression %T", e)
	}
}

func resolveTerm(t rdf.Term, b rdf.BindingSet) (rdf.Term, error) {
	if !t.IsVariable() {
		return t, nil
	}
	v, ok := b[t.Value]
	if !ok {
		return rdf.Term{}, fmt.Errorf("unbound variable ?%s", t.Value)
	}
	return v, nil
}

func effectiveBoolean(t rdf.Term) (bool, error) {
	if t.Kind != rdf.KindLiteral {
		return false, fmt.Errorf("no effective boolean value for %s", t)
	}
	switch t.Datatype {
	case rdf.XSDBoolean:
		return t.Value == "true" || t.Value == "1", nil
	case rdf.XSDInteger, rdf.XSDDecimal:
		return t.Value != "0" && t.Value != "", nil
	default:
		return t.Value != "", nil
	}
}

func evalCompare(c *Compare, b rdf.BindingSet) (bool, error) {
	lt, ok := c.Left.(*TermExpr)
	if !ok {
		return false, fmt.Errorf("unsupported comparison operand %T", c.Left)
	}
	rt, ok := c.Right.(*TermExpr)
	if !ok {
		return false, fmt.Errorf("unsupported comparison operand %T", c.Right)
	}
	l, err := resolveTerm(lt.Term, b)
	if err != nil {
		return false, err
	}
	r, err := resolveTerm(rt.Term, b)
	if err != nil {
		return false, err
	}

	// Numeric comparison when both sides parse as numbers.
	if lf, lok := numericValue(l); lok {
		if rf, rok := numericValue(r); rok {
			return compareFloats(c.Op, lf, rf), nil
		}
	}

	switch c.Op {
	case OpEq:
		return l == r, nil
	case OpNe:
		return l != r, nil
	default:
		return compareStrings(c.Op, l.Value, r.Value), nil
	}
}

func numericValue(t rdf.Term) (float64, bool) {
	if t.Kind != rdf.KindLiteral {
		return 0, false
	}
	f, err := strconv.ParseFloat(t.Value, 64)
	return f, err == nil
}

func compareFloats(op CompareOp, l, r float64) bool {
	switch op {
	case OpEq:
		return l == r
	case OpNe:
		return l != r
	case OpLt:
		return l < r
	case OpLe:
		return l <= r
	case OpGt:
		return l > r
	case OpGe:
		return l >= r
	}
	return false
}

func compareStrings(op CompareOp, l, r string) bool {
	switch op {
	case OpLt:
		return strings.Compare(l, r) < 0
	case OpLe:
		return strings.Compare(l, r) <= 0
	case OpGt:
		return strings.Compare(l, r) > 0
	case OpGe:
		return strings.Compare(l, r) >= 0
	}
	return false
}
