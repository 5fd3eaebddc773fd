package sparql

import (
	"github.com/canonica-labs/fedra/internal/algebra"
	"github.com/canonica-labs/fedra/internal/rdf"
)

// Filter expression grammar, precedence low to high:
//
//	expr     = and ( '||' and )*
//	and      = unary ( '&&' unary )*
//	unary    = '!' unary | relation
//	relation = operand ( compareOp operand )?
//	operand  = '(' expr ')' | BOUND '(' var ')' | term

func (ps *parser) parseBracketedExpr() (algebra.Expr, error) {
	if err := ps.expectPunct("("); err != nil {
		return nil, err
	}
	e, err := ps.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := ps.expectPunct(")"); err != nil {
		return nil, err
	}
	return e, nil
}

func (ps *parser) parseExpr() (algebra.Expr, error) {
	left, err := ps.parseAnd()
	if err != nil {
		return nil, err
	}
	for ps.tok.kind == tokOp && ps.tok.text == "||" {
		if err := ps.advance(); err != nil {
			return nil, err
		}
		right, err := ps.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &algebra.Or{Left: left, Right: right}
	}
	return left, nil
}

func (ps *parser) parseAnd() (algebra.Expr, error) {
	left, err := ps.parseUnary()
	if err != nil {
		return nil, err
	}
	for ps.tok.kind == tokOp && ps.tok.text == "&&" {
		if err := ps.advance(); err != nil {
			return nil, err
		}
		right, err := ps.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &algebra.And{Left: left, Right: right}
	}
	return left, nil
}

func (ps *parser) parseUnary() (algebra.Expr, error) {
	if ps.tok.kind == tokOp && ps.tok.text == "!" {
		if err := ps.advance(); err != nil {
			return nil, err
		}
		child, err := ps.parseUnary()
		if err != nil {
			return nil, err
		}
		return &algebra.Not{Child: child}, nil
	}
	return ps.parseRelation()
}

func (ps *parser) parseRelation() (algebra.Expr, error) {
	left, err := ps.parseOperand()
	if err != nil {
		return nil, err
	}
	if ps.tok.kind == tokOp {
		var op algebra.CompareOp
		switch ps.tok.text {
		case "=":
			op = algebra.OpEq
		case "!=":
			op = algebra.OpNe
		case "<":
			op = algebra.OpLt
		case "<=":
			op = algebra.OpLe
		case ">":
			op = algebra.OpGt
		case ">=":
			op = algebra.OpGe
		default:
			return left, nil
		}
		if err := ps.advance(); err != nil {
			return nil, err
		}
		right, err := ps.parseOperand()
		if err != nil {
			return nil, err
		}
		return &algebra.Compare{Op: op, Left: left, Right: right}, nil
	}
	return left, nil
}

func (ps *parser) parseOperand() (algebra.Expr, error) {
	switch {
	case ps.tok.kind == tokPunct && ps.tok.text == "(":
		return ps.parseBracketedExpr()

	case ps.tok.kind == tokKeyword && ps.tok.text == "BOUND":
		if err := ps.advance(); err != nil {
			return nil, err
		}
		if err := ps.expectPunct("("); err != nil {
			return nil, err
		}
		if ps.tok.kind != tokVar {
			return nil, ps.errorf("expected variable in bound(), got %s", ps.tok)
		}
		v := ps.tok.text
		if err := ps.advance(); err != nil {
			return nil, err
		}
		if err := ps.expectPunct(")"); err != nil {
			return nil, err
		}
		return &algebra.Bound{Var: v}, nil

	default:
		// reuse term parsing; the enclosing query provides prefixes
		t, err := ps.parseExprTerm()
		if err != nil {
			return nil, err
		}
		return &algebra.TermExpr{Term: t}, nil
	}
}

// parseExprTerm parses a term inside a filter expression. It mirrors
// parseTerm but without predicate-position rules.
func (ps *parser) parseExprTerm() (rdf.Term, error) {
	return ps.parseTerm(false)
}
