package sparql

import (
	"fmt"
	"strings"

	"github.com/canonica-labs/fedra/internal/algebra"
	"github.com/canonica-labs/fedra/internal/errors"
	"github.com/canonica-labs/fedra/internal/rdf"
)

// Query is a parsed SPARQL SELECT query before source selection.
type Query struct {
	// Raw is the original query text.
	Raw string

	// Prefixes maps declared prefix labels to their namespace IRIs.
	Prefixes map[string]string

	// SelectVars are the projected variables; empty means SELECT *.
	SelectVars []string

	// Distinct reports whether SELECT DISTINCT was requested.
	Distinct bool

	// Where is the query's group graph pattern.
	Where *GroupGraphPattern

	// Limit caps the result rows; negative means no limit.
	Limit int
}

// Vars returns the effective projection: SelectVars, or for SELECT * all
// variables appearing in the where clause.
func (q *Query) Vars() []string {
	if len(q.SelectVars) > 0 {
		return q.SelectVars
	}
	return q.Where.Vars()
}

// GroupGraphPattern is a conjunctive scope: triple patterns interleaved with
// filters, unions and optionals. Exclusive groups never cross its element
// boundaries.
type GroupGraphPattern struct {
	Elements []Element
}

// Vars returns the distinct variables of the group, first occurrence order.
func (g *GroupGraphPattern) Vars() []string {
	var vars []string
	seen := make(map[string]bool)
	add := func(vs []string) {
		for _, v := range vs {
			if !seen[v] {
				seen[v] = true
				vars = append(vars, v)
			}
		}
	}
	for _, el := range g.Elements {
		switch e := el.(type) {
		case *TriplePatternElement:
			add(e.Pattern.Vars())
		case *FilterElement:
			add(e.Condition.FreeVars())
		case *UnionElement:
			for _, alt := range e.Alternatives {
				add(alt.Vars())
			}
		case *OptionalElement:
			add(e.Pattern.Vars())
		case *GroupElement:
			add(e.Group.Vars())
		}
	}
	return vars
}

// TriplePatterns returns the group's directly contained triple patterns.
func (g *GroupGraphPattern) TriplePatterns() []rdf.TriplePattern {
	var pats []rdf.TriplePattern
	for _, el := range g.Elements {
		if tp, ok := el.(*TriplePatternElement); ok {
			pats = append(pats, tp.Pattern)
		}
	}
	return pats
}

// Element is one entry of a group graph pattern.
type Element interface{ element() }

// TriplePatternElement holds a single triple pattern.
type TriplePatternElement struct {
	Pattern rdf.TriplePattern
}

// FilterElement holds a FILTER constraint.
type FilterElement struct {
	Condition algebra.Expr
}

// UnionElement holds two or more UNION alternatives.
type UnionElement struct {
	Alternatives []*GroupGraphPattern
}

// OptionalElement holds an OPTIONAL pattern.
type OptionalElement struct {
	Pattern *GroupGraphPattern
}

// GroupElement holds a nested group.
type GroupElement struct {
	Group *GroupGraphPattern
}

func (*TriplePatternElement) element() {}
func (*FilterElement) element()        {}
func (*UnionElement) element()         {}
func (*OptionalElement) element()      {}
func (*GroupElement) element()         {}

// Parser parses SPARQL query text.
type Parser struct{}

// NewParser creates a new SPARQL parser.
func NewParser() *Parser {
	return &Parser{}
}

// unsupported are query forms and clauses the engine rejects explicitly,
// before any generic parse error can obscure them.
var unsupported = map[string]string{
	"CONSTRUCT": "CONSTRUCT query form",
	"DESCRIBE":  "DESCRIBE query form",
	"ASK":       "ASK query form",
	"INSERT":    "SPARQL Update (INSERT)",
	"DELETE":    "SPARQL Update (DELETE)",
	"SERVICE":   "SERVICE clause",
	"GRAPH":     "GRAPH clause",
	"MINUS":     "MINUS clause",
	"BIND":      "BIND clause",
	"VALUES":    "VALUES clause",
	"ORDER":     "ORDER BY clause",
	"GROUP":     "GROUP BY clause",
	"HAVING":    "HAVING clause",
	"EXISTS":    "EXISTS constraint",
	"FROM":      "FROM dataset clause",
}

type parser struct {
	lex   *lexer
	query string
	tok   token
	q     *Query
}

// Parse parses a SELECT query. Rejections of unsupported constructs are
// explicit and stable.
func (p *Parser) Parse(query string) (*Query, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.NewParse(query, "empty query", -1)
	}

	ps := &parser{lex: newLexer(query), query: query}
	if err := ps.advance(); err != nil {
		return nil, err
	}

	q := &Query{
		Raw:      query,
		Prefixes: make(map[string]string),
		Limit:    -1,
	}
	ps.q = q

	// prologue
	for ps.tok.kind == tokKeyword && (ps.tok.text == "PREFIX" || ps.tok.text == "BASE") {
		if ps.tok.text == "BASE" {
			return nil, errors.NewUnsupportedSyntax("BASE declaration")
		}
		if err := ps.parsePrefix(); err != nil {
			return nil, err
		}
	}

	if ps.tok.kind == tokKeyword {
		if construct, ok := unsupported[ps.tok.text]; ok {
			return nil, errors.NewUnsupportedSyntax(construct)
		}
	}
	if err := ps.expectKeyword("SELECT"); err != nil {
		return nil, err
	}

	if ps.tok.kind == tokKeyword && (ps.tok.text == "DISTINCT" || ps.tok.text == "REDUCED") {
		q.Distinct = true
		if err := ps.advance(); err != nil {
			return nil, err
		}
	}

	// projection
	switch {
	case ps.tok.kind == tokPunct && ps.tok.text == "*":
		if err := ps.advance(); err != nil {
			return nil, err
		}
	case ps.tok.kind == tokVar:
		for ps.tok.kind == tokVar {
			q.SelectVars = append(q.SelectVars, ps.tok.text)
			if err := ps.advance(); err != nil {
				return nil, err
			}
		}
	default:
		return nil, ps.errorf("expected projection variables or '*', got %s", ps.tok)
	}

	// optional WHERE keyword
	if ps.tok.kind == tokKeyword && ps.tok.text == "WHERE" {
		if err := ps.advance(); err != nil {
			return nil, err
		}
	}

	where, err := ps.parseGroup()
	if err != nil {
		return nil, err
	}
	q.Where = where

	// solution modifiers
	for ps.tok.kind == tokKeyword {
		switch ps.tok.text {
		case "LIMIT":
			if err := ps.advance(); err != nil {
				return nil, err
			}
			if ps.tok.kind != tokNumber {
				return nil, ps.errorf("expected number after LIMIT, got %s", ps.tok)
			}
			var n int
			if _, err := fmt.Sscanf(ps.tok.text, "%d", &n); err != nil || n < 0 {
				return nil, ps.errorf("invalid LIMIT %q", ps.tok.text)
			}
			q.Limit = n
			if err := ps.advance(); err != nil {
				return nil, err
			}
		default:
			if construct, ok := unsupported[ps.tok.text]; ok {
				return nil, errors.NewUnsupportedSyntax(construct)
			}
			return nil, ps.errorf("unexpected %s after WHERE clause", ps.tok)
		}
	}

	if ps.tok.kind != tokEOF {
		return nil, ps.errorf("unexpected trailing input: %s", ps.tok)
	}
	if len(q.Where.Elements) == 0 {
		return nil, errors.NewParse(query, "empty WHERE clause", -1)
	}
	return q, nil
}

func (ps *parser) advance() error {
	t, err := ps.lex.next()
	if err != nil {
		return errors.NewParse(ps.query, err.Error(), ps.lex.pos)
	}
	ps.tok = t
	return nil
}

func (ps *parser) errorf(format string, args ...interface{}) error {
	return errors.NewParse(ps.query, fmt.Sprintf(format, args...), ps.tok.pos)
}

func (ps *parser) expectKeyword(kw string) error {
	if ps.tok.kind != tokKeyword || ps.tok.text != kw {
		return ps.errorf("expected %s, got %s", kw, ps.tok)
	}
	return ps.advance()
}

func (ps *parser) expectPunct(p string) error {
	if ps.tok.kind != tokPunct || ps.tok.text != p {
		return ps.errorf("expected %q, got %s", p, ps.tok)
	}
	return ps.advance()
}

func (ps *parser) parsePrefix() error {
	if err := ps.advance(); err != nil { // consume PREFIX
		return err
	}
	if ps.tok.kind != tokPName || !strings.HasSuffix(ps.tok.text, ":") && !strings.Contains(ps.tok.text, ":") {
		return ps.errorf("expected prefix label, got %s", ps.tok)
	}
	label := strings.TrimSuffix(ps.tok.text, ":")
	if i := strings.IndexByte(ps.tok.text, ':'); i >= 0 {
		label = ps.tok.text[:i]
	}
	if err := ps.advance(); err != nil {
		return err
	}
	if ps.tok.kind != tokIRI {
		return ps.errorf("expected namespace IRI, got %s", ps.tok)
	}
	ps.q.Prefixes[label] = ps.tok.text
	return ps.advance()
}

// parseGroup parses '{ ... }'.
func (ps *parser) parseGroup() (*GroupGraphPattern, error) {
	if err := ps.expectPunct("{"); err != nil {
		return nil, err
	}
	group := &GroupGraphPattern{}

	for {
		switch {
		case ps.tok.kind == tokPunct && ps.tok.text == "}":
			if err := ps.advance(); err != nil {
				return nil, err
			}
			return group, nil

		case ps.tok.kind == tokEOF:
			return nil, ps.errorf("unexpected end of input inside group")

		case ps.tok.kind == tokKeyword && ps.tok.text == "FILTER":
			if err := ps.advance(); err != nil {
				return nil, err
			}
			cond, err := ps.parseBracketedExpr()
			if err != nil {
				return nil, err
			}
			group.Elements = append(group.Elements, &FilterElement{Condition: cond})

		case ps.tok.kind == tokKeyword && ps.tok.text == "OPTIONAL":
			if err := ps.advance(); err != nil {
				return nil, err
			}
			inner, err := ps.parseGroup()
			if err != nil {
				return nil, err
			}
			group.Elements = append(group.Elements, &OptionalElement{Pattern: inner})

		case ps.tok.kind == tokPunct && ps.tok.text == "{":
			first, err := ps.parseGroup()
			if err != nil {
				return nil, err
			}
			// either a UNION chain or a plain nested group
			if ps.tok.kind == tokKeyword && ps.tok.text == "UNION" {
				union := &UnionElement{Alternatives: []*GroupGraphPattern{first}}
				for ps.tok.kind == tokKeyword && ps.tok.text == "UNION" {
					if err := ps.advance(); err != nil {
						return nil, err
					}
					alt, err := ps.parseGroup()
					if err != nil {
						return nil, err
					}
					union.Alternatives = append(union.Alternatives, alt)
				}
				group.Elements = append(group.Elements, union)
			} else {
				group.Elements = append(group.Elements, &GroupElement{Group: first})
			}

		case ps.tok.kind == tokKeyword:
			if construct, ok := unsupported[ps.tok.text]; ok {
				return nil, errors.NewUnsupportedSyntax(construct)
			}
			return nil, ps.errorf("unexpected keyword %s inside group", ps.tok)

		case ps.tok.kind == tokPunct && ps.tok.text == ".":
			if err := ps.advance(); err != nil {
				return nil, err
			}

		default:
			if err := ps.parseTriples(group); err != nil {
				return nil, err
			}
		}
	}
}

// parseTriples parses subject predicate object with ';' and ',' lists.
func (ps *parser) parseTriples(group *GroupGraphPattern) error {
	subj, err := ps.parseTerm(false)
	if err != nil {
		return err
	}

	for {
		pred, err := ps.parseTerm(true)
		if err != nil {
			return err
		}
		for {
			obj, err := ps.parseTerm(false)
			if err != nil {
				return err
			}
			// fully ground patterns are legal too; they degenerate to an
			// existence check during evaluation
			pat := rdf.TriplePattern{Subject: subj, Predicate: pred, Object: obj}
			group.Elements = append(group.Elements, &TriplePatternElement{Pattern: pat})
			if ps.tok.kind == tokPunct && ps.tok.text == "," {
				if err := ps.advance(); err != nil {
					return err
				}
				continue
			}
			break
		}
		if ps.tok.kind == tokPunct && ps.tok.text == ";" {
			if err := ps.advance(); err != nil {
				return err
			}
			// allow trailing ';' before '.' or '}'
			if ps.tok.kind == tokPunct && (ps.tok.text == "." || ps.tok.text == "}") {
				break
			}
			continue
		}
		break
	}

	if ps.tok.kind == tokPunct && ps.tok.text == "." {
		return ps.advance()
	}
	return nil
}

// parseTerm parses one RDF term. In predicate position the 'a' shorthand
// expands to rdf:type and literals are rejected.
func (ps *parser) parseTerm(predicate bool) (rdf.Term, error) {
	switch ps.tok.kind {
	case tokVar:
		t := rdf.NewVariable(ps.tok.text)
		return t, ps.advance()

	case tokIRI:
		t := rdf.NewIRI(ps.tok.text)
		return t, ps.advance()

	case tokA:
		if !predicate {
			return rdf.Term{}, ps.errorf("'a' is only valid in predicate position")
		}
		t := rdf.NewIRI("http://www.w3.org/1999/02/22-rdf-syntax-ns#type")
		return t, ps.advance()

	case tokPName:
		iri, err := ps.expandPName(ps.tok.text)
		if err != nil {
			return rdf.Term{}, err
		}
		t := rdf.NewIRI(iri)
		return t, ps.advance()

	case tokString:
		if predicate {
			return rdf.Term{}, ps.errorf("literal not allowed in predicate position")
		}
		lexical := ps.tok.text
		if err := ps.advance(); err != nil {
			return rdf.Term{}, err
		}
		switch ps.tok.kind {
		case tokLangTag:
			t := rdf.NewLangLiteral(lexical, ps.tok.text)
			return t, ps.advance()
		case tokDatatype:
			if err := ps.advance(); err != nil {
				return rdf.Term{}, err
			}
			var dt string
			switch ps.tok.kind {
			case tokIRI:
				dt = ps.tok.text
			case tokPName:
				var err error
				dt, err = ps.expandPName(ps.tok.text)
				if err != nil {
					return rdf.Term{}, err
				}
			default:
				return rdf.Term{}, ps.errorf("expected datatype IRI, got %s", ps.tok)
			}
			t := rdf.NewTypedLiteral(lexical, dt)
			return t, ps.advance()
		default:
			return rdf.NewLiteral(lexical), nil
		}

	case tokNumber:
		if predicate {
			return rdf.Term{}, ps.errorf("literal not allowed in predicate position")
		}
		dt := rdf.XSDInteger
		if strings.Contains(ps.tok.text, ".") {
			dt = rdf.XSDDecimal
		}
		t := rdf.NewTypedLiteral(ps.tok.text, dt)
		return t, ps.advance()

	case tokKeyword:
		if ps.tok.text == "TRUE" || ps.tok.text == "FALSE" {
			t := rdf.NewTypedLiteral(strings.ToLower(ps.tok.text), rdf.XSDBoolean)
			return t, ps.advance()
		}
		if construct, ok := unsupported[ps.tok.text]; ok {
			return rdf.Term{}, errors.NewUnsupportedSyntax(construct)
		}
		return rdf.Term{}, ps.errorf("unexpected keyword %s in triple pattern", ps.tok)

	default:
		return rdf.Term{}, ps.errorf("expected RDF term, got %s", ps.tok)
	}
}

func (ps *parser) expandPName(pname string) (string, error) {
	i := strings.IndexByte(pname, ':')
	if i < 0 {
		return "", ps.errorf("invalid prefixed name %q", pname)
	}
	prefix, local := pname[:i], pname[i+1:]
	ns, ok := ps.q.Prefixes[prefix]
	if !ok {
		return "", errors.NewParse(ps.query, fmt.Sprintf("undeclared prefix %q", prefix), ps.tok.pos)
	}
	return ns + local, nil
}
