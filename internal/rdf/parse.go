package rdf

import (
	"fmt"
	"strings"
)

// ParseTerm parses a term from its canonical surface form, the inverse of
// Term.String. Variables parse from their ?name form.
func ParseTerm(s string) (Term, error) {
	switch {
	case strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") && len(s) >= 2:
		return NewIRI(s[1 : len(s)-1]), nil

	case strings.HasPrefix(s, "_:"):
		return NewBNode(s[2:]), nil

	case strings.HasPrefix(s, "?") && len(s) > 1:
		return NewVariable(s[1:]), nil

	case strings.HasPrefix(s, `"`):
		end := closingQuote(s)
		if end < 0 {
			return Term{}, fmt.Errorf("malformed literal %q", s)
		}
		lexical := unescapeLiteral(s[1:end])
		rest := s[end+1:]
		switch {
		case rest == "":
			return NewLiteral(lexical), nil
		case strings.HasPrefix(rest, "@") && len(rest) > 1:
			return NewLangLiteral(lexical, rest[1:]), nil
		case strings.HasPrefix(rest, "^^<") && strings.HasSuffix(rest, ">"):
			return NewTypedLiteral(lexical, rest[3:len(rest)-1]), nil
		default:
			return Term{}, fmt.Errorf("malformed literal suffix %q", rest)
		}

	default:
		return Term{}, fmt.Errorf("unrecognised term %q", s)
	}
}

// closingQuote finds the index of the unescaped closing quote.
func closingQuote(s string) int {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

func unescapeLiteral(s string) string {
	r := strings.NewReplacer(
		`\n`, "\n",
		`\r`, "\r",
		`\t`, "\t",
		`\"`, `"`,
		`\\`, `\`,
	)
	return r.Replace(s)
}
