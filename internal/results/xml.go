package results

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/canonica-labs/fedra/internal/rdf"
)

// XML element shapes of the SPARQL Query Results XML Format.

type xmlSparql struct {
	XMLName xml.Name   `xml:"http://www.w3.org/2005/sparql-results# sparql"`
	Head    xmlHead    `xml:"head"`
	Results xmlResults `xml:"results"`
}

type xmlHead struct {
	Variables []xmlVariable `xml:"variable"`
}

type xmlVariable struct {
	Name string `xml:"name,attr"`
}

type xmlResults struct {
	Results []xmlResult `xml:"result"`
}

type xmlResult struct {
	Bindings []xmlBinding `xml:"binding"`
}

type xmlBinding struct {
	Name    string      `xml:"name,attr"`
	URI     *string     `xml:"uri,omitempty"`
	BNode   *string     `xml:"bnode,omitempty"`
	Literal *xmlLiteral `xml:"literal,omitempty"`
}

type xmlLiteral struct {
	Lang     string `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Datatype string `xml:"datatype,attr,omitempty"`
	Value    string `xml:",chardata"`
}

func bindingToXML(name string, t rdf.Term) xmlBinding {
	b := xmlBinding{Name: name}
	switch t.Kind {
	case rdf.KindIRI:
		v := t.Value
		b.URI = &v
	case rdf.KindBNode:
		v := t.Value
		b.BNode = &v
	default:
		b.Literal = &xmlLiteral{Value: t.Value, Lang: t.Language, Datatype: t.Datatype}
	}
	return b
}

func bindingFromXML(b xmlBinding) (rdf.Term, error) {
	switch {
	case b.URI != nil:
		return rdf.NewIRI(*b.URI), nil
	case b.BNode != nil:
		return rdf.NewBNode(*b.BNode), nil
	case b.Literal != nil:
		switch {
		case b.Literal.Lang != "":
			return rdf.NewLangLiteral(b.Literal.Value, b.Literal.Lang), nil
		case b.Literal.Datatype != "":
			return rdf.NewTypedLiteral(b.Literal.Value, b.Literal.Datatype), nil
		default:
			return rdf.NewLiteral(b.Literal.Value), nil
		}
	default:
		return rdf.Term{}, fmt.Errorf("binding %q carries no term", b.Name)
	}
}

// writeXML materialises the document; the XML format has no streaming
// advantage worth a hand-rolled encoder.
func writeXML(ctx context.Context, w io.Writer, vars []string, rows RowSource) error {
	doc := xmlSparql{}
	for _, v := range vars {
		doc.Head.Variables = append(doc.Head.Variables, xmlVariable{Name: v})
	}

	for {
		row, err := rows.Next(ctx)
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
		res := xmlResult{}
		for _, v := range row.Vars() {
			res.Bindings = append(res.Bindings, bindingToXML(v, row[v]))
		}
		doc.Results.Results = append(doc.Results.Results, res)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding XML results: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// readXML parses a SPARQL XML results document.
func readXML(r io.Reader) ([]string, []rdf.BindingSet, error) {
	var doc xmlSparql
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("parsing XML results: %w", err)
	}

	vars := make([]string, 0, len(doc.Head.Variables))
	for _, v := range doc.Head.Variables {
		vars = append(vars, v.Name)
	}

	rows := make([]rdf.BindingSet, 0, len(doc.Results.Results))
	for _, res := range doc.Results.Results {
		row := make(rdf.BindingSet, len(res.Bindings))
		for _, b := range res.Bindings {
			t, err := bindingFromXML(b)
			if err != nil {
				return nil, nil, err
			}
			row[b.Name] = t
		}
		rows = append(rows, row)
	}
	return vars, rows, nil
}
