package results

import (
	"context"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/canonica-labs/fedra/internal/rdf"
)

// jsonTerm is one term object of the SPARQL JSON results format.
type jsonTerm struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Lang     string `json:"xml:lang,omitempty"`
	Datatype string `json:"datatype,omitempty"`
}

func termToJSON(t rdf.Term) jsonTerm {
	switch t.Kind {
	case rdf.KindIRI:
		return jsonTerm{Type: "uri", Value: t.Value}
	case rdf.KindBNode:
		return jsonTerm{Type: "bnode", Value: t.Value}
	default:
		return jsonTerm{Type: "literal", Value: t.Value, Lang: t.Language, Datatype: t.Datatype}
	}
}

func termFromJSON(jt jsonTerm) (rdf.Term, error) {
	switch jt.Type {
	case "uri":
		return rdf.NewIRI(jt.Value), nil
	case "bnode":
		return rdf.NewBNode(jt.Value), nil
	case "literal", "typed-literal":
		switch {
		case jt.Lang != "":
			return rdf.NewLangLiteral(jt.Value, jt.Lang), nil
		case jt.Datatype != "":
			return rdf.NewTypedLiteral(jt.Value, jt.Datatype), nil
		default:
			return rdf.NewLiteral(jt.Value), nil
		}
	default:
		return rdf.Term{}, fmt.Errorf("unknown term type %q", jt.Type)
	}
}

// writeJSON streams the SPARQL JSON results document.
func writeJSON(ctx context.Context, w io.Writer, vars []string, rows RowSource) error {
	stream := jsoniter.ConfigCompatibleWithStandardLibrary.BorrowStream(w)
	defer jsoniter.ConfigCompatibleWithStandardLibrary.ReturnStream(stream)

	stream.WriteObjectStart()
	stream.WriteObjectField("head")
	stream.WriteObjectStart()
	stream.WriteObjectField("vars")
	stream.WriteArrayStart()
	for i, v := range vars {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteString(v)
	}
	stream.WriteArrayEnd()
	stream.WriteObjectEnd()
	stream.WriteMore()

	stream.WriteObjectField("results")
	stream.WriteObjectStart()
	stream.WriteObjectField("bindings")
	stream.WriteArrayStart()

	first := true
	for {
		row, err := rows.Next(ctx)
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
		if !first {
			stream.WriteMore()
		}
		first = false
		stream.WriteVal(rowToJSON(row))
		if err := stream.Flush(); err != nil {
			return err
		}
	}

	stream.WriteArrayEnd()
	stream.WriteObjectEnd()
	stream.WriteObjectEnd()
	if err := stream.Flush(); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n"))
	return err
}

func rowToJSON(row rdf.BindingSet) map[string]jsonTerm {
	out := make(map[string]jsonTerm, len(row))
	for name, t := range row {
		out[name] = termToJSON(t)
	}
	return out
}

// readJSON parses a SPARQL JSON results document.
func readJSON(r io.Reader) ([]string, []rdf.BindingSet, error) {
	var doc struct {
		Head struct {
			Vars []string `json:"vars"`
		} `json:"head"`
		Results struct {
			Bindings []map[string]jsonTerm `json:"bindings"`
		} `json:"results"`
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(r).Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("parsing JSON results: %w", err)
	}

	rows := make([]rdf.BindingSet, 0, len(doc.Results.Bindings))
	for _, b := range doc.Results.Bindings {
		row := make(rdf.BindingSet, len(b))
		for name, jt := range b {
			t, err := termFromJSON(jt)
			if err != nil {
				return nil, nil, err
			}
			row[name] = t
		}
		rows = append(rows, row)
	}
	return doc.Head.Vars, rows, nil
}
