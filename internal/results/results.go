// Package results serializes federated query results into the SPARQL
// result formats (JSON, XML, TSV) and parses them back.
package results

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/canonica-labs/fedra/internal/errors"
	"github.com/canonica-labs/fedra/internal/rdf"
)

// Format identifies a result serialization.
type Format string

const (
	FormatJSON Format = "JSON"
	FormatXML  Format = "XML"
	FormatTSV  Format = "TSV"
)

// ParseFormat parses a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "JSON":
		return FormatJSON, nil
	case "XML":
		return FormatXML, nil
	case "TSV":
		return FormatTSV, nil
	default:
		return "", errors.NewConfig("format", fmt.Sprintf("unknown result format %q (JSON, XML, TSV)", s))
	}
}

// Extension returns the conventional file extension.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatXML:
		return "xml"
	default:
		return "tsv"
	}
}

// RowSource is the minimal row stream the writers consume.
type RowSource interface {
	Next(ctx context.Context) (rdf.BindingSet, error)
}

// Write streams all rows from the source into w using the format.
func Write(ctx context.Context, w io.Writer, f Format, vars []string, rows RowSource) error {
	switch f {
	case FormatJSON:
		return writeJSON(ctx, w, vars, rows)
	case FormatXML:
		return writeXML(ctx, w, vars, rows)
	case FormatTSV:
		return writeTSV(ctx, w, vars, rows)
	default:
		return errors.NewConfig("format", fmt.Sprintf("unknown result format %q", string(f)))
	}
}

// Read parses a serialized result document back into variables and rows.
func Read(r io.Reader, f Format) ([]string, []rdf.BindingSet, error) {
	switch f {
	case FormatJSON:
		return readJSON(r)
	case FormatXML:
		return readXML(r)
	case FormatTSV:
		return readTSV(r)
	default:
		return nil, nil, errors.NewConfig("format", fmt.Sprintf("unknown result format %q", string(f)))
	}
}

// sliceSource adapts a row slice to RowSource.
type sliceSource struct {
	rows []rdf.BindingSet
	idx  int
}

// NewSliceSource wraps rows as a RowSource.
func NewSliceSource(rows []rdf.BindingSet) RowSource {
	return &sliceSource{rows: rows}
}

func (s *sliceSource) Next(ctx context.Context) (rdf.BindingSet, error) {
	if s.idx >= len(s.rows) {
		return nil, nil
	}
	row := s.rows[s.idx]
	s.idx++
	return row, nil
}
