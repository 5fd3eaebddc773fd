package results

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/canonica-labs/fedra/internal/rdf"
)

// writeTSV streams the SPARQL TSV results format: a header of ?var names
// followed by one row per line, terms in their surface syntax.
func writeTSV(ctx context.Context, w io.Writer, vars []string, rows RowSource) error {
	bw := bufio.NewWriter(w)

	header := make([]string, len(vars))
	for i, v := range vars {
		header[i] = "?" + v
	}
	if _, err := bw.WriteString(strings.Join(header, "\t") + "\n"); err != nil {
		return err
	}

	for {
		row, err := rows.Next(ctx)
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
		fields := make([]string, len(vars))
		for i, v := range vars {
			if t, ok := row[v]; ok {
				fields[i] = t.String()
			}
		}
		if _, err := bw.WriteString(strings.Join(fields, "\t") + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// readTSV parses the TSV results format.
func readTSV(r io.Reader) ([]string, []rdf.BindingSet, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("empty TSV document")
	}

	var vars []string
	for _, h := range strings.Split(scanner.Text(), "\t") {
		vars = append(vars, strings.TrimPrefix(strings.TrimSpace(h), "?"))
	}

	var rows []rdf.BindingSet
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		row := rdf.BindingSet{}
		for i, f := range fields {
			if i >= len(vars) || f == "" {
				continue
			}
			t, err := rdf.ParseTerm(f)
			if err != nil {
				return nil, nil, fmt.Errorf("line %d: %w", len(rows)+2, err)
			}
			row[vars[i]] = t
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return vars, rows, nil
}
