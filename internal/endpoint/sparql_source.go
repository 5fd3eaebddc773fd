package endpoint

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fako1024/httpc"
	jsoniter "github.com/json-iterator/go"

	"github.com/canonica-labs/fedra/internal/algebra"
	"github.com/canonica-labs/fedra/internal/errors"
	"github.com/canonica-labs/fedra/internal/rdf"
	"github.com/canonica-labs/fedra/internal/sparql"
)

const (
	sparqlResultsJSON = "application/sparql-results+json"
	formURLEncoded    = "application/x-www-form-urlencoded"
)

// SparqlSourceConfig configures a remote SPARQL source.
type SparqlSourceConfig struct {
	// SupportsAsk selects the probe form; endpoints without ASK support
	// are probed via SELECT ... LIMIT 1.
	SupportsAsk bool

	// RequestTimeout bounds individual requests; zero means no bound.
	RequestTimeout time.Duration

	// RemoteMaxQueryTime is passed to the endpoint as the 'timeout'
	// protocol parameter; zero omits it.
	RemoteMaxQueryTime time.Duration

	// BufferCapacity sizes the consuming buffer; zero uses the default.
	BufferCapacity int
}

// SparqlSource speaks the SPARQL 1.1 protocol to one remote member.
// Result streams are wrapped in a consuming buffer that drains the
// connection eagerly, so slow consumers do not starve the pool.
type SparqlSource struct {
	endpointID string
	url        string
	client     *http.Client
	cfg        SparqlSourceConfig
}

// NewSparqlSource creates a source for the given endpoint URL.
func NewSparqlSource(endpointID, endpointURL string, client *http.Client, cfg SparqlSourceConfig) *SparqlSource {
	return &SparqlSource{
		endpointID: endpointID,
		url:        endpointURL,
		client:     client,
		cfg:        cfg,
	}
}

// UsesPreparedQuery implements TripleSource: remote members take SPARQL text.
func (s *SparqlSource) UsesPreparedQuery() bool { return true }

// Kind implements TripleSource.
func (s *SparqlSource) Kind() algebra.SourceKind { return algebra.SourceRemote }

// Close implements TripleSource.
func (s *SparqlSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// Evaluate implements TripleSource. The returned stream owns the HTTP
// connection and frees it on close or exhaustion.
func (s *SparqlSource) Evaluate(ctx context.Context, q *PreparedQuery, bindings rdf.BindingSet) (BindingStream, error) {
	text := q.Text
	if text == "" {
		text = sparql.RenderSelect(q.Patterns, q.Filters, bindings)
	}

	buf := NewConsumingBuffer(ctx, s.cfg.BufferCapacity,
		func(ctx context.Context, emit func(rdf.BindingSet) error) error {
			// repair only helps before rows were handed out; a retry after
			// partial emission would duplicate them
			emitted := 0
			counting := func(row rdf.BindingSet) error {
				emitted++
				return emit(row)
			}
			err := s.runSelect(ctx, text, counting)
			if err == nil || ctx.Err() != nil || emitted > 0 {
				if err != nil && ctx.Err() == nil {
					return errors.NewEvaluation(s.endpointID, "remote query failed", err)
				}
				return err
			}
			// single connection repair: drop idle connections, retry once
			s.client.CloseIdleConnections()
			if err := s.runSelect(ctx, text, emit); err != nil {
				return errors.NewEvaluation(s.endpointID, "remote query failed after connection repair", err)
			}
			return nil
		},
		nil,
	)
	return buf, nil
}

// Ask implements TripleSource.
func (s *SparqlSource) Ask(ctx context.Context, pattern rdf.TriplePattern, bindings rdf.BindingSet) (bool, error) {
	if s.cfg.SupportsAsk {
		var res struct {
			Boolean bool `json:"boolean"`
		}
		err := s.withRepair(ctx, func() error {
			return s.newRequest(sparql.RenderAsk(pattern, bindings)).
				ParseJSON(&res).
				RunWithContext(ctx)
		})
		if err != nil {
			return false, errors.NewEvaluation(s.endpointID, "ASK probe failed", err)
		}
		return res.Boolean, nil
	}

	// fallback probe for endpoints without ASK support
	found := false
	err := s.withRepair(ctx, func() error {
		found = false
		return s.runSelect(ctx, sparql.RenderAskAsSelect(pattern, bindings), func(rdf.BindingSet) error {
			found = true
			return nil
		})
	})
	if err != nil {
		return false, errors.NewEvaluation(s.endpointID, "probe query failed", err)
	}
	return found, nil
}

// GetStatements implements TripleSource by evaluating the corresponding
// triple pattern and materialising statements from the rows.
func (s *SparqlSource) GetStatements(ctx context.Context, subj, pred, obj rdf.Term) (StatementStream, error) {
	pattern := lookupPattern(subj, pred, obj)
	rows, err := s.Evaluate(ctx, &PreparedQuery{Patterns: []rdf.TriplePattern{pattern}}, nil)
	if err != nil {
		return nil, err
	}
	return &patternStatementStream{pattern: pattern, rows: rows}, nil
}

// runSelect executes one SELECT request and streams its rows into emit.
func (s *SparqlSource) runSelect(ctx context.Context, query string, emit func(rdf.BindingSet) error) error {
	var parseErr error
	req := s.newRequest(query).
		ParseFn(func(resp *http.Response) error {
			parseErr = parseSelectJSON(resp.Body, emit)
			return parseErr
		})
	if err := req.RunWithContext(ctx); err != nil {
		if parseErr != nil {
			return parseErr
		}
		return err
	}
	return nil
}

// newRequest builds the protocol request: POST with the query form-encoded
// in the body, JSON results requested.
func (s *SparqlSource) newRequest(query string) *httpc.Request {
	form := url.Values{"query": {query}}
	if s.cfg.RemoteMaxQueryTime > 0 {
		form.Set("timeout", strconv.Itoa(int(s.cfg.RemoteMaxQueryTime.Seconds())))
	}

	req := httpc.NewWithClient(http.MethodPost, s.url, s.client).
		Headers(httpc.Params{
			"Accept":       sparqlResultsJSON,
			"Content-Type": formURLEncoded,
		}).
		Body([]byte(form.Encode()))
	if s.cfg.RequestTimeout > 0 {
		req = req.Timeout(s.cfg.RequestTimeout)
	}
	return req
}

// withRepair runs fn and, on failure, performs a single connection repair
// (drop idle connections, reopen on next request) before retrying once.
// Context cancellation is never retried.
func (s *SparqlSource) withRepair(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.client.CloseIdleConnections()
	if retryErr := fn(); retryErr == nil {
		return nil
	}
	return errors.NewEvaluation(s.endpointID, "request failed after connection repair", err)
}

// parseSelectJSON streams rows out of a SPARQL JSON results document.
func parseSelectJSON(r io.Reader, emit func(rdf.BindingSet) error) error {
	iter := jsoniter.Parse(jsoniter.ConfigCompatibleWithStandardLibrary, r, 4096)

	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		switch field {
		case "results":
			for sub := iter.ReadObject(); sub != ""; sub = iter.ReadObject() {
				if sub != "bindings" {
					iter.Skip()
					continue
				}
				for iter.ReadArray() {
					row := rdf.BindingSet{}
					for name := iter.ReadObject(); name != ""; name = iter.ReadObject() {
						term, err := readJSONTerm(iter)
						if err != nil {
							return err
						}
						row[name] = term
					}
					if iter.Error != nil && iter.Error != io.EOF {
						return iter.Error
					}
					if err := emit(row); err != nil {
						return err
					}
				}
			}
		default:
			iter.Skip()
		}
	}

	if iter.Error != nil && iter.Error != io.EOF {
		return fmt.Errorf("parsing SPARQL results: %w", iter.Error)
	}
	return nil
}

// readJSONTerm decodes one term object of the results document.
func readJSONTerm(iter *jsoniter.Iterator) (rdf.Term, error) {
	var typ, value, datatype, lang string
	for f := iter.ReadObject(); f != ""; f = iter.ReadObject() {
		switch f {
		case "type":
			typ = iter.ReadString()
		case "value":
			value = iter.ReadString()
		case "datatype":
			datatype = iter.ReadString()
		case "xml:lang":
			lang = iter.ReadString()
		default:
			iter.Skip()
		}
	}
	switch typ {
	case "uri":
		return rdf.NewIRI(value), nil
	case "bnode":
		return rdf.NewBNode(value), nil
	case "literal", "typed-literal":
		switch {
		case lang != "":
			return rdf.NewLangLiteral(value, lang), nil
		case datatype != "":
			return rdf.NewTypedLiteral(value, datatype), nil
		default:
			return rdf.NewLiteral(value), nil
		}
	default:
		return rdf.Term{}, fmt.Errorf("unknown term type %q in results", typ)
	}
}

// lookupPattern builds the pattern for a getStatements call, substituting
// fresh variables for unbound slots.
func lookupPattern(subj, pred, obj rdf.Term) rdf.TriplePattern {
	orVar := func(t rdf.Term, name string) rdf.Term {
		if t.Kind == rdf.KindVariable || t == (rdf.Term{}) {
			return rdf.NewVariable(name)
		}
		return t
	}
	return rdf.TriplePattern{
		Subject:   orVar(subj, "s"),
		Predicate: orVar(pred, "p"),
		Object:    orVar(obj, "o"),
	}
}

// patternStatementStream converts solution rows back into statements.
type patternStatementStream struct {
	pattern rdf.TriplePattern
	rows    BindingStream
}

func (st *patternStatementStream) Next(ctx context.Context) (*rdf.Statement, error) {
	row, err := st.rows.Next(ctx)
	if err != nil || row == nil {
		return nil, err
	}
	applied := st.pattern.Apply(row)
	return &rdf.Statement{
		Subject:   applied.Subject,
		Predicate: applied.Predicate,
		Object:    applied.Object,
	}, nil
}

func (st *patternStatementStream) Close() error {
	return st.rows.Close()
}
