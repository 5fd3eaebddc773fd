package endpoint

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/canonica-labs/fedra/internal/algebra"
	"github.com/canonica-labs/fedra/internal/config"
	"github.com/canonica-labs/fedra/internal/errors"
)

// Endpoint is one federation member: immutable identity plus mutable
// runtime state. Endpoints are created by the factory, initialized before
// first use and shared by all queries until shutdown.
type Endpoint struct {
	ID       string
	Name     string
	Type     config.MemberType
	Location string

	opener func(ctx context.Context) (TripleSource, error)

	mu          sync.Mutex
	initialized bool
	source      TripleSource
	writable    bool
}

// Options configure endpoint construction.
type Options struct {
	// HTTPClient is shared by all remote members; nil uses a client with
	// the default transport.
	HTTPClient *http.Client

	// RequestTimeout bounds individual remote requests.
	RequestTimeout time.Duration

	// RemoteMaxQueryTime is the remote-side execution upper bound passed
	// through the SPARQL protocol; zero omits it.
	RemoteMaxQueryTime time.Duration
}

// NewFromMember builds an endpoint from its member description.
func NewFromMember(m config.Member, opts Options) (*Endpoint, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	e := &Endpoint{
		ID:       m.ID,
		Name:     m.Name,
		Type:     m.Type,
		Location: m.Location,
		writable: m.Writable,
	}

	switch m.Type {
	case config.MemberSparqlEndpoint, config.MemberRemoteRepository:
		supportsAsk := m.SupportsAsk()
		e.opener = func(ctx context.Context) (TripleSource, error) {
			return NewSparqlSource(e.ID, m.Location, client, SparqlSourceConfig{
				SupportsAsk:        supportsAsk,
				RequestTimeout:     opts.RequestTimeout,
				RemoteMaxQueryTime: opts.RemoteMaxQueryTime,
			}), nil
		}

	case config.MemberRemoteResolvable:
		e.opener = func(ctx context.Context) (TripleSource, error) {
			resolved, err := resolveLocation(ctx, client, m.Location)
			if err != nil {
				return nil, err
			}
			return NewSparqlSource(e.ID, resolved, client, SparqlSourceConfig{
				SupportsAsk:        m.SupportsAsk(),
				RequestTimeout:     opts.RequestTimeout,
				RemoteMaxQueryTime: opts.RemoteMaxQueryTime,
			}), nil
		}

	case config.MemberNativeStore:
		e.opener = func(ctx context.Context) (TripleSource, error) {
			return OpenNativeStore(ctx, e.ID, m.Location)
		}

	default:
		return nil, errors.NewConfig("members.type", fmt.Sprintf("unknown member type %q", m.Type))
	}
	return e, nil
}

// NewWithSource creates an endpoint wrapping an existing triple source,
// for members whose source is constructed by the embedding application.
func NewWithSource(id, name string, typ config.MemberType, src TripleSource) *Endpoint {
	return &Endpoint{
		ID:       id,
		Name:     name,
		Type:     typ,
		Location: "embedded",
		opener: func(context.Context) (TripleSource, error) {
			return src, nil
		},
	}
}

// resolveLocation follows redirects of the configured location and returns
// the final URL, which is then used as the member's SPARQL endpoint.
func resolveLocation(ctx context.Context, client *http.Client, location string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", errors.NewConfig("members.location", err.Error())
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", errors.NewEvaluation("", fmt.Sprintf("resolving %s", location), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", errors.NewEvaluation("",
			fmt.Sprintf("resolving %s: status %d", location, resp.StatusCode), nil)
	}
	return resp.Request.URL.String(), nil
}

// Initialize opens the member's underlying connection. It is idempotent.
func (e *Endpoint) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}
	src, err := e.opener(ctx)
	if err != nil {
		return errors.NewEvaluation(e.ID, "initializing member", err)
	}
	e.source = src
	e.initialized = true
	return nil
}

// Initialized reports whether the endpoint has been initialized.
func (e *Endpoint) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// TripleSource returns the member's triple source. The endpoint must be
// initialized.
func (e *Endpoint) TripleSource() (TripleSource, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.source == nil {
		return nil, errors.NewEvaluation(e.ID, "member not initialized", nil)
	}
	return e.source, nil
}

// SourceKind reports whether the member answers locally or over the wire.
func (e *Endpoint) SourceKind() algebra.SourceKind {
	if e.Type == config.MemberNativeStore {
		return algebra.SourceLocal
	}
	return algebra.SourceRemote
}

// Writable reports whether the member accepts writes.
func (e *Endpoint) Writable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writable
}

// Shutdown releases the member's connection. It is idempotent.
func (e *Endpoint) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil
	}
	e.initialized = false
	src := e.source
	e.source = nil
	if src == nil {
		return nil
	}
	if err := src.Close(); err != nil {
		return errors.NewEvaluation(e.ID, "shutting down member", err)
	}
	return nil
}

func (e *Endpoint) String() string {
	return fmt.Sprintf("%s[%s, %s]", e.ID, e.Type, e.Location)
}
