package endpoint

import (
	"context"
	"sync"

	"github.com/els0r/telemetry/logging"

	"github.com/canonica-labs/fedra/internal/config"
	"github.com/canonica-labs/fedra/internal/errors"
)

// Registry holds the federation members. It is read-mostly: members are
// registered at startup and shared by all queries.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	order     []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[string]*Endpoint)}
}

// NewRegistryFromMembers builds endpoints for all configured members.
func NewRegistryFromMembers(ms *Members, opts Options) (*Registry, error) {
	r := NewRegistry()
	for _, m := range ms.Members {
		e, err := NewFromMember(m, opts)
		if err != nil {
			return nil, err
		}
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Members aliases the configured members list.
type Members = config.Members

// Register adds a member; duplicate ids are rejected.
func (r *Registry) Register(e *Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[e.ID]; ok {
		return errors.NewConfig("members.id", "duplicate member id "+e.ID)
	}
	r.endpoints[e.ID] = e
	r.order = append(r.order, e.ID)
	return nil
}

// Get retrieves a member by id.
func (r *Registry) Get(id string) (*Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.endpoints[id]
	if !ok {
		return nil, errors.NewMemberNotFound(id)
	}
	return e, nil
}

// List returns all members in registration order.
func (r *Registry) List() []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Endpoint, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.endpoints[id])
	}
	return out
}

// Len returns the number of registered members.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

// InitializeAll initializes every member, failing on the first error.
func (r *Registry) InitializeAll(ctx context.Context) error {
	for _, e := range r.List() {
		if err := e.Initialize(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ShutdownAll shuts down every member. Errors are logged and the first
// one is returned after all members were attempted.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	var firstErr error
	for _, e := range r.List() {
		if err := e.Shutdown(ctx); err != nil {
			logger.With("member", e.ID, "error", err).Error("member shutdown failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
