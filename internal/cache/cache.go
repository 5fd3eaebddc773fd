// Package cache implements the source selection cache: for each normalised
// subquery it records, per federation member, whether that member is known
// to hold matching statements.
package cache

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/canonica-labs/fedra/internal/errors"
	"github.com/canonica-labs/fedra/internal/rdf"
)

// Assurance is the cache's knowledge about an (endpoint, subquery) pair.
type Assurance int

const (
	// None means a probe returned no results; the member is skipped.
	None Assurance = iota
	// PossiblyHasStatements means the pair has not been probed yet.
	PossiblyHasStatements
	// HasLocalStatements means a co-located store holds results.
	HasLocalStatements
	// HasRemoteStatements means a probe confirmed results over the wire.
	HasRemoteStatements
)

func (a Assurance) String() string {
	switch a {
	case None:
		return "NONE"
	case PossiblyHasStatements:
		return "POSSIBLY_HAS_STATEMENTS"
	case HasLocalStatements:
		return "HAS_LOCAL_STATEMENTS"
	case HasRemoteStatements:
		return "HAS_REMOTE_STATEMENTS"
	default:
		return fmt.Sprintf("Assurance(%d)", int(a))
	}
}

// IsPositive reports whether the assurance confirms available statements.
func (a Assurance) IsPositive() bool {
	return a == HasLocalStatements || a == HasRemoteStatements
}

// entry holds the per-endpoint assurances of one subquery.
type entry struct {
	mu         sync.RWMutex
	assurances map[string]Assurance
}

func (e *entry) get(endpointID string) Assurance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.assurances[endpointID]
	if !ok {
		return PossiblyHasStatements
	}
	return a
}

// update applies the monotonicity rule: a definite positive is never
// downgraded to None.
func (e *entry) update(endpointID string, a Assurance) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.assurances[endpointID]; ok && existing.IsPositive() && a == None {
		return
	}
	e.assurances[endpointID] = a
}

// SourceSelectionCache maps subquery keys to per-endpoint assurances.
// Implementations must be safe for concurrent use.
type SourceSelectionCache interface {
	// CanProvideStatements returns the stored assurance, or
	// PossiblyHasStatements when the pair is unknown.
	CanProvideStatements(key rdf.SubQueryKey, endpointID string) Assurance

	// UpdateEntry records a probe outcome. Local data yields
	// HasLocalStatements; remote probes yield HasRemoteStatements or None.
	UpdateEntry(key rdf.SubQueryKey, endpointID string, hasResults, local bool)

	// Clear drops all entries.
	Clear()

	// Len returns the number of distinct subquery keys held.
	Len() int
}

// New builds a cache from its spec string: "unbounded" (or empty) for the
// default map-backed cache, "lru:<n>" for a size-capped LRU.
func New(spec string) (SourceSelectionCache, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "" || spec == "unbounded":
		return NewUnbounded(), nil
	case strings.HasPrefix(spec, "lru:"):
		n, err := strconv.Atoi(strings.TrimPrefix(spec, "lru:"))
		if err != nil || n <= 0 {
			return nil, errors.NewConfig("sourceSelectionCacheSpec",
				fmt.Sprintf("invalid LRU size in %q", spec))
		}
		return NewLRU(n)
	default:
		return nil, errors.NewConfig("sourceSelectionCacheSpec",
			fmt.Sprintf("unknown cache spec %q", spec))
	}
}

// Unbounded is the default cache: a per-instance map with no eviction,
// memory-bounded by the number of distinct subqueries seen.
type Unbounded struct {
	mu      sync.RWMutex
	entries map[rdf.SubQueryKey]*entry
}

// NewUnbounded creates an unbounded cache.
func NewUnbounded() *Unbounded {
	return &Unbounded{entries: make(map[rdf.SubQueryKey]*entry)}
}

func (c *Unbounded) lookup(key rdf.SubQueryKey, create bool) *entry {
	c.mu.RLock()
	e := c.entries[key]
	c.mu.RUnlock()
	if e != nil || !create {
		return e
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e = c.entries[key]; e == nil {
		e = &entry{assurances: make(map[string]Assurance)}
		c.entries[key] = e
	}
	return e
}

// CanProvideStatements implements SourceSelectionCache.
func (c *Unbounded) CanProvideStatements(key rdf.SubQueryKey, endpointID string) Assurance {
	e := c.lookup(key, false)
	if e == nil {
		return PossiblyHasStatements
	}
	return e.get(endpointID)
}

// UpdateEntry implements SourceSelectionCache.
func (c *Unbounded) UpdateEntry(key rdf.SubQueryKey, endpointID string, hasResults, local bool) {
	c.lookup(key, true).update(endpointID, assuranceFor(hasResults, local))
}

// Clear implements SourceSelectionCache.
func (c *Unbounded) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[rdf.SubQueryKey]*entry)
}

// Len implements SourceSelectionCache.
func (c *Unbounded) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// LRU caps the number of distinct subquery keys, evicting the least
// recently used. Long-lived federations with many unique patterns stay
// memory-bounded at the cost of occasional re-probing.
type LRU struct {
	mu      sync.Mutex
	entries *lru.Cache[rdf.SubQueryKey, *entry]
}

// NewLRU creates a cache holding at most size subquery keys.
func NewLRU(size int) (*LRU, error) {
	c, err := lru.New[rdf.SubQueryKey, *entry](size)
	if err != nil {
		return nil, errors.NewConfig("sourceSelectionCacheSpec", err.Error())
	}
	return &LRU{entries: c}, nil
}

// CanProvideStatements implements SourceSelectionCache.
func (c *LRU) CanProvideStatements(key rdf.SubQueryKey, endpointID string) Assurance {
	c.mu.Lock()
	e, ok := c.entries.Get(key)
	c.mu.Unlock()
	if !ok {
		return PossiblyHasStatements
	}
	return e.get(endpointID)
}

// UpdateEntry implements SourceSelectionCache.
func (c *LRU) UpdateEntry(key rdf.SubQueryKey, endpointID string, hasResults, local bool) {
	c.mu.Lock()
	e, ok := c.entries.Get(key)
	if !ok {
		e = &entry{assurances: make(map[string]Assurance)}
		c.entries.Add(key, e)
	}
	c.mu.Unlock()
	e.update(endpointID, assuranceFor(hasResults, local))
}

// Clear implements SourceSelectionCache.
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// Len implements SourceSelectionCache.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func assuranceFor(hasResults, local bool) Assurance {
	if !hasResults {
		return None
	}
	if local {
		return HasLocalStatements
	}
	return HasRemoteStatements
}
