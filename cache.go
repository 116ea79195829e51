package calsearch

import (
	"sync"

	"github.com/bedework/go-calsearch/backend"
	"github.com/bedework/go-calsearch/calentity"
	"github.com/bedework/go-calsearch/index"
)

// Caches holds the two pieces of state shared across concurrent requests:
// the per-(scope, document-type) indexer handles and a small bounded cache
// of recently built event-property lookups. Both allow concurrent reads and
// serialize population; staleness is bounded by explicit invalidation on
// write, not by time.
type Caches struct {
	propCap int
	// OnInvalidate, when set, is called after each wholesale or targeted
	// invalidation.
	OnInvalidate func()

	mu       sync.RWMutex
	props    map[string]calentity.Entity
	indexers map[indexerKey]*index.Indexer
	searches map[string]*SearchHandle
}

type indexerKey struct {
	scope string
	kind  backend.DocKind
}

// NewCaches returns caches bounding the property cache at propCap entries.
func NewCaches(propCap int) *Caches {
	return &Caches{
		propCap:  propCap,
		props:    make(map[string]calentity.Entity),
		indexers: make(map[indexerKey]*index.Indexer),
		searches: make(map[string]*SearchHandle),
	}
}

// Property returns a cached event-property entity (category, contact or
// location) by UID.
func (c *Caches) Property(uid string) (calentity.Entity, bool) {
	c.mu.RLock()
	e, ok := c.props[uid]
	c.mu.RUnlock()
	return e, ok
}

// PutProperty stores an event-property entity. Once the cache reaches
// capacity it is cleared wholesale rather than evicted incrementally.
func (c *Caches) PutProperty(uid string, e calentity.Entity) {
	c.mu.Lock()
	if len(c.props) >= c.propCap {
		c.props = make(map[string]calentity.Entity)
	}
	c.props[uid] = e
	c.mu.Unlock()
}

// Invalidate drops any cached property for uid, and the whole property
// cache when uid is empty.
func (c *Caches) Invalidate(uid string) {
	c.mu.Lock()
	if uid == "" {
		c.props = make(map[string]calentity.Entity)
	} else {
		delete(c.props, uid)
	}
	hook := c.OnInvalidate
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// Indexer returns the cached indexer handle for (scope, kind), building it
// with make on first use. Reads are concurrent; population is serialized.
func (c *Caches) Indexer(scope string, kind backend.DocKind, make func() *index.Indexer) *index.Indexer {
	key := indexerKey{scope, kind}
	c.mu.RLock()
	ix, ok := c.indexers[key]
	c.mu.RUnlock()
	if ok {
		return ix
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ix, ok := c.indexers[key]; ok {
		return ix
	}
	ix = make()
	c.indexers[key] = ix
	return ix
}

func (c *Caches) putSearch(h *SearchHandle) {
	c.mu.Lock()
	c.searches[h.ID] = h
	c.mu.Unlock()
}

func (c *Caches) search(id string) (*SearchHandle, bool) {
	c.mu.RLock()
	h, ok := c.searches[id]
	c.mu.RUnlock()
	return h, ok
}

func (c *Caches) dropSearch(id string) {
	c.mu.Lock()
	delete(c.searches, id)
	c.mu.Unlock()
}
