package calsearch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bedework/go-calsearch/backend"
	"github.com/bedework/go-calsearch/caldate"
	"github.com/bedework/go-calsearch/calentity"
	"github.com/bedework/go-calsearch/compose"
	"github.com/bedework/go-calsearch/freebusy"
	"github.com/bedework/go-calsearch/index"
	"github.com/bedework/go-calsearch/internal/log"
	"github.com/bedework/go-calsearch/query"
)

// Client is the produced interface of the search core. It is stateless
// between requests apart from the shared Caches, and safe for concurrent
// use.
type Client struct {
	be         backend.Backend
	access     backend.AccessChecker
	principals backend.PrincipalResolver
	cfg        *Config
	caches     *Caches
}

// NewClient wires the core to its collaborators. A nil cfg uses
// DefaultConfig.
func NewClient(be backend.Backend, access backend.AccessChecker, principals backend.PrincipalResolver, cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Client{
		be:         be,
		access:     access,
		principals: principals,
		cfg:        cfg,
		caches:     NewCaches(cfg.PropertyCacheSize),
	}
}

// Caches exposes the client's shared caches, primarily so an owner can hook
// invalidation.
func (c *Client) Caches() *Caches { return c.caches }

func (c *Client) indexerFor(entity calentity.Entity) *index.Indexer {
	_, public := entity.EntityOwner()
	scope := "user"
	if public {
		scope = "public"
	}
	kind := docKindFor(entity)
	return c.caches.Indexer(scope, kind, func() *index.Indexer {
		return index.New(c.be, c.cfg.PublicLimits.limits(), c.cfg.AuthenticatedLimits.limits())
	})
}

func docKindFor(entity calentity.Entity) backend.DocKind {
	switch entity.EntityKind() {
	case calentity.KindCollection:
		return backend.DocCollection
	case calentity.KindCategory:
		return backend.DocCategory
	case calentity.KindContact:
		return backend.DocContact
	case calentity.KindLocation:
		return backend.DocLocation
	}
	return backend.DocEntity
}

// Index writes an entity (for an event, the whole series with its
// overrides), replacing whatever was previously indexed under its href.
// The call is idempotent.
func (c *Client) Index(ctx context.Context, entity calentity.Entity) error {
	if err := c.indexerFor(entity).Index(ctx, entity); err != nil {
		return err
	}
	switch e := entity.(type) {
	case *calentity.Category:
		c.caches.Invalidate(e.UID)
	case *calentity.Contact:
		c.caches.Invalidate(e.UID)
	case *calentity.Location:
		c.caches.Invalidate(e.UID)
	}
	return nil
}

// Unindex removes everything indexed under href.
func (c *Client) Unindex(ctx context.Context, href string) error {
	ix := c.caches.Indexer("user", backend.DocEntity, func() *index.Indexer {
		return index.New(c.be, c.cfg.PublicLimits.limits(), c.cfg.AuthenticatedLimits.limits())
	})
	return ix.Unindex(ctx, href)
}

// SearchHandle identifies a prepared search. Handles live in the client's
// search registry until Release is called on them.
type SearchHandle struct {
	ID    string
	Total int64

	mode     query.Mode
	compiled *query.Compiled
	recon    query.Reconstructed
	sort     []backend.SortKey
	start    caldate.Value
	end      caldate.Value
	pageSize int
}

// PageSize returns the page size the search was prepared with.
func (h *SearchHandle) PageSize() int { return h.pageSize }

// Search compiles and prepares a query, returning a handle carrying the
// total match count. principalRef names the requesting principal; filter
// may be nil to match everything visible. Either date bound may be zero.
func (c *Client) Search(ctx context.Context, principalRef string, filter *query.Filter, sort []backend.SortKey, start, end caldate.Value, pageSize int, mode query.Mode) (*SearchHandle, error) {
	principal, err := c.principals.Resolve(ctx, principalRef)
	if err != nil {
		return nil, fmt.Errorf("calsearch: resolving principal %q: %w", principalRef, err)
	}

	compiled, err := query.Compile(filter, start, end, mode, principal)
	if err != nil {
		return nil, err
	}

	page, err := c.be.Search(ctx, compiled.Query, nil, 0, 0)
	if err != nil {
		return nil, err
	}

	if pageSize <= 0 {
		pageSize = c.cfg.DefaultPageSize
	}
	h := &SearchHandle{
		ID:       uuid.NewString(),
		Total:    page.Total,
		mode:     mode,
		compiled: compiled,
		recon:    query.Reconstruct(filter),
		sort:     sort,
		start:    start,
		end:      end,
		pageSize: pageSize,
	}
	c.caches.putSearch(h)
	return h, nil
}

// Release drops a search handle from the registry.
func (c *Client) Release(h *SearchHandle) {
	c.caches.dropSearch(h.ID)
}

// FetchPage executes one page of a prepared search and returns the composed
// entities. Every candidate hit is access-checked for priv before
// inclusion; a denial excludes the hit silently. Overrides that no longer
// satisfy the original filter, or whose own range has left the query
// window, are discarded from their composite.
func (c *Client) FetchPage(ctx context.Context, h *SearchHandle, offset, count int, priv backend.Privilege) (*compose.Result, error) {
	if _, ok := c.caches.search(h.ID); !ok {
		return nil, fmt.Errorf("calsearch: unknown search handle %q", h.ID)
	}
	if count <= 0 {
		count = h.pageSize
	}

	page, err := c.be.Search(ctx, h.compiled.Query, h.sort, offset, count)
	if err != nil {
		return nil, err
	}

	allowed, err := c.accessFilter(ctx, page.Hits, priv)
	if err != nil {
		return nil, err
	}

	res, err := compose.Compose(allowed, h.mode)
	if err != nil {
		return nil, err
	}
	if err := c.postFilter(res, h); err != nil {
		return nil, err
	}
	c.resolveProperties(ctx, res)
	return res, nil
}

// accessFilter keeps the hits the checker allows. Not-allowed is exclusion,
// never an error.
func (c *Client) accessFilter(ctx context.Context, hits []backend.Document, priv backend.Privilege) ([]backend.Document, error) {
	allowed := hits[:0:0]
	for _, doc := range hits {
		entity, err := compose.Build(doc.Kind, doc.Fields)
		if err != nil {
			return nil, err
		}
		result, err := c.access.CheckAccess(ctx, entity, priv, true)
		if err != nil {
			return nil, err
		}
		if result.Allowed {
			allowed = append(allowed, doc)
		}
	}
	return allowed, nil
}

// postFilter re-evaluates the original filter in memory. The backend query
// is a superset match for recurring series, so every hit is re-checked with
// the full reconstruction; attached overrides are additionally checked with
// the override-only reconstruction and against the query window.
func (c *Client) postFilter(res *compose.Result, h *SearchHandle) error {
	kept := res.Composites[:0]
	for _, comp := range res.Composites {
		ok, err := query.Matches(h.recon.Full, comp.Master)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		if len(comp.Overrides) > 0 {
			keptOvs := comp.Overrides[:0]
			for _, ov := range comp.Overrides {
				ok, err := query.Matches(h.recon.OverrideOnly, ov)
				if err != nil {
					return err
				}
				if ok && !query.IntersectsWindow(ov, h.start, h.end) {
					ok = false
				}
				if ok {
					keptOvs = append(keptOvs, ov)
				}
			}
			comp.Overrides = keptOvs
		}
		kept = append(kept, comp)
	}
	res.Composites = kept
	return nil
}

// resolveProperties attaches category, contact and location entities to the
// returned events, through the bounded property cache. Lookup failures are
// diagnostics, never fatal to the page.
func (c *Client) resolveProperties(ctx context.Context, res *compose.Result) {
	for _, comp := range res.Composites {
		events := append([]*calentity.Event{comp.Master}, comp.Overrides...)
		for _, ev := range events {
			for _, uid := range ev.CategoryUIDs {
				if cat, ok := c.property(ctx, uid, backend.DocCategory).(*calentity.Category); ok {
					ev.Categories = append(ev.Categories, cat)
				}
			}
			for _, uid := range ev.ContactUIDs {
				if ct, ok := c.property(ctx, uid, backend.DocContact).(*calentity.Contact); ok {
					ev.Contacts = append(ev.Contacts, ct)
				}
			}
			if ev.LocationUID != "" {
				if loc, ok := c.property(ctx, ev.LocationUID, backend.DocLocation).(*calentity.Location); ok {
					ev.Location = loc
				}
			}
		}
	}
}

func (c *Client) property(ctx context.Context, uid string, kind backend.DocKind) calentity.Entity {
	if e, ok := c.caches.Property(uid); ok {
		return e
	}

	q := backend.And(
		backend.Term(backend.FieldUID, uid),
		backend.Term(backend.FieldDocKind, kind.String()),
	)
	page, err := c.be.Search(ctx, q, nil, 0, 1)
	if err != nil || len(page.Hits) == 0 {
		if err != nil {
			log.Error("calsearch: property lookup failed", err, "uid", uid)
		}
		return nil
	}
	entity, err := compose.Build(page.Hits[0].Kind, page.Hits[0].Fields)
	if err != nil {
		log.Error("calsearch: property rebuild failed", err, "uid", uid)
		return nil
	}
	c.caches.PutProperty(uid, entity)
	return entity
}

// FreeBusy aggregates busy and busy-tentative periods over [start, end)
// across the given collections, on behalf of principalRef. Transparent
// events are skipped unless ignoreTransparency.
func (c *Client) FreeBusy(ctx context.Context, collections []string, principalRef string, start, end time.Time, ignoreTransparency bool) ([]freebusy.Period, error) {
	if len(collections) == 0 {
		return nil, fmt.Errorf("calsearch: free/busy needs at least one collection")
	}

	var paths []*query.Filter
	for _, col := range collections {
		paths = append(paths, query.CollectionPath(col))
	}
	filter := query.And(
		query.EntityType(calentity.KindEvent),
		query.Or(paths...),
	)

	h, err := c.Search(ctx, principalRef, filter, nil,
		caldate.NewUTC(start), caldate.NewUTC(end), c.cfg.DefaultPageSize, query.ModeExpanded)
	if err != nil {
		return nil, err
	}
	defer c.Release(h)

	var events []*calentity.Event
	for offset := 0; int64(offset) < h.Total; offset += h.pageSize {
		res, err := c.FetchPage(ctx, h, offset, h.pageSize, backend.PrivReadFreeBusy)
		if err != nil {
			return nil, err
		}
		for _, comp := range res.Composites {
			events = append(events, comp.Master)
			events = append(events, comp.Overrides...)
		}
	}

	return freebusy.Aggregate(events, start, end, ignoreTransparency), nil
}
