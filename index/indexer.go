package index

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bedework/go-calsearch/backend"
	"github.com/bedework/go-calsearch/calentity"
	"github.com/bedework/go-calsearch/internal/log"
)

// Indexer is the write path. Indexing one series is a critical section per
// href: two callers rewriting the same href never interleave their deletes
// and writes. There is no ordering guarantee across distinct hrefs.
type Indexer struct {
	be backend.Backend

	publicLimits Limits
	authLimits   Limits

	mu    sync.Mutex
	hrefs map[string]*sync.Mutex
}

// New returns an Indexer writing through be. Zero limits fall back to
// DefaultLimits.
func New(be backend.Backend, publicLimits, authLimits Limits) *Indexer {
	return &Indexer{
		be:           be,
		publicLimits: publicLimits.orDefault(),
		authLimits:   authLimits.orDefault(),
		hrefs:        make(map[string]*sync.Mutex),
	}
}

func (ix *Indexer) lockHref(href string) func() {
	ix.mu.Lock()
	l, ok := ix.hrefs[href]
	if !ok {
		l = &sync.Mutex{}
		ix.hrefs[href] = l
	}
	ix.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Limits returns the expansion limits for content of the given visibility.
func (ix *Indexer) Limits(public bool) Limits {
	if public {
		return ix.publicLimits
	}
	return ix.authLimits
}

// Index writes the entity, replacing everything previously indexed under
// its href. The delete must complete before the rewrite begins; if it
// fails, nothing is written. An equal-version write conflict is a benign
// duplicate delivery, logged and swallowed; a conflict against a newer
// version propagates.
func (ix *Indexer) Index(ctx context.Context, entity calentity.Entity) error {
	href := entity.EntityHref()
	if href == "" {
		return fmt.Errorf("index: entity has no href")
	}
	_, public := entity.EntityOwner()

	docs, err := BuildDocs(entity, ix.Limits(public))
	if err != nil {
		return err
	}

	unlock := ix.lockHref(href)
	defer unlock()

	if err := ix.be.DeleteByQuery(ctx, backend.Term(backend.FieldHref, href)); err != nil {
		return fmt.Errorf("index: deleting stale documents for %q: %w", href, err)
	}
	if err := ix.be.Upsert(ctx, docs); err != nil {
		var conflict *backend.VersionConflictError
		if errors.As(err, &conflict) && conflict.Equal() {
			log.Warn("index: equal-version write conflict, treating as no-op",
				"href", href, "version", conflict.Stored)
			return nil
		}
		return err
	}
	return nil
}

// Unindex removes every document stored under href.
func (ix *Indexer) Unindex(ctx context.Context, href string) error {
	unlock := ix.lockHref(href)
	defer unlock()
	return ix.be.DeleteByQuery(ctx, backend.Term(backend.FieldHref, href))
}
