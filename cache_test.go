package calsearch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bedework/go-calsearch/backend"
	"github.com/bedework/go-calsearch/calentity"
	"github.com/bedework/go-calsearch/index"
)

func category(uid string) *calentity.Category {
	return &calentity.Category{UID: uid, Word: uid}
}

func TestPropertyCacheBound(t *testing.T) {
	c := NewCaches(2)
	c.PutProperty("a", category("a"))
	c.PutProperty("b", category("b"))

	// Reaching capacity clears the cache wholesale before the new entry.
	c.PutProperty("c", category("c"))
	_, ok := c.Property("a")
	require.False(t, ok)
	_, ok = c.Property("c")
	require.True(t, ok)
}

func TestInvalidate(t *testing.T) {
	c := NewCaches(10)
	fired := 0
	c.OnInvalidate = func() { fired++ }

	c.PutProperty("a", category("a"))
	c.PutProperty("b", category("b"))

	c.Invalidate("a")
	_, ok := c.Property("a")
	require.False(t, ok)
	_, ok = c.Property("b")
	require.True(t, ok)

	c.Invalidate("")
	_, ok = c.Property("b")
	require.False(t, ok)
	require.Equal(t, 2, fired)
}

func TestIndexerHandleReuse(t *testing.T) {
	c := NewCaches(10)
	built := 0
	make := func() *index.Indexer {
		built++
		return index.New(nil, index.DefaultLimits, index.DefaultLimits)
	}

	first := c.Indexer("public", backend.DocEntity, make)
	second := c.Indexer("public", backend.DocEntity, make)
	require.Same(t, first, second)
	require.Equal(t, 1, built)

	c.Indexer("user", backend.DocEntity, make)
	require.Equal(t, 2, built)
}
