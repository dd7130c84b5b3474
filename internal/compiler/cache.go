package compiler

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/liveql/engine/internal/ir"
	"github.com/liveql/engine/internal/structhash"
)

// Cache memoizes validated query IR by a structural digest, so two live
// queries with textually different but structurally identical IR share one
// canonical *ir.Query. Per spec §9 a graph's operator state is not reusable
// across runs once torn down, so Cache holds no graph and no planning
// output: a caller that gets a cache hit still calls Compile, which redoes
// pushdown extraction and index eligibility and builds its own operator
// instances.
type Cache struct {
	recipes *lru.Cache
}

type recipe struct {
	query *ir.Query
}

// NewCache returns a Cache holding up to size queries.
func NewCache(size int) (*Cache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{recipes: c}, nil
}

// Digest returns q's cache key.
func Digest(q *ir.Query) structhash.Key {
	return structhash.KeyOf(q)
}

// Lookup returns the cached IR for digest, if present. A hit confirms the
// query has been seen and validated before; the caller still calls Compile
// to get a fresh graph.
func (c *Cache) Lookup(digest structhash.Key) (*ir.Query, bool) {
	v, ok := c.recipes.Get(digest)
	if !ok {
		return nil, false
	}
	return v.(*recipe).query, true
}

// Store remembers q under its digest.
func (c *Cache) Store(digest structhash.Key, q *ir.Query) {
	c.recipes.Add(digest, &recipe{query: q})
}

// Invalidate removes digest from the cache. Called when a compiled graph is
// torn down (spec §9): the next request for this query must re-plan rather
// than reuse any state implicitly tied to the old run.
func (c *Cache) Invalidate(digest structhash.Key) {
	c.recipes.Remove(digest)
}
