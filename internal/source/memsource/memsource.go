// Package memsource is an in-memory source.Collection backed by a plain
// map (Index.Take sorts the whole collection on every call), primarily for
// tests and liveqld's demo collection. It is
// the one example-pack-free adapter: every other source package wraps a
// concrete store from the examples, memsource is the minimal reference
// shape they all generalize from.
package memsource

import (
	"context"
	"sort"
	"sync"

	"github.com/liveql/engine/internal/multiset"
	"github.com/liveql/engine/internal/row"
	"github.com/liveql/engine/internal/source"
)

// Collection is a mutable, in-process source.Collection. Call Upsert/Delete
// to drive it; every change fans out to active subscribers synchronously.
type Collection struct {
	name  string
	keyFn source.KeyFunc

	mu        sync.Mutex
	rows      map[multiset.Key]row.Row
	listeners map[int]source.ChangeHandler
	nextID    int
	ready     bool
}

// New returns an empty, ready Collection named name, keyed by keyFn.
func New(name string, keyFn source.KeyFunc) *Collection {
	return &Collection{
		name:      name,
		keyFn:     keyFn,
		rows:      make(map[multiset.Key]row.Row),
		listeners: make(map[int]source.ChangeHandler),
		ready:     true,
	}
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Capabilities() source.Capability {
	return source.CapPointGet | source.CapWherePushdown | source.CapOrderedIndex
}

func (c *Collection) Status() source.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return source.StatusReady
	}
	return source.StatusLoading
}

func (c *Collection) KeyOf(payload row.Row) multiset.Key { return c.keyFn(payload) }

// Upsert inserts or replaces the row at its key, notifying subscribers of
// the retraction (if replacing) and the new insert.
func (c *Collection) Upsert(r row.Row) {
	key := c.keyFn(r)
	c.mu.Lock()
	old, existed := c.rows[key]
	c.rows[key] = r
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	batch := multiset.NewBatch(2)
	if existed {
		batch.Add(key, old, -1)
	}
	batch.Add(key, r, 1)
	notify(listeners, batch)
}

// Delete retracts the row at key, if present.
func (c *Collection) Delete(key multiset.Key) {
	c.mu.Lock()
	old, existed := c.rows[key]
	if !existed {
		c.mu.Unlock()
		return
	}
	delete(c.rows, key)
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	batch := multiset.NewBatch(1)
	batch.Add(key, old, -1)
	notify(listeners, batch)
}

func (c *Collection) snapshotListeners() []source.ChangeHandler {
	out := make([]source.ChangeHandler, 0, len(c.listeners))
	for _, h := range c.listeners {
		out = append(out, h)
	}
	return out
}

func notify(listeners []source.ChangeHandler, batch *multiset.Batch) {
	if batch.Len() == 0 {
		return
	}
	for _, h := range listeners {
		h(batch)
	}
}

func (c *Collection) CurrentStateAsChanges(_ context.Context, pushdown source.Predicate) (*multiset.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := multiset.NewBatch(len(c.rows))
	for key, r := range c.rows {
		if pushdown == nil || pushdown(r) {
			batch.Add(key, r, 1)
		}
	}
	return batch, nil
}

func (c *Collection) Get(_ context.Context, key multiset.Key) (row.Row, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rows[key]
	return r, ok, nil
}

func (c *Collection) Has(ctx context.Context, key multiset.Key) (bool, error) {
	_, ok, err := c.Get(ctx, key)
	return ok, err
}

func (c *Collection) SubscribeChanges(_ context.Context, pushdown source.Predicate, handler source.ChangeHandler) (func(), error) {
	wrapped := handler
	if pushdown != nil {
		wrapped = func(batch *multiset.Batch) {
			filtered := multiset.NewBatch(batch.Len())
			for _, t := range batch.Tuples {
				r, _ := t.Payload.(row.Row)
				if pushdown(r) {
					filtered.Add(t.Key, t.Payload, t.Mult)
				}
			}
			if filtered.Len() > 0 {
				handler(filtered)
			}
		}
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = wrapped
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}, nil
}

func (c *Collection) Index() source.Index { return (*sortedIndex)(c) }

type sortedIndex Collection

func (idx *sortedIndex) Take(_ context.Context, cmp func(a, b row.Row) int, after row.Row, n int, pushdown source.Predicate) (*multiset.Batch, error) {
	c := (*Collection)(idx)
	c.mu.Lock()
	defer c.mu.Unlock()

	type entry struct {
		key multiset.Key
		r   row.Row
	}
	entries := make([]entry, 0, len(c.rows))
	for k, r := range c.rows {
		if pushdown != nil && !pushdown(r) {
			continue
		}
		entries = append(entries, entry{key: k, r: r})
	}
	sort.Slice(entries, func(i, j int) bool { return cmp(entries[i].r, entries[j].r) < 0 })

	start := 0
	if after != nil {
		for i, e := range entries {
			if cmp(e.r, after) > 0 {
				start = i
				break
			}
			start = i + 1
		}
	}
	end := start + n
	if end > len(entries) {
		end = len(entries)
	}

	out := multiset.NewBatch(end - start)
	for i := start; i < end; i++ {
		out.Add(entries[i].key, entries[i].r, 1)
	}
	return out, nil
}
