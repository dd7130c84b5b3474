// Package duckdbsource adapts a marcboeker/go-duckdb table or view into a
// source.Collection, for analytic-shaped collections that are cheap to
// rescan in full on every poll. The change-detection strategy mirrors
// sqlitesource: a version column gates a full diff against an in-memory
// mirror.
//
// Grounded directly on the teacher's DuckDB adapter
// (internal/adapters/duckdb/adapter.go) — same driver, same "open a
// *sql.DB, run SQL through database/sql" shape, generalized from a
// one-shot sub-query execution to a continuously polled collection.
package duckdbsource

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/liveql/engine/internal/multiset"
	"github.com/liveql/engine/internal/row"
	"github.com/liveql/engine/internal/source"
	"github.com/liveql/engine/internal/structhash"
)

// Config describes how to map a relation onto a Collection.
type Config struct {
	Relation      string // table or view name
	KeyColumn     string
	VersionColumn string
	Columns       []string
	PollInterval  time.Duration
}

// Collection reads Relation through db.
type Collection struct {
	name          string
	db            *sql.DB
	relation      string
	keyColumn     string
	versionColumn string
	columns       []string
	pollInterval  time.Duration

	mu          sync.Mutex
	mirror      map[multiset.Key]row.Row
	lastVersion any
	ready       bool
}

// New returns a Collection named name backed by db per cfg.
func New(name string, db *sql.DB, cfg Config) *Collection {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Collection{
		name:          name,
		db:            db,
		relation:      cfg.Relation,
		keyColumn:     cfg.KeyColumn,
		versionColumn: cfg.VersionColumn,
		columns:       cfg.Columns,
		pollInterval:  interval,
		mirror:        make(map[multiset.Key]row.Row),
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

func (c *Collection) KeyOf(payload row.Row) multiset.Key { return payload.Get(c.keyColumn) }

func (c *Collection) fetchAll(ctx context.Context, pushdown source.Predicate) ([]row.Row, error) {
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(c.columns, ", "), c.relation)
	sqlRows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer sqlRows.Close()

	var out []row.Row
	for sqlRows.Next() {
		vals := make([]any, len(c.columns))
		ptrs := make([]any, len(c.columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := sqlRows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(row.Row, len(c.columns))
		for i, col := range c.columns {
			r[col] = vals[i]
		}
		if pushdown == nil || pushdown(r) {
			out = append(out, r)
		}
	}
	return out, sqlRows.Err()
}

func (c *Collection) CurrentStateAsChanges(ctx context.Context, pushdown source.Predicate) (*multiset.Batch, error) {
	rows, err := c.fetchAll(ctx, pushdown)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.ready = true
	for _, r := range rows {
		c.mirror[c.KeyOf(r)] = r
	}
	c.mu.Unlock()

	batch := multiset.NewBatch(len(rows))
	for _, r := range rows {
		batch.Add(c.KeyOf(r), r, 1)
	}
	return batch, nil
}

func (c *Collection) Get(ctx context.Context, key multiset.Key) (row.Row, bool, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", strings.Join(c.columns, ", "), c.relation, c.keyColumn)
	sqlRows, err := c.db.QueryContext(ctx, q, key)
	if err != nil {
		return nil, false, err
	}
	defer sqlRows.Close()
	if !sqlRows.Next() {
		return nil, false, sqlRows.Err()
	}
	vals := make([]any, len(c.columns))
	ptrs := make([]any, len(c.columns))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := sqlRows.Scan(ptrs...); err != nil {
		return nil, false, err
	}
	r := make(row.Row, len(c.columns))
	for i, col := range c.columns {
		r[col] = vals[i]
	}
	return r, true, nil
}

func (c *Collection) Has(ctx context.Context, key multiset.Key) (bool, error) {
	_, ok, err := c.Get(ctx, key)
	return ok, err
}

func (c *Collection) SubscribeChanges(ctx context.Context, pushdown source.Predicate, handler source.ChangeHandler) (func(), error) {
	stop := make(chan struct{})
	go c.pollLoop(ctx, pushdown, handler, stop)
	return func() { close(stop) }, nil
}

func (c *Collection) pollLoop(ctx context.Context, pushdown source.Predicate, handler source.ChangeHandler, stop chan struct{}) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			var max any
			q := fmt.Sprintf("SELECT MAX(%s) FROM %s", c.versionColumn, c.relation)
			if err := c.db.QueryRowContext(ctx, q).Scan(&max); err != nil {
				continue
			}
			c.mu.Lock()
			unchanged := fmt.Sprint(max) == fmt.Sprint(c.lastVersion)
			c.lastVersion = max
			c.mu.Unlock()
			if unchanged {
				continue
			}
			batch, err := c.diffAgainstMirror(ctx, pushdown)
			if err == nil && batch.Len() > 0 {
				handler(batch)
			}
		}
	}
}

func (c *Collection) diffAgainstMirror(ctx context.Context, pushdown source.Predicate) (*multiset.Batch, error) {
	rows, err := c.fetchAll(ctx, pushdown)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[multiset.Key]bool, len(rows))
	batch := multiset.NewBatch(len(rows))
	for _, r := range rows {
		key := c.KeyOf(r)
		seen[key] = true
		old, existed := c.mirror[key]
		if !existed {
			batch.Add(key, r, 1)
		} else if !structhash.Equal(old, r) {
			batch.Add(key, old, -1)
			batch.Add(key, r, 1)
		}
		c.mirror[key] = r
	}
	for key, old := range c.mirror {
		if !seen[key] {
			batch.Add(key, old, -1)
			delete(c.mirror, key)
		}
	}
	return batch, nil
}

func (c *Collection) Index() source.Index { return (*sortedIndex)(c) }

type sortedIndex Collection

func (idx *sortedIndex) Take(ctx context.Context, cmp func(a, b row.Row) int, after row.Row, n int, pushdown source.Predicate) (*multiset.Batch, error) {
	c := (*Collection)(idx)
	rows, err := c.fetchAll(ctx, pushdown)
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return cmp(rows[i], rows[j]) < 0 })

	start := 0
	if after != nil {
		for i, r := range rows {
			if cmp(r, after) > 0 {
				start = i
				break
			}
			start = i + 1
		}
	}
	end := start + n
	if end > len(rows) {
		end = len(rows)
	}
	out := multiset.NewBatch(end - start)
	for i := start; i < end; i++ {
		out.Add(c.KeyOf(rows[i]), rows[i], 1)
	}
	return out, nil
}
