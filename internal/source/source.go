// Package source defines the contract a data source must satisfy to back a
// live query (spec §6): a way to get the current state as a batch of
// inserts, a way to subscribe to future changes, point lookups, and
// optionally a sorted index an ordered-bounded subscription can pull from
// instead of materializing the whole collection.
//
// Grounded on the teacher's AdapterRegistry/Adapter contract
// (internal/adapters/adapter.go) and its capability negotiation
// (internal/capabilities), generalized from "execute a SQL sub-query
// against an engine" to "serve a live, incrementally-changing collection".
package source

import (
	"context"

	"github.com/liveql/engine/internal/multiset"
	"github.com/liveql/engine/internal/row"
)

// Capability flags advertise what a Collection can do beyond the baseline
// subscribe/get contract every Collection must support.
type Capability uint32

const (
	// CapOrderedIndex means Index returns a non-nil, usable Index.
	CapOrderedIndex Capability = 1 << iota
	// CapPointGet means Get is backed by an efficient lookup rather than a
	// full scan.
	CapPointGet
	// CapWherePushdown means the collection can apply a WHERE fragment
	// itself (as a filter argument to Subscribe/CurrentState), so fewer rows
	// reach the engine; the engine still applies the same filter itself.
	CapWherePushdown
)

// Has reports whether c advertises cap.
func (c Capability) Has(cap Capability) bool { return c&cap != 0 }

// Status is a collection's readiness state.
type Status int

const (
	StatusLoading Status = iota
	StatusReady
	StatusError
)

// Predicate is a pushdown-eligible filter a collection may be asked to
// apply to its own state before handing rows to the engine. Column names
// are unqualified (the collection's own schema, not "collection.field").
type Predicate func(row.Row) bool

// KeyFunc extracts a collection's row key from a payload.
type KeyFunc func(row.Row) multiset.Key

// ChangeHandler receives a batch of inserts/retractions as they occur.
// Handlers must not block; slow consumers should buffer internally.
type ChangeHandler func(batch *multiset.Batch)

// Collection is the contract every data source implements (spec §6). All
// methods must be safe to call concurrently with an active subscription.
type Collection interface {
	// Name identifies the collection in compiled queries and error
	// messages.
	Name() string

	// Capabilities reports which optional features this collection
	// supports.
	Capabilities() Capability

	// Status reports the collection's current readiness.
	Status() Status

	// KeyOf extracts the row key of payload.
	KeyOf(payload row.Row) multiset.Key

	// CurrentStateAsChanges returns every row currently present, each as an
	// insert (positive multiplicity), optionally restricted to rows
	// matching pushdown. pushdown may be nil.
	CurrentStateAsChanges(ctx context.Context, pushdown Predicate) (*multiset.Batch, error)

	// Get performs a point lookup. found is false if the key is absent.
	Get(ctx context.Context, key multiset.Key) (payload row.Row, found bool, err error)

	// Has reports key's presence without materializing the payload.
	Has(ctx context.Context, key multiset.Key) (bool, error)

	// SubscribeChanges registers handler for future inserts/retractions,
	// optionally restricted by pushdown. It returns an unsubscribe func the
	// caller must invoke to release resources.
	SubscribeChanges(ctx context.Context, pushdown Predicate, handler ChangeHandler) (unsubscribe func(), err error)

	// Index returns the collection's sorted index, or nil if
	// CapOrderedIndex is not set.
	Index() Index
}

// Index lets an ordered-bounded subscription pull rows in sort order
// directly from the source instead of materializing and sorting the whole
// collection in-process (spec §4.E/§4.G mode 3).
type Index interface {
	// Take returns up to n rows strictly after 'after' in cmp's order
	// ('after' nil means start from the beginning), restricted to rows
	// matching pushdown (nil means no restriction).
	Take(ctx context.Context, cmp func(a, b row.Row) int, after row.Row, n int, pushdown Predicate) (*multiset.Batch, error)
}
