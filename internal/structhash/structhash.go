// Package structhash provides deep structural equality and hashing over
// arbitrary, opaque row payloads.
//
// The dataflow operators in internal/dataflow/operators key hash tables and
// group-by state on user records that are not necessarily comparable with
// Go's native == (they may contain maps, slices, or nested structs). This
// package is the one documented facility every such operator goes through,
// per the design note calling for "a documented structural-hash + deep-eq
// facility."
package structhash

import (
	"reflect"

	"github.com/cespare/xxhash/v2"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
)

// dumpConfig produces a canonical, deterministic string rendering of a value:
// map keys sorted, pointers followed, unexported fields included. Two deeply
// equal values always render identically regardless of field order or
// allocation identity.
var dumpConfig = spew.ConfigState{
	Indent:                  "",
	SortKeys:                true,
	DisableMethods:          true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// exportAll lets cmp.Equal compare unexported fields. Row payloads are opaque
// user records; refusing to look inside them would make Equal useless for the
// common case of a struct with unexported fields.
var exportAll = cmp.Exporter(func(reflect.Type) bool { return true })

// Digest returns a 64-bit structural hash of v. Two values with Digest
// collisions are not guaranteed equal (see Equal for that); Digest is meant
// for hash-table bucketing, not identity.
//
// Byte slices and other large binary payloads should be wrapped by the
// caller in a type with an identity-based key (e.g. a per-process unique id)
// before reaching here — Digest hashes the full canonical dump, which is
// wrong for content no one expects to compare byte-for-byte.
func Digest(v any) uint64 {
	if v == nil {
		return 0
	}
	return xxhash.Sum64String(dumpConfig.Sdump(v))
}

// Equal reports whether a and b are deeply, structurally equal.
func Equal(a, b any) bool {
	return cmp.Equal(a, b, exportAll, cmp.Comparer(func(x, y float64) bool {
		return x == y || (x != x && y != y) // treat NaN == NaN for grouping purposes
	}))
}

// Key is a combined (bucket, identity) pair suitable for use as a Go map key
// when the underlying payload itself is not comparable. Two Keys compare
// equal if their digests collide; callers that need certainty should follow
// up with Equal on the original values within a bucket.
type Key uint64

// KeyOf returns the map-key form of Digest(v).
func KeyOf(v any) Key {
	return Key(Digest(v))
}
