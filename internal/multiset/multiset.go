// Package multiset implements the signed-multiplicity batch primitive that
// every dataflow operator speaks. See spec §4.A.
//
// A batch carries a bag of ((key, payload), multiplicity) tuples. Meaning is
// additive: a row is "present" once the sum of multiplicities for its
// (key, payload) pair is positive. Operators may emit unconsolidated
// output — duplicate (key, payload) pairs, multiplicities that have not been
// summed — and are only required to consolidate at observation boundaries.
package multiset

import "github.com/liveql/engine/internal/structhash"

// Key identifies a row within its collection. Per spec §3 this is a string
// or an integer; both satisfy comparable so either works as a Go map key.
type Key = any

// Tuple is a single entry in a batch: a keyed payload with a signed
// multiplicity. Payload is opaque and compared structurally, never with ==.
type Tuple struct {
	Key     Key
	Payload any
	Mult    int64
}

// Batch is an unordered bag of tuples. The zero value is an empty batch.
type Batch struct {
	Tuples []Tuple
}

// NewBatch returns an empty batch with capacity hinted by n.
func NewBatch(n int) *Batch {
	return &Batch{Tuples: make([]Tuple, 0, n)}
}

// Add appends a tuple to the batch. It does not consolidate.
func (b *Batch) Add(key Key, payload any, mult int64) {
	if mult == 0 {
		return
	}
	b.Tuples = append(b.Tuples, Tuple{Key: key, Payload: payload, Mult: mult})
}

// Append concatenates another batch's tuples onto b.
func (b *Batch) Append(other *Batch) {
	if other == nil {
		return
	}
	b.Tuples = append(b.Tuples, other.Tuples...)
}

// Len reports the number of (possibly unconsolidated) tuples in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Tuples)
}

// Negate returns a new batch with every multiplicity sign-flipped. Used to
// derive retractions (e.g. the delete half of an update, or an outer-join
// padding row once a real match arrives).
func Negate(b *Batch) *Batch {
	out := NewBatch(b.Len())
	for _, t := range b.Tuples {
		out.Add(t.Key, t.Payload, -t.Mult)
	}
	return out
}

// Concat returns the multiset union of the given batches. Concat does not
// consolidate; callers that need canonical form call Consolidate.
func Concat(batches ...*Batch) *Batch {
	out := NewBatch(0)
	for _, b := range batches {
		out.Append(b)
	}
	return out
}

// consolidateKey groups tuples by (row key, structural digest of payload).
// Two payloads with a colliding digest but that are not actually equal would
// be wrongly merged; Consolidate guards against that by re-checking
// structhash.Equal within a bucket before merging.
type consolidateKey struct {
	key    any
	digest structhash.Key
}

type bucketEntry struct {
	payload any
	mult    int64
}

// Consolidate sums multiplicities per distinct (key, payload) and drops
// entries that sum to zero. This is the only place batch state becomes
// externally observable (spec invariant I2): transient, unconsolidated
// intermediate state is never exposed past this call.
func Consolidate(b *Batch) *Batch {
	buckets := make(map[consolidateKey][]bucketEntry, b.Len())
	order := make([]consolidateKey, 0, b.Len())

	for _, t := range b.Tuples {
		ck := consolidateKey{key: t.Key, digest: structhash.KeyOf(t.Payload)}
		entries, ok := buckets[ck]
		if !ok {
			order = append(order, ck)
		}
		merged := false
		for i := range entries {
			if structhash.Equal(entries[i].payload, t.Payload) {
				entries[i].mult += t.Mult
				merged = true
				break
			}
		}
		if !merged {
			entries = append(entries, bucketEntry{payload: t.Payload, mult: t.Mult})
		}
		buckets[ck] = entries
	}

	out := NewBatch(b.Len())
	for _, ck := range order {
		for _, e := range buckets[ck] {
			if e.mult != 0 {
				out.Add(ck.key, e.payload, e.mult)
			}
		}
	}
	return out
}

// Present reports whether the net multiplicity of (key, payload) within a
// consolidated batch is positive.
func Present(mult int64) bool {
	return mult > 0
}
