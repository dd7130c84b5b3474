// Package operators implements the stateless (spec §4.C) and stateful
// (spec §4.D) dataflow operators: map, filter, negate, concat, consolidate,
// join, distinct, reduce.
package operators

import "github.com/liveql/engine/internal/multiset"

// Map relabels payloads; keys and multiplicities pass through unchanged.
type Map struct {
	Fn func(key multiset.Key, payload any) any
}

func (m *Map) Process(_ int, batch *multiset.Batch) *multiset.Batch {
	out := multiset.NewBatch(batch.Len())
	for _, t := range batch.Tuples {
		out.Add(t.Key, m.Fn(t.Key, t.Payload), t.Mult)
	}
	return out
}

// Filter drops tuples whose payload fails Pred; survivors keep their
// multiplicity unchanged.
type Filter struct {
	Pred func(key multiset.Key, payload any) bool
}

func (f *Filter) Process(_ int, batch *multiset.Batch) *multiset.Batch {
	out := multiset.NewBatch(batch.Len())
	for _, t := range batch.Tuples {
		if f.Pred(t.Key, t.Payload) {
			out.Add(t.Key, t.Payload, t.Mult)
		}
	}
	return out
}

// Negate flips the sign of every tuple's multiplicity.
type Negate struct{}

func (Negate) Process(_ int, batch *multiset.Batch) *multiset.Batch {
	return multiset.Negate(batch)
}

// Concat is the identity operator used at a fan-in point: multiset union
// falls out naturally from two edges delivering independent batches to the
// same node, so Concat's only job is to forward each batch unchanged.
type Concat struct{}

func (Concat) Process(_ int, batch *multiset.Batch) *multiset.Batch {
	return batch
}

// Consolidate sums multiplicities per (key, payload) and drops zero-sum
// entries. Inserted wherever a downstream observer (the materializer, or a
// stateful operator that needs canonical per-key state) requires it.
type Consolidate struct{}

func (Consolidate) Process(_ int, batch *multiset.Batch) *multiset.Batch {
	return multiset.Consolidate(batch)
}
