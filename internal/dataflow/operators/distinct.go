package operators

import (
	"github.com/liveql/engine/internal/multiset"
	"github.com/liveql/engine/internal/structhash"
)

// Distinct collapses a multiset down to a set: each (key, payload) pair is
// present with multiplicity at most 1, regardless of how many times it was
// inserted. It tracks the net incoming multiplicity per (key, payload) and
// only emits on a transition across zero, so a row inserted three times and
// retracted twice still reads as present exactly once downstream.
//
// Grounded on the teacher's Aggregation bookkeeping in
// internal/federation/analyzer.go, generalized from a one-shot fold to
// incremental per-key state.
type Distinct struct {
	entries map[multiset.Key][]*distinctEntry
}

type distinctEntry struct {
	digest  structhash.Key
	payload any
	net     int64
}

func (d *Distinct) Process(_ int, batch *multiset.Batch) *multiset.Batch {
	if d.entries == nil {
		d.entries = make(map[multiset.Key][]*distinctEntry)
	}
	out := multiset.NewBatch(batch.Len())
	for _, t := range batch.Tuples {
		entries := d.entries[t.Key]
		dig := structhash.KeyOf(t.Payload)
		var e *distinctEntry
		for _, cand := range entries {
			if cand.digest == dig && structhash.Equal(cand.payload, t.Payload) {
				e = cand
				break
			}
		}
		if e == nil {
			e = &distinctEntry{digest: dig, payload: t.Payload}
			entries = append(entries, e)
			d.entries[t.Key] = entries
		}

		before := e.net
		e.net += t.Mult
		switch {
		case before <= 0 && e.net > 0:
			out.Add(t.Key, t.Payload, 1)
		case before > 0 && e.net <= 0:
			out.Add(t.Key, t.Payload, -1)
		}
	}
	return out
}
