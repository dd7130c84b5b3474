// Package topk implements the order-by and bounded-window operator, spec
// §4.E — the engine's central algorithm. A TopK node keeps the full
// currently-known population ranked by a comparator, assigns each row in
// the active [Offset, Offset+Limit) window a fractional index so a sparse
// or partially-loaded consumer can reconstruct order without re-sorting,
// and emits only the delta (admits, evictions, reorderings) between one
// window and the next.
//
// Grounded on the insertion-sort-by-cost shape of the teacher's
// internal/federation/cost.go (CompareEngines/SelectOptimalEngine picking a
// best-ranked candidate out of a scored set) and the OrderByClause type in
// internal/federation/decomposer.go for the comparator's key shape.
package topk

import (
	"github.com/liveql/engine/internal/enginerr"
	"github.com/liveql/engine/internal/multiset"
	"github.com/liveql/engine/internal/row"
	"github.com/liveql/engine/internal/structhash"
	"sort"
)

// Positioned is the payload a TopK node emits: the underlying row plus the
// fractional index assigning it a stable place in the window.
type Positioned struct {
	Value     row.Row
	FracIndex string
}

type member struct {
	rowKey  multiset.Key
	payload row.Row
	mult    int64
}

// TopK is a stateful dataflow operator (spec §4.B Operator). Offset and
// Limit describe the window; Limit == nil means "no limit", i.e. a plain
// ORDER BY with no bound, in which case the whole population is the window
// and WindowFull/dataNeeded-driven pulls never apply.
type TopK struct {
	Cmp    Comparator
	Offset int
	Limit  *int

	members map[multiset.Key]*member
	window  []multiset.Key          // rowKeys in the previous window, in order
	fracOf  map[multiset.Key]string // fracIndex assigned to each row currently in window
}

func (t *TopK) ensure() {
	if t.members == nil {
		t.members = make(map[multiset.Key]*member)
		t.fracOf = make(map[multiset.Key]string)
	}
}

// WindowFull reports whether the window currently holds Offset+*Limit
// present rows, the precondition for the drop-above-current-max
// optimization: once full, a candidate row that ranks after the window's
// current last member can be discarded without being added to state at
// all, because it can never newly qualify unless something ahead of it is
// first retracted (at which point it arrives again as a fresh insert).
func (t *TopK) WindowFull() bool {
	if t.Limit == nil {
		return false
	}
	return t.presentCount() >= t.Offset+*t.Limit
}

func (t *TopK) presentCount() int {
	n := 0
	for _, m := range t.members {
		if m.mult > 0 {
			n++
		}
	}
	return n
}

// DataNeeded reports whether the operator has fewer present rows on file
// than the window requires, the pull hook the ordered-bounded subscription
// driver (internal/subscription) uses to decide whether to ask a source's
// sorted index for more rows before it can certify the window correct.
func (t *TopK) DataNeeded() bool {
	if t.Limit == nil {
		return false
	}
	return t.presentCount() < t.Offset+*t.Limit
}

// currentMax returns the payload of the window's current last member, used
// by the drop-above-current-max admission check.
func (t *TopK) currentMax() (row.Row, bool) {
	if len(t.window) == 0 {
		return nil, false
	}
	last := t.window[len(t.window)-1]
	m, ok := t.members[last]
	if !ok {
		return nil, false
	}
	return m.payload, true
}

// Process implements dataflow.Operator.
func (t *TopK) Process(_ int, batch *multiset.Batch) *multiset.Batch {
	t.ensure()

	before := make(map[multiset.Key]Positioned) // window members this batch touches, as last emitted
	for _, tup := range batch.Tuples {
		payload, _ := tup.Payload.(row.Row)
		if f, inWindow := t.fracOf[tup.Key]; inWindow && before[tup.Key].FracIndex == "" {
			before[tup.Key] = Positioned{Value: memberPayloadOrNil(t.members, tup.Key), FracIndex: f}
		}

		if tup.Mult > 0 && t.WindowFull() {
			if max, ok := t.currentMax(); ok && t.Cmp(payload, max) > 0 {
				// Ranks after the current window tail and the window is
				// already full: this row cannot newly qualify, so it is
				// never admitted to tracked state at all.
				continue
			}
		}

		m, ok := t.members[tup.Key]
		if !ok {
			if tup.Mult < 0 {
				panic(enginerr.NewInvariantViolation("topk", "retraction for a row topk never admitted"))
			}
			m = &member{rowKey: tup.Key, payload: payload}
			t.members[tup.Key] = m
		}
		m.mult += tup.Mult
		m.payload = payload
		if m.mult <= 0 {
			delete(t.members, tup.Key)
		}
	}

	out := t.reconcileWindow()
	// A member that kept its fracIndex but changed value is not in that delta.
	for k, old := range before {
		if m, ok := t.members[k]; ok && t.fracOf[k] == old.FracIndex && !structhash.Equal(old.Value, m.payload) {
			out.Add(k, old, -1)
			out.Add(k, Positioned{Value: m.payload, FracIndex: old.FracIndex}, 1)
		}
	}
	return out
}

// reconcileWindow resorts the present population, computes the new window,
// reuses fracIndex values for rows whose predecessor in the window did not
// change, and returns the admit/evict/reorder delta.
func (t *TopK) reconcileWindow() *multiset.Batch {
	present := make([]*member, 0, len(t.members))
	for _, m := range t.members {
		if m.mult > 0 {
			present = append(present, m)
		}
	}
	sort.Slice(present, func(i, j int) bool {
		return t.Cmp(present[i].payload, present[j].payload) < 0
	})

	lo := t.Offset
	if lo > len(present) {
		lo = len(present)
	}
	hi := len(present)
	if t.Limit != nil {
		if end := t.Offset + *t.Limit; end < hi {
			hi = end
		}
	}
	newWindowMembers := present[lo:hi]

	oldFrac := t.fracOf
	oldPrev := predecessorMap(t.window)
	newPrev := predecessorMap(keysOf(newWindowMembers))

	newFrac := make(map[multiset.Key]string, len(newWindowMembers))
	out := multiset.NewBatch(len(newWindowMembers) + len(t.window))

	oldSet := make(map[multiset.Key]struct{}, len(t.window))
	for _, k := range t.window {
		oldSet[k] = struct{}{}
	}
	newSet := make(map[multiset.Key]struct{}, len(newWindowMembers))
	for _, m := range newWindowMembers {
		newSet[m.rowKey] = struct{}{}
	}

	// A row reuses its old fracIndex when it kept the same predecessor
	// across reconciliation; these reused values are fixed points that
	// every fresh assignment around them must respect.
	reuse := make([]bool, len(newWindowMembers))
	for i, m := range newWindowMembers {
		if _, ok := oldFrac[m.rowKey]; ok && oldPrev[m.rowKey] == newPrev[m.rowKey] {
			reuse[i] = true
		}
	}

	// nextFixed[i] is the nearest reused fracIndex at or after position i+1,
	// used as the upper bound for a fresh assignment at i so it always slots
	// strictly before whatever fixed point comes next, not just "" (which
	// would let it sort after a later, lower-ranked fixed point).
	nextFixed := make([]string, len(newWindowMembers))
	upper := ""
	for i := len(newWindowMembers) - 1; i >= 0; i-- {
		nextFixed[i] = upper
		if reuse[i] {
			upper = oldFrac[newWindowMembers[i].rowKey]
		}
	}

	// Assign fracIndex left to right, reusing the old value at fixed points
	// and otherwise slotting strictly between the last assigned value and
	// the next fixed point.
	var prevFrac string
	for i, m := range newWindowMembers {
		if reuse[i] {
			f := oldFrac[m.rowKey]
			newFrac[m.rowKey] = f
			prevFrac = f
			continue
		}
		f := Between(prevFrac, nextFixed[i])
		newFrac[m.rowKey] = f
		prevFrac = f
	}

	for _, k := range t.window {
		if _, stillIn := newSet[k]; stillIn {
			if newFrac[k] == oldFrac[k] {
				continue // unchanged position, nothing to emit
			}
			// position changed: retract the old slot, the insert below
			// (driven by newWindowMembers) carries the new one.
			if m, ok := t.members[k]; ok {
				out.Add(k, Positioned{Value: m.payload, FracIndex: oldFrac[k]}, -1)
			}
			continue
		}
		// evicted outright
		out.Add(k, Positioned{Value: memberPayloadOrNil(t.members, k), FracIndex: oldFrac[k]}, -1)
	}
	for _, m := range newWindowMembers {
		if _, wasIn := oldSet[m.rowKey]; wasIn && newFrac[m.rowKey] == oldFrac[m.rowKey] {
			continue // unchanged, already skipped above
		}
		out.Add(m.rowKey, Positioned{Value: m.payload, FracIndex: newFrac[m.rowKey]}, 1)
	}

	t.window = keysOf(newWindowMembers)
	t.fracOf = newFrac
	return out
}

func memberPayloadOrNil(members map[multiset.Key]*member, k multiset.Key) row.Row {
	if m, ok := members[k]; ok {
		return m.payload
	}
	return nil
}

func keysOf(ms []*member) []multiset.Key {
	out := make([]multiset.Key, len(ms))
	for i, m := range ms {
		out[i] = m.rowKey
	}
	return out
}

func predecessorMap(keys []multiset.Key) map[multiset.Key]multiset.Key {
	out := make(map[multiset.Key]multiset.Key, len(keys))
	var prev multiset.Key
	for i, k := range keys {
		if i == 0 {
			out[k] = nil
		} else {
			out[k] = prev
		}
		prev = k
	}
	return out
}
