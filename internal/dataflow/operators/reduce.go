package operators

import (
	"github.com/liveql/engine/internal/ir"
	"github.com/liveql/engine/internal/multiset"
	"github.com/liveql/engine/internal/row"
	"github.com/liveql/engine/internal/structhash"
)

// Reduce implements GROUP BY with the five aggregators spec §4.D names:
// min, max, sum, count, avg. Each group tracks enough state to handle a
// retraction without rescanning its members — a running sum and count for
// sum/count/avg, and a live bag of values for min/max so the extreme can be
// recomputed when the member holding it is retracted.
//
// Grounded on the Aggregation accumulation in the teacher's
// internal/federation/analyzer.go, generalized to incremental add/remove.
type Reduce struct {
	GroupKeyFn func(row.Row) any
	// GroupCols names the GROUP BY columns to carry through into the
	// output row alongside the computed aggregates. Every member of a
	// group shares the same values for these columns by construction, so
	// the most recently seen member's values are always current.
	GroupCols  []string
	Aggregates []ir.Aggregate
	ValueFn    func(r row.Row, column string) any

	groups map[structhash.Key]*reduceGroup
}

type reduceGroup struct {
	keyValue     any
	totalMult    int64
	columns      map[string]*aggState
	current      row.Row
	currentValid bool
}

type aggState struct {
	fn     ir.AggFunc
	sum    float64
	count  int64
	values map[structhash.Key]*valueEntry
}

type valueEntry struct {
	value any
	mult  int64
}

func (r *Reduce) groupFor(keyValue any) *reduceGroup {
	if r.groups == nil {
		r.groups = make(map[structhash.Key]*reduceGroup)
	}
	dig := structhash.KeyOf(keyValue)
	g, ok := r.groups[dig]
	if !ok {
		g = &reduceGroup{keyValue: keyValue, columns: make(map[string]*aggState)}
		for _, agg := range r.Aggregates {
			g.columns[agg.As] = &aggState{fn: agg.Func}
		}
		r.groups[dig] = g
	}
	return g
}

func (r *Reduce) Process(_ int, batch *multiset.Batch) *multiset.Batch {
	out := multiset.NewBatch(batch.Len())
	for _, t := range batch.Tuples {
		payload, _ := t.Payload.(row.Row)
		keyVal := r.GroupKeyFn(payload)
		g := r.groupFor(keyVal)
		g.totalMult += t.Mult

		for _, agg := range r.Aggregates {
			state := g.columns[agg.As]
			applyAggregate(state, payload, agg.Arg, t.Mult, r.ValueFn)
		}

		var newRow row.Row
		present := g.totalMult > 0
		if present {
			newRow = make(row.Row, len(r.Aggregates)+len(r.GroupCols))
			for _, c := range r.GroupCols {
				newRow[c] = r.ValueFn(payload, c)
			}
			for _, agg := range r.Aggregates {
				newRow[agg.As] = computeAggregate(g.columns[agg.As])
			}
		}

		if g.currentValid && (!present || !structhash.Equal(g.current, newRow)) {
			out.Add(keyVal, g.current, -1)
			g.currentValid = false
		}
		if present && !g.currentValid {
			out.Add(keyVal, newRow, 1)
			g.current = newRow
			g.currentValid = true
		}
	}
	return out
}

func applyAggregate(state *aggState, payload row.Row, arg string, mult int64, valueFn func(row.Row, string) any) {
	switch state.fn {
	case ir.AggCount:
		state.count += mult
	case ir.AggSum, ir.AggAvg:
		v := toFloat(valueFn(payload, arg))
		state.sum += v * float64(mult)
		state.count += mult
	case ir.AggMin, ir.AggMax:
		if state.values == nil {
			state.values = make(map[structhash.Key]*valueEntry)
		}
		v := valueFn(payload, arg)
		dig := structhash.KeyOf(v)
		e, ok := state.values[dig]
		if !ok {
			e = &valueEntry{value: v}
			state.values[dig] = e
		}
		e.mult += mult
	}
}

func computeAggregate(state *aggState) any {
	switch state.fn {
	case ir.AggCount:
		return state.count
	case ir.AggSum:
		return state.sum
	case ir.AggAvg:
		if state.count == 0 {
			return nil
		}
		return state.sum / float64(state.count)
	case ir.AggMin, ir.AggMax:
		var best any
		haveBest := false
		for _, e := range state.values {
			if e.mult <= 0 {
				continue
			}
			if !haveBest {
				best, haveBest = e.value, true
				continue
			}
			if state.fn == ir.AggMin && lessThan(e.value, best) {
				best = e.value
			}
			if state.fn == ir.AggMax && lessThan(best, e.value) {
				best = e.value
			}
		}
		return best
	}
	return nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func lessThan(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if !aok {
		af, aok = asFloat(a)
	}
	if !bok {
		bf, bok = asFloat(b)
	}
	if aok && bok {
		return af < bf
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return as < bs
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	}
	return 0, false
}
