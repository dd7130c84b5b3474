package operators

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liveql/engine/internal/ir"
	"github.com/liveql/engine/internal/multiset"
	"github.com/liveql/engine/internal/row"
)

func newCountSumReduce() *Reduce {
	return &Reduce{
		GroupKeyFn: func(r row.Row) any { return r["customer_id"] },
		Aggregates: []ir.Aggregate{
			{Func: ir.AggCount, As: "n"},
			{Func: ir.AggSum, Arg: "amount", As: "total"},
		},
		ValueFn: func(r row.Row, col string) any { return r[col] },
	}
}

func TestReduceEmitsInsertOnFirstMemberOfGroup(t *testing.T) {
	r := newCountSumReduce()
	in := multiset.NewBatch(1)
	in.Add("o1", row.Row{"customer_id": 1, "amount": 10}, 1)

	out := r.Process(0, in)

	require.Equal(t, 1, out.Len())
	got := out.Tuples[0].Payload.(row.Row)
	require.EqualValues(t, 1, got["n"])
	require.Equal(t, float64(10), got["total"])
}

func TestReduceRetractsAndReinsertsOnGroupChange(t *testing.T) {
	r := newCountSumReduce()
	r.Process(0, batchOf("o1", row.Row{"customer_id": 1, "amount": 10}, 1))

	out := r.Process(0, batchOf("o2", row.Row{"customer_id": 1, "amount": 5}, 1))

	require.Len(t, out.Tuples, 2, "a changed group total retracts the old row and inserts the new one")
	var sawRetract, sawInsert bool
	for _, tup := range out.Tuples {
		v := tup.Payload.(row.Row)
		if tup.Mult < 0 {
			sawRetract = true
			require.Equal(t, float64(10), v["total"])
		}
		if tup.Mult > 0 {
			sawInsert = true
			require.Equal(t, float64(15), v["total"])
		}
	}
	require.True(t, sawRetract)
	require.True(t, sawInsert)
}

func TestReduceEmitsRetractionOnlyWhenGroupBecomesEmpty(t *testing.T) {
	r := newCountSumReduce()
	r.Process(0, batchOf("o1", row.Row{"customer_id": 1, "amount": 10}, 1))

	out := r.Process(0, batchOf("o1", row.Row{"customer_id": 1, "amount": 10}, -1))

	require.Equal(t, 1, out.Len())
	require.True(t, out.Tuples[0].Mult < 0)
}

func TestReduceMinMaxRecomputesWhenHolderIsRetracted(t *testing.T) {
	r := &Reduce{
		GroupKeyFn: func(rw row.Row) any { return rw["g"] },
		Aggregates: []ir.Aggregate{{Func: ir.AggMax, Arg: "v", As: "mx"}},
		ValueFn:    func(rw row.Row, col string) any { return rw[col] },
	}
	r.Process(0, batchOf("a", row.Row{"g": 1, "v": 5.0}, 1))
	out := r.Process(0, batchOf("b", row.Row{"g": 1, "v": 9.0}, 1))
	last := out.Tuples[len(out.Tuples)-1].Payload.(row.Row)
	require.Equal(t, 9.0, last["mx"])

	out = r.Process(0, batchOf("b", row.Row{"g": 1, "v": 9.0}, -1))
	last = out.Tuples[len(out.Tuples)-1].Payload.(row.Row)
	require.Equal(t, 5.0, last["mx"])
}

func TestReduceCarriesGroupColumnsIntoOutputRow(t *testing.T) {
	r := &Reduce{
		GroupKeyFn: func(rw row.Row) any { return rw["customer_id"] },
		GroupCols:  []string{"customer_id"},
		Aggregates: []ir.Aggregate{{Func: ir.AggSum, Arg: "amount", As: "total"}},
		ValueFn:    func(rw row.Row, col string) any { return rw[col] },
	}
	out := r.Process(0, batchOf("o1", row.Row{"customer_id": 7, "amount": 10}, 1))

	require.Equal(t, 1, out.Len())
	got := out.Tuples[0].Payload.(row.Row)
	require.Equal(t, 7, got["customer_id"])
	require.Equal(t, float64(10), got["total"])
}

func batchOf(key multiset.Key, payload any, mult int64) *multiset.Batch {
	b := multiset.NewBatch(1)
	b.Add(key, payload, mult)
	return b
}
