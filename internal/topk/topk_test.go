package topk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liveql/engine/internal/ir"
	"github.com/liveql/engine/internal/multiset"
	"github.com/liveql/engine/internal/row"
)

func ascByScore() Comparator {
	return Build([]ir.OrderKey{{Expr: ir.Col("score"), Direction: ir.Asc, Nulls: ir.NullsLast}}, evalCol)
}

func limitOf(n int) *int { return &n }

func TestTopKUnboundedEmitsEveryInsertAsWindowMember(t *testing.T) {
	tk := &TopK{Cmp: ascByScore()}

	out := tk.Process(0, batchOf("a", row.Row{"score": 1}, 1))
	require.Equal(t, 1, out.Len())
	pos := out.Tuples[0].Payload.(Positioned)
	require.NotEmpty(t, pos.FracIndex)
}

func TestTopKWindowFullAndDataNeededTrackPresentCount(t *testing.T) {
	tk := &TopK{Cmp: ascByScore(), Limit: limitOf(2)}

	require.True(t, tk.DataNeeded())
	require.False(t, tk.WindowFull())

	tk.Process(0, batchOf("a", row.Row{"score": 1}, 1))
	require.True(t, tk.DataNeeded())

	tk.Process(0, batchOf("b", row.Row{"score": 2}, 1))
	require.False(t, tk.DataNeeded())
	require.True(t, tk.WindowFull())
}

func TestTopKDropsAboveCurrentMaxOnceWindowIsFull(t *testing.T) {
	tk := &TopK{Cmp: ascByScore(), Limit: limitOf(1)}
	tk.Process(0, batchOf("a", row.Row{"score": 1}, 1))
	require.True(t, tk.WindowFull())

	out := tk.Process(0, batchOf("b", row.Row{"score": 5}, 1))
	require.Equal(t, 0, out.Len(), "ranks after the full window's tail, never admitted to state")
	_, tracked := tk.members["b"]
	require.False(t, tracked)
}

func TestTopKAdmitsABetterRowAndEvictsTheTail(t *testing.T) {
	tk := &TopK{Cmp: ascByScore(), Limit: limitOf(1)}
	tk.Process(0, batchOf("a", row.Row{"score": 5}, 1))

	out := tk.Process(0, batchOf("b", row.Row{"score": 1}, 1))

	var sawEvictA, sawAdmitB bool
	for _, tup := range out.Tuples {
		pos := tup.Payload.(Positioned)
		if tup.Key == "a" && tup.Mult < 0 {
			sawEvictA = true
		}
		if tup.Key == "b" && tup.Mult > 0 {
			sawAdmitB = true
			require.Equal(t, 1, pos.Value["score"])
		}
	}
	require.True(t, sawEvictA)
	require.True(t, sawAdmitB)
}

func TestTopKRetractionOfUntrackedRowPanics(t *testing.T) {
	tk := &TopK{Cmp: ascByScore()}
	require.Panics(t, func() {
		tk.Process(0, batchOf("ghost", row.Row{"score": 1}, -1))
	})
}

func TestTopKReusesFracIndexWhenPredecessorUnchanged(t *testing.T) {
	tk := &TopK{Cmp: ascByScore()}
	tk.Process(0, batchOf("a", row.Row{"score": 1}, 1))
	firstOut := tk.Process(0, batchOf("b", row.Row{"score": 2}, 1))

	var bFrac string
	for _, tup := range firstOut.Tuples {
		if tup.Key == "b" {
			bFrac = tup.Payload.(Positioned).FracIndex
		}
	}
	require.NotEmpty(t, bFrac)

	// Inserting a third row after b, without disturbing a's or b's
	// predecessor, must not reassign either's fracIndex.
	secondOut := tk.Process(0, batchOf("c", row.Row{"score": 3}, 1))
	for _, tup := range secondOut.Tuples {
		require.NotEqual(t, "a", tup.Key)
		require.NotEqual(t, "b", tup.Key)
	}
	require.Equal(t, multiset.Key("c"), secondOut.Tuples[0].Key)
}

func batchOf(key multiset.Key, payload any, mult int64) *multiset.Batch {
	b := multiset.NewBatch(1)
	b.Add(key, payload, mult)
	return b
}
