package materializer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liveql/engine/internal/enginerr"
	"github.com/liveql/engine/internal/multiset"
	"github.com/liveql/engine/internal/row"
	"github.com/liveql/engine/internal/topk"
)

func TestConsumeEmitsInsertOnFirstAppearance(t *testing.T) {
	var changes []Change
	m := &Materializer{Handler: func(cs []Change) { changes = append(changes, cs...) }}

	b := multiset.NewBatch(1)
	b.Add("k1", row.Row{"id": 1}, 1)
	m.Consume(b)

	require.Len(t, changes, 1)
	require.Equal(t, Insert, changes[0].Kind)
}

func TestConsumeEmitsUpdateOnSecondInsertWithoutDelete(t *testing.T) {
	var changes []Change
	m := &Materializer{Handler: func(cs []Change) { changes = append(changes, cs...) }}

	m.Consume(batchOf("k1", row.Row{"id": 1, "v": 1}, 1))
	m.Consume(batchOf("k1", row.Row{"id": 1, "v": 2}, 1))

	require.Len(t, changes, 2)
	require.Equal(t, Insert, changes[0].Kind)
	require.Equal(t, Update, changes[1].Kind)
	require.Equal(t, 2, changes[1].Value["v"])
}

func TestConsumeEmitsDeleteOnRetraction(t *testing.T) {
	var changes []Change
	m := &Materializer{Handler: func(cs []Change) { changes = append(changes, cs...) }}

	m.Consume(batchOf("k1", row.Row{"id": 1}, 1))
	m.Consume(batchOf("k1", row.Row{"id": 1}, -1))

	require.Len(t, changes, 2)
	require.Equal(t, Insert, changes[0].Kind)
	require.Equal(t, Delete, changes[1].Kind)
}

func TestConsumeFoldsSameBatchRetractAndInsertForAPresentKeyIntoOneUpdate(t *testing.T) {
	var changes []Change
	m := &Materializer{Handler: func(cs []Change) { changes = append(changes, cs...) }}

	m.Consume(batchOf("k1", row.Row{"id": 1, "total": 10}, 1))

	b := multiset.NewBatch(2)
	b.Add("k1", row.Row{"id": 1, "total": 10}, -1)
	b.Add("k1", row.Row{"id": 1, "total": 15}, 1)
	m.Consume(b)

	require.Len(t, changes, 2, "after the initial Insert, a retract+insert pair for an already-present key is one Update, not a Delete then an Insert")
	require.Equal(t, Insert, changes[0].Kind)
	require.Equal(t, Update, changes[1].Kind)
	require.Equal(t, 15, changes[1].Value["total"])
}

func TestConsumeFoldsSameBatchInsertAndRetractForANewKeyIntoNothing(t *testing.T) {
	var changes []Change
	m := &Materializer{Handler: func(cs []Change) { changes = append(changes, cs...) }}

	b := multiset.NewBatch(2)
	b.Add("k1", row.Row{"id": 1}, 1)
	b.Add("k1", row.Row{"id": 1}, -1)
	m.Consume(b)

	require.Empty(t, changes, "a key that nets to absent within one batch never becomes visible")
	_, present := m.Snapshot()["k1"]
	require.False(t, present)
}

func TestConsumeStillPanicsWhenAGroupStartsWithARetractionOfAnUnknownKey(t *testing.T) {
	m := &Materializer{}

	b := multiset.NewBatch(2)
	b.Add("k1", row.Row{"id": 1}, -1)
	b.Add("k1", row.Row{"id": 1, "v": 2}, 1)

	require.Panics(t, func() { m.Consume(b) }, "grouping by key does not relax the invariant: a retraction still needs a recorded value at the point it is processed")
}

func TestConsumePanicsOnRetractionOfUnknownKey(t *testing.T) {
	m := &Materializer{}
	var invariantErr *enginerr.InvariantViolation
	defer func() {
		r := recover()
		require.NotNil(t, r)
		require.ErrorAs(t, r.(error), &invariantErr)
	}()
	m.Consume(batchOf("ghost", row.Row{"id": 1}, -1))
}

func TestConsumeUnwrapsTopKPositionedPayload(t *testing.T) {
	var changes []Change
	m := &Materializer{Handler: func(cs []Change) { changes = append(changes, cs...) }}

	m.Consume(batchOf("k1", topk.Positioned{Value: row.Row{"id": 1}, FracIndex: "m"}, 1))

	require.Len(t, changes, 1)
	require.Equal(t, "m", changes[0].FracIndex)
	require.Equal(t, 1, changes[0].Value["id"])
}

func TestSnapshotReturnsDefensiveCopy(t *testing.T) {
	m := &Materializer{}
	m.Consume(batchOf("k1", row.Row{"id": 1}, 1))

	snap := m.Snapshot()
	snap["k1"] = row.Row{"id": 999}

	snap2 := m.Snapshot()
	require.Equal(t, 1, snap2["k1"]["id"])
}

func batchOf(key multiset.Key, payload any, mult int64) *multiset.Batch {
	b := multiset.NewBatch(1)
	b.Add(key, payload, mult)
	return b
}
