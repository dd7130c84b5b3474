package operators

import (
	"github.com/liveql/engine/internal/ir"
	"github.com/liveql/engine/internal/multiset"
	"github.com/liveql/engine/internal/row"
	"github.com/liveql/engine/internal/structhash"
)

// JoinKey is the output key of a Join node: the pair of input row keys that
// produced the merged row. Either half is nil for an outer-join pad.
type JoinKey struct {
	Left  multiset.Key
	Right multiset.Key
}

// Join is the stateful hash-join operator, spec §4.D. It keeps one bucketed
// table per side, keyed by a structural digest of the join key value so the
// payload's concrete type never has to satisfy comparable. On every incoming
// tuple it probes the opposite side's current table and emits the cross
// product with the signed multiplicity mL·mR, then folds the tuple into its
// own side's table. Outer joins additionally track, per join-key bucket,
// whether the opposite side is currently empty; a transition across empty
// retracts or re-emits the padding for every row already on file, which is
// the piece the teacher's one-shot build/probe join never had to do.
//
// Grounded on the teacher's HashJoinExecutor and mergeRows/mergeRowsWithNulls
// (internal/federation/join.go), generalized from a one-shot build against a
// materialized right side to two incrementally-updated sides.
type Join struct {
	Kind      ir.JoinType
	LeftKeyFn func(row.Row) any
	RightKeyFn func(row.Row) any

	left  joinTable
	right joinTable
}

type joinTable struct {
	buckets map[structhash.Key][]*joinBucket
}

type joinBucket struct {
	keyValue any
	rows     map[multiset.Key]*joinRow
	total    int64
}

type joinRow struct {
	rowKey  multiset.Key
	payload row.Row
	mult    int64
}

func (t *joinTable) bucket(keyValue any, create bool) *joinBucket {
	if t.buckets == nil {
		if !create {
			return nil
		}
		t.buckets = make(map[structhash.Key][]*joinBucket)
	}
	dig := structhash.KeyOf(keyValue)
	for _, b := range t.buckets[dig] {
		if structhash.Equal(b.keyValue, keyValue) {
			return b
		}
	}
	if !create {
		return nil
	}
	b := &joinBucket{keyValue: keyValue, rows: make(map[multiset.Key]*joinRow)}
	t.buckets[dig] = append(t.buckets[dig], b)
	return b
}

func (b *joinBucket) apply(rowKey multiset.Key, payload row.Row, mult int64) {
	r, ok := b.rows[rowKey]
	if !ok {
		r = &joinRow{rowKey: rowKey, payload: payload}
		b.rows[rowKey] = r
	}
	r.mult += mult
	r.payload = payload
	b.total += mult
}

func leftPadsWhenRightEmpty(kind ir.JoinType) bool {
	return kind == ir.JoinLeft || kind == ir.JoinFull
}

func rightPadsWhenLeftEmpty(kind ir.JoinType) bool {
	return kind == ir.JoinRight || kind == ir.JoinFull
}

// keyFor returns the join key value for a tuple, collapsing to a single
// shared bucket for a cross join (every row matches every row).
func (j *Join) keyFor(side int, payload row.Row) any {
	if j.Kind == ir.JoinCross {
		return crossJoinKey{}
	}
	if side == 0 {
		return j.LeftKeyFn(payload)
	}
	return j.RightKeyFn(payload)
}

type crossJoinKey struct{}

// Process implements dataflow.Operator. port 0 is the left input, port 1 is
// the right input.
func (j *Join) Process(port int, batch *multiset.Batch) *multiset.Batch {
	out := multiset.NewBatch(batch.Len())
	switch port {
	case 0:
		j.processSide(out, batch, true)
	case 1:
		j.processSide(out, batch, false)
	}
	return out
}

func (j *Join) processSide(out *multiset.Batch, batch *multiset.Batch, isLeft bool) {
	side := 1
	if isLeft {
		side = 0
	}
	selfTable, oppTable := &j.left, &j.right
	if !isLeft {
		selfTable, oppTable = &j.right, &j.left
	}

	for _, t := range batch.Tuples {
		payload, _ := t.Payload.(row.Row)
		keyVal := j.keyFor(side, payload)

		oppBucket := oppTable.bucket(keyVal, true)
		for _, r := range oppBucket.rows {
			if r.mult == 0 {
				continue
			}
			mergedKey, mergedRow := j.merge(isLeft, t.Key, payload, r.rowKey, r.payload)
			out.Add(mergedKey, mergedRow, t.Mult*r.mult)
		}

		needsOwnPad := (isLeft && leftPadsWhenRightEmpty(j.Kind)) || (!isLeft && rightPadsWhenLeftEmpty(j.Kind))
		if needsOwnPad && oppBucket.total == 0 {
			mergedKey, mergedRow := j.padSelf(isLeft, t.Key, payload)
			out.Add(mergedKey, mergedRow, t.Mult)
		}

		selfBucket := selfTable.bucket(keyVal, true)
		wasTotal := selfBucket.total
		selfBucket.apply(t.Key, payload, t.Mult)

		if wasTotal == 0 && selfBucket.total != 0 {
			j.repadOpposite(out, isLeft, oppBucket, -1)
		} else if wasTotal != 0 && selfBucket.total == 0 {
			j.repadOpposite(out, isLeft, oppBucket, +1)
		}
	}
}

// repadOpposite retracts (sign -1) or re-establishes (sign +1) the outer-join
// pad for every currently-present row on the opposite side, because this
// side's emptiness just flipped. sign is relative to the pad's own polarity:
// -1 means "self just became non-empty, the opposite rows' pads are stale,
// cancel them"; +1 means "self just became empty again, resurrect the pads".
func (j *Join) repadOpposite(out *multiset.Batch, selfIsLeft bool, oppBucket *joinBucket, sign int64) {
	oppIsLeft := !selfIsLeft
	oppNeedsPad := (oppIsLeft && leftPadsWhenRightEmpty(j.Kind)) || (!oppIsLeft && rightPadsWhenLeftEmpty(j.Kind))
	if !oppNeedsPad {
		return
	}
	for _, r := range oppBucket.rows {
		if r.mult == 0 {
			continue
		}
		mergedKey, mergedRow := j.padSelf(oppIsLeft, r.rowKey, r.payload)
		out.Add(mergedKey, mergedRow, sign*r.mult)
	}
}

func (j *Join) merge(leftDriving bool, leftKey multiset.Key, leftRow row.Row, rightKey multiset.Key, rightRow row.Row) (JoinKey, row.Row) {
	if !leftDriving {
		// called with (self=right, opp=left) swapped args at call site already
		leftKey, rightKey = rightKey, leftKey
		leftRow, rightRow = rightRow, leftRow
	}
	return JoinKey{Left: leftKey, Right: rightKey}, row.Merge(leftRow, rightRow)
}

func (j *Join) padSelf(selfIsLeft bool, selfKey multiset.Key, selfRow row.Row) (JoinKey, row.Row) {
	if selfIsLeft {
		return JoinKey{Left: selfKey, Right: nil}, row.Merge(selfRow, nil)
	}
	return JoinKey{Left: nil, Right: selfKey}, row.Merge(nil, selfRow)
}
