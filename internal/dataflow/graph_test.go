package dataflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liveql/engine/internal/multiset"
)

type doubleMult struct{}

func (doubleMult) Process(_ int, batch *multiset.Batch) *multiset.Batch {
	out := multiset.NewBatch(batch.Len())
	for _, t := range batch.Tuples {
		out.Add(t.Key, t.Payload, t.Mult*2)
	}
	return out
}

type recordingSink struct {
	batches []*multiset.Batch
}

func (s *recordingSink) Consume(b *multiset.Batch) {
	s.batches = append(s.batches, b)
}

func TestRunDeliversThroughChainToSink(t *testing.T) {
	g := NewGraph()
	in, inID := g.NewInput()
	doubler := g.AddOperator(doubleMult{})
	g.Connect(inID, doubler, 0)
	sink := &recordingSink{}
	g.ConnectSink(doubler, sink)
	g.Finalize()

	b := multiset.NewBatch(1)
	b.Add("k1", "row", 1)
	in.SendData(b)
	g.Run()

	require.Len(t, sink.batches, 1)
	require.EqualValues(t, 2, sink.batches[0].Tuples[0].Mult)
}

func TestRunIsNotReentrant(t *testing.T) {
	g := NewGraph()
	in, _ := g.NewInput()
	g.Finalize()

	b := multiset.NewBatch(1)
	b.Add("k1", "row", 1)
	in.SendData(b)

	require.NotPanics(t, g.Run)

	g.running = true
	require.Panics(t, g.Run)
}

func TestAddOperatorPanicsOnceFinalized(t *testing.T) {
	g := NewGraph()
	g.Finalize()
	require.Panics(t, func() { g.AddOperator(doubleMult{}) })
}

func TestFanOutDeliversToEveryDownstreamEdge(t *testing.T) {
	g := NewGraph()
	in, inID := g.NewInput()
	a := g.AddOperator(doubleMult{})
	b := g.AddOperator(doubleMult{})
	g.Connect(inID, a, 0)
	g.Connect(inID, b, 0)
	sinkA, sinkB := &recordingSink{}, &recordingSink{}
	g.ConnectSink(a, sinkA)
	g.ConnectSink(b, sinkB)
	g.Finalize()

	batch := multiset.NewBatch(1)
	batch.Add("k1", "row", 1)
	in.SendData(batch)
	g.Run()

	require.Len(t, sinkA.batches, 1)
	require.Len(t, sinkB.batches, 1)
}

func TestTeardownReleasesState(t *testing.T) {
	g := NewGraph()
	g.AddOperator(doubleMult{})
	g.Finalize()
	g.Teardown()
	require.Nil(t, g.ops)
}
