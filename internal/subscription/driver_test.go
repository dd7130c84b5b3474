package subscription

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liveql/engine/internal/compiler"
	"github.com/liveql/engine/internal/ir"
	"github.com/liveql/engine/internal/multiset"
	"github.com/liveql/engine/internal/row"
	"github.com/liveql/engine/internal/source"
	"github.com/liveql/engine/internal/source/memsource"
	"github.com/liveql/engine/internal/topk"
)

type collectingSink struct {
	rows []row.Row
}

func (s *collectingSink) Consume(b *multiset.Batch) {
	for _, tup := range b.Tuples {
		if !multiset.Present(tup.Mult) {
			continue
		}
		payload := tup.Payload
		if p, ok := payload.(topk.Positioned); ok {
			payload = p.Value
		}
		if r, ok := payload.(row.Row); ok {
			s.rows = append(s.rows, r)
		}
	}
}

func TestStartLoadsAllChangesCollectionInFull(t *testing.T) {
	orders := memsource.New("orders", func(r row.Row) any { return r["id"] })
	orders.Upsert(row.Row{"id": 1, "amount": 10})
	orders.Upsert(row.Row{"id": 2, "amount": 20})

	q := &ir.Query{From: "orders"}
	compiled, err := compiler.Compile(q, map[string]source.Collection{"orders": orders})
	require.NoError(t, err)

	sink := &collectingSink{}
	d := NewDriver(compiled, map[string]source.Collection{"orders": orders}, sink)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	require.Len(t, sink.rows, 2)
}

func TestStartPropagatesLiveChangesAfterSubscribing(t *testing.T) {
	orders := memsource.New("orders", func(r row.Row) any { return r["id"] })
	orders.Upsert(row.Row{"id": 1, "amount": 10})

	q := &ir.Query{From: "orders"}
	compiled, err := compiler.Compile(q, map[string]source.Collection{"orders": orders})
	require.NoError(t, err)

	sink := &collectingSink{}
	d := NewDriver(compiled, map[string]source.Collection{"orders": orders}, sink)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()
	require.Len(t, sink.rows, 1)

	orders.Upsert(row.Row{"id": 2, "amount": 30})
	require.Len(t, sink.rows, 2)
}

func TestLazyMatchingOnlyLoadsKeysTheDrivingSideProduced(t *testing.T) {
	orders := memsource.New("orders", func(r row.Row) any { return r["id"] })
	customers := memsource.New("customers", func(r row.Row) any { return r["id"] })
	orders.Upsert(row.Row{"id": 1, "customer_id": 7})
	customers.Upsert(row.Row{"id": 7, "name": "alice"})
	customers.Upsert(row.Row{"id": 8, "name": "bob"})

	q := &ir.Query{
		From: "orders",
		Joins: []ir.JoinClause{
			{Collection: "customers", Type: ir.JoinInner, LeftKey: "orders.customer_id", RightKey: "customers.id"},
		},
	}
	compiled, err := compiler.Compile(q, map[string]source.Collection{"orders": orders, "customers": customers})
	require.NoError(t, err)
	require.Equal(t, ModeLazyMatching, (&Driver{Compiled: compiled}).ModeFor("customers"))
	require.Equal(t, ModeAllChanges, (&Driver{Compiled: compiled}).ModeFor("orders"))

	sink := &collectingSink{}
	d := NewDriver(compiled, map[string]source.Collection{"orders": orders, "customers": customers}, sink)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	require.Len(t, sink.rows, 1)
	require.Equal(t, "alice", sink.rows[0]["customers.name"])
}

func TestOrderedBoundedPullsFromSourceIndex(t *testing.T) {
	orders := memsource.New("orders", func(r row.Row) any { return r["id"] })
	for i := 1; i <= 5; i++ {
		orders.Upsert(row.Row{"id": i, "amount": i * 10})
	}

	limit := 2
	q := &ir.Query{
		From:    "orders",
		OrderBy: []ir.OrderKey{{Expr: ir.Col("amount"), Direction: ir.Asc, Nulls: ir.NullsFirst, StringCmp: ir.StringLexical}},
		Limit:   &limit,
	}
	compiled, err := compiler.Compile(q, map[string]source.Collection{"orders": orders})
	require.NoError(t, err)
	require.Equal(t, "orders", compiled.OrderedCollection)

	sink := &collectingSink{}
	d := NewDriver(compiled, map[string]source.Collection{"orders": orders}, sink)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	require.Len(t, sink.rows, 2)
}

func TestOrderedBoundedPropagatesLiveInsertIntoWindow(t *testing.T) {
	orders := memsource.New("orders", func(r row.Row) any { return r["id"] })
	for i := 1; i <= 5; i++ {
		orders.Upsert(row.Row{"id": i, "amount": i * 10})
	}

	limit := 2
	q := &ir.Query{
		From:    "orders",
		OrderBy: []ir.OrderKey{{Expr: ir.Col("amount"), Direction: ir.Asc, Nulls: ir.NullsFirst, StringCmp: ir.StringLexical}},
		Limit:   &limit,
	}
	compiled, err := compiler.Compile(q, map[string]source.Collection{"orders": orders})
	require.NoError(t, err)

	sink := &collectingSink{}
	d := NewDriver(compiled, map[string]source.Collection{"orders": orders}, sink)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()
	require.Len(t, sink.rows, 2)

	// A row that ranks ahead of the whole current window must still
	// propagate after Start returns: without a live subscription on the
	// ordered-bounded collection this insert would never reach the graph.
	orders.Upsert(row.Row{"id": 6, "amount": 5})

	require.Len(t, sink.rows, 4)
	require.EqualValues(t, 5, sink.rows[2]["amount"])
	require.EqualValues(t, 10, sink.rows[3]["amount"])
}

func TestOrderedBoundedRefillsFromIndexWhenWindowDepletesBelowTarget(t *testing.T) {
	orders := memsource.New("orders", func(r row.Row) any { return r["id"] })
	const total = 65
	for i := 1; i <= total; i++ {
		orders.Upsert(row.Row{"id": i, "amount": i})
	}

	limit := 3
	q := &ir.Query{
		From:    "orders",
		OrderBy: []ir.OrderKey{{Expr: ir.Col("amount"), Direction: ir.Asc, Nulls: ir.NullsFirst, StringCmp: ir.StringLexical}},
		Limit:   &limit,
	}
	compiled, err := compiler.Compile(q, map[string]source.Collection{"orders": orders})
	require.NoError(t, err)
	require.Equal(t, "orders", compiled.OrderedCollection)

	sink := &collectingSink{}
	d := NewDriver(compiled, map[string]source.Collection{"orders": orders}, sink)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()
	require.Len(t, sink.rows, 3, "initial window holds the three lowest-amount rows")

	// Priming pulls one batch of 64 and stops once the window is satisfied,
	// so row 65 is never loaded during Start. Deleting everything else the
	// engine already knows about forces the window below its target size;
	// admitting row 65 afterward proves the live subscription actually
	// re-pulled from the source's index rather than only replaying state
	// already in memory.
	for i := 1; i <= total-3; i++ {
		orders.Delete(i)
	}

	var sawRefilledRow bool
	for _, r := range sink.rows {
		if amt, _ := r["amount"].(int); amt == total {
			sawRefilledRow = true
		}
	}
	require.True(t, sawRefilledRow, "deleting below the window target must pull fresh rows from the index")
}

func TestStopReleasesSubscriptionsSoFurtherChangesDoNotPropagate(t *testing.T) {
	orders := memsource.New("orders", func(r row.Row) any { return r["id"] })
	orders.Upsert(row.Row{"id": 1, "amount": 10})

	q := &ir.Query{From: "orders"}
	compiled, err := compiler.Compile(q, map[string]source.Collection{"orders": orders})
	require.NoError(t, err)

	sink := &collectingSink{}
	d := NewDriver(compiled, map[string]source.Collection{"orders": orders}, sink)
	require.NoError(t, d.Start(context.Background()))
	require.Len(t, sink.rows, 1)

	d.Stop()
	orders.Upsert(row.Row{"id": 2, "amount": 20})
	require.Len(t, sink.rows, 1)
}
