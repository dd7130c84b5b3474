package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liveql/engine/internal/ir"
	"github.com/liveql/engine/internal/row"
)

func TestExtractPushdownLocalizesSingleCollectionConjunct(t *testing.T) {
	where := ir.Cmp(ir.OpGt, ir.Col("orders.amount"), ir.Lit(5))
	out := extractPushdown(where, []string{"orders", "customers"})

	require.Contains(t, out, "orders")
	require.True(t, out["orders"](row.Row{"amount": 10}))
	require.False(t, out["orders"](row.Row{"amount": 1}))
}

func TestExtractPushdownSkipsCrossCollectionConjunct(t *testing.T) {
	where := ir.Cmp(ir.OpEq, ir.Col("orders.customer_id"), ir.Col("customers.id"))
	out := extractPushdown(where, []string{"orders", "customers"})
	require.Empty(t, out)
}

func TestExtractPushdownAndsMultipleConjunctsForSameCollection(t *testing.T) {
	where := ir.And(
		ir.Cmp(ir.OpGt, ir.Col("orders.amount"), ir.Lit(5)),
		ir.Cmp(ir.OpLt, ir.Col("orders.amount"), ir.Lit(100)),
	)
	out := extractPushdown(where, []string{"orders", "customers"})
	require.True(t, out["orders"](row.Row{"amount": 50}))
	require.False(t, out["orders"](row.Row{"amount": 500}))
}

func TestResidualWhereKeepsOnlyCrossCollectionConjuncts(t *testing.T) {
	where := ir.And(
		ir.Cmp(ir.OpGt, ir.Col("orders.amount"), ir.Lit(5)),
		ir.Cmp(ir.OpEq, ir.Col("orders.customer_id"), ir.Col("customers.id")),
	)
	residual := residualWhere(where, []string{"orders", "customers"})
	require.NotNil(t, residual)
	require.Equal(t, ir.ExprCompare, residual.Kind)
}

func TestResidualWhereNilWhenEverythingIsSingleCollection(t *testing.T) {
	where := ir.Cmp(ir.OpGt, ir.Col("amount"), ir.Lit(5))
	require.Nil(t, residualWhere(where, []string{"orders"}))
}

func TestSingleOwnerRejectsAmbiguousUnqualifiedColumnInMultiCollectionQuery(t *testing.T) {
	_, ok := singleOwner([]string{"amount"}, []string{"orders", "customers"})
	require.False(t, ok)
}

func TestSingleOwnerAcceptsUnqualifiedColumnInSingleCollectionQuery(t *testing.T) {
	owner, ok := singleOwner([]string{"amount"}, []string{"orders"})
	require.True(t, ok)
	require.Equal(t, "orders", owner)
}
