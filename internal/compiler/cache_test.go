package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liveql/engine/internal/ir"
)

func TestCacheStoreLookupRoundTrip(t *testing.T) {
	c, err := NewCache(4)
	require.NoError(t, err)

	q := &ir.Query{From: "orders"}
	digest := Digest(q)

	_, ok := c.Lookup(digest)
	require.False(t, ok)

	c.Store(digest, q)
	got, ok := c.Lookup(digest)
	require.True(t, ok)
	require.Equal(t, q, got)
}

func TestDigestIsStructuralNotPointerIdentity(t *testing.T) {
	a := &ir.Query{From: "orders", Where: ir.Cmp(ir.OpEq, ir.Col("id"), ir.Lit(1))}
	b := &ir.Query{From: "orders", Where: ir.Cmp(ir.OpEq, ir.Col("id"), ir.Lit(1))}
	require.Equal(t, Digest(a), Digest(b))
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c, err := NewCache(4)
	require.NoError(t, err)

	q := &ir.Query{From: "orders"}
	digest := Digest(q)
	c.Store(digest, q)
	c.Invalidate(digest)

	_, ok := c.Lookup(digest)
	require.False(t, ok)
}
