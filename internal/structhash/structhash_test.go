package structhash

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

type nested struct {
	unexported string
	Values     []int
}

func TestEqualIgnoresFieldOrderAndAllocationIdentity(t *testing.T) {
	a := map[string]any{"id": 1, "name": "a"}
	b := map[string]any{"name": "a", "id": 1}
	require.True(t, Equal(a, b))
}

func TestEqualLooksInsideUnexportedFields(t *testing.T) {
	a := nested{unexported: "x", Values: []int{1, 2}}
	b := nested{unexported: "x", Values: []int{1, 2}}
	c := nested{unexported: "y", Values: []int{1, 2}}
	require.True(t, Equal(a, b))
	require.False(t, Equal(a, c))
}

func TestEqualTreatsNaNAsEqualForGrouping(t *testing.T) {
	require.True(t, Equal(math.NaN(), math.NaN()))
}

func TestDigestStableAcrossMapKeyOrder(t *testing.T) {
	a := map[string]any{"a": 1, "b": 2}
	b := map[string]any{"b": 2, "a": 1}
	require.Equal(t, Digest(a), Digest(b))
}

func TestDigestOfNilIsZero(t *testing.T) {
	require.EqualValues(t, 0, Digest(nil))
}

func TestKeyOfMatchesDigest(t *testing.T) {
	v := map[string]any{"x": 1}
	require.Equal(t, Key(Digest(v)), KeyOf(v))
}
