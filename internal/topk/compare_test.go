package topk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liveql/engine/internal/ir"
	"github.com/liveql/engine/internal/row"
)

func evalCol(r row.Row, e *ir.Expr) any { return r.Get(e.Column) }

func TestBuildOrdersByFirstDiscriminatingKey(t *testing.T) {
	cmp := Build([]ir.OrderKey{
		{Expr: ir.Col("age"), Direction: ir.Asc, Nulls: ir.NullsLast},
		{Expr: ir.Col("name"), Direction: ir.Asc, Nulls: ir.NullsLast},
	}, evalCol)

	a := row.Row{"age": 30, "name": "zeno"}
	b := row.Row{"age": 25, "name": "alice"}
	require.True(t, cmp(a, b) > 0)
	require.True(t, cmp(b, a) < 0)
}

func TestBuildFallsThroughToSecondKeyOnTie(t *testing.T) {
	cmp := Build([]ir.OrderKey{
		{Expr: ir.Col("age"), Direction: ir.Asc, Nulls: ir.NullsLast},
		{Expr: ir.Col("name"), Direction: ir.Asc, Nulls: ir.NullsLast},
	}, evalCol)

	a := row.Row{"age": 30, "name": "alice"}
	b := row.Row{"age": 30, "name": "bob"}
	require.True(t, cmp(a, b) < 0)
}

func TestBuildHonorsDescendingDirection(t *testing.T) {
	cmp := Build([]ir.OrderKey{{Expr: ir.Col("age"), Direction: ir.Desc, Nulls: ir.NullsLast}}, evalCol)
	a := row.Row{"age": 30}
	b := row.Row{"age": 25}
	require.True(t, cmp(a, b) < 0, "descending: larger age sorts first")
}

func TestCompareValuesNullsFirstAndLast(t *testing.T) {
	require.Equal(t, -1, compareValues(nil, 1, ir.NullsFirst, ir.StringLexical))
	require.Equal(t, 1, compareValues(nil, 1, ir.NullsLast, ir.StringLexical))
	require.Equal(t, 1, compareValues(1, nil, ir.NullsFirst, ir.StringLexical))
	require.Equal(t, -1, compareValues(1, nil, ir.NullsLast, ir.StringLexical))
	require.Equal(t, 0, compareValues(nil, nil, ir.NullsFirst, ir.StringLexical))
}

func TestCompareValuesNumericVsString(t *testing.T) {
	require.Equal(t, -1, compareValues(1, 2, ir.NullsLast, ir.StringLexical))
	require.Equal(t, -1, compareValues("a", "b", ir.NullsLast, ir.StringLexical))
}

func TestCompareStringsLexicalTreatsDigitRunsBytewise(t *testing.T) {
	require.True(t, compareStrings("a2", "a10", ir.StringLexical) > 0, "lexical: \"a2\" sorts after \"a10\" byte-by-byte")
}

func TestCompareStringsLocaleOrdersDigitRunsNumerically(t *testing.T) {
	require.True(t, compareStrings("a2", "a10", ir.StringLocale) < 0, "locale: \"a2\" < \"a10\" numerically")
	require.Equal(t, 0, compareStrings("a2", "a2", ir.StringLocale))
	require.True(t, compareStrings("a10", "a9", ir.StringLocale) > 0)
}

func TestCompareStringsLocaleFallsBackToLexicalOutsideDigitRuns(t *testing.T) {
	require.True(t, compareStrings("abc", "abd", ir.StringLocale) < 0)
}

func TestCompareStringsLocaleIgnoresLeadingZeros(t *testing.T) {
	require.Equal(t, 0, compareStrings("v007", "v7", ir.StringLocale))
	require.True(t, compareStrings("v007", "v8", ir.StringLocale) < 0)
}

func TestCompareStringsLocaleHandlesMixedLengthTrailingText(t *testing.T) {
	require.True(t, compareStrings("item9", "item10a", ir.StringLocale) < 0)
	require.True(t, compareStrings("item2", "item2a", ir.StringLocale) < 0)
}
