package topk

import (
	"github.com/liveql/engine/internal/ir"
	"github.com/liveql/engine/internal/row"
)

// Eval extracts the value an ir.Expr denotes for one row. The compiler
// supplies the concrete implementation (column lookup, literal, etc).
type Eval func(row.Row, *ir.Expr) any

// Comparator orders two rows per an ORDER BY clause.
type Comparator func(a, b row.Row) int

// Build composes a Comparator from an ORDER BY clause, applying each key in
// order until one of them discriminates.
func Build(keys []ir.OrderKey, eval Eval) Comparator {
	return func(a, b row.Row) int {
		for _, k := range keys {
			av, bv := eval(a, k.Expr), eval(b, k.Expr)
			c := compareValues(av, bv, k.Nulls, k.StringCmp)
			if k.Direction == ir.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	}
}

func compareValues(a, b any, nulls ir.NullsOrder, sc ir.StringCmp) int {
	aNull, bNull := a == nil, b == nil
	if aNull && bNull {
		return 0
	}
	if aNull {
		if nulls == ir.NullsFirst {
			return -1
		}
		return 1
	}
	if bNull {
		if nulls == ir.NullsFirst {
			return 1
		}
		return -1
	}

	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return compareStrings(as, bs, sc)
		}
	}

	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	as, bs := toString(a), toString(b)
	return compareStrings(as, bs, sc)
}

func compareStrings(a, b string, sc ir.StringCmp) int {
	if sc == ir.StringLocale {
		return compareNatural(a, b)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareNatural implements "locale" string ordering (spec.md §4.E/§6):
// digit runs compare by numeric value rather than byte-by-byte, so "a2" <
// "a10". Outside of a digit run, comparison is plain byte-lexical. A true
// locale collation (accents, case folding, language-specific tie-breaking)
// would need a collation library; none of the example pack carries one, so
// this covers the one concrete behavior spec.md names for locale mode.
func compareNatural(a, b string) int {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ac, bc := a[i], b[j]
		if isDigit(ac) && isDigit(bc) {
			aEnd := i
			for aEnd < len(a) && isDigit(a[aEnd]) {
				aEnd++
			}
			bEnd := j
			for bEnd < len(b) && isDigit(b[bEnd]) {
				bEnd++
			}
			if c := compareDigitRuns(a[i:aEnd], b[j:bEnd]); c != 0 {
				return c
			}
			i, j = aEnd, bEnd
			continue
		}
		switch {
		case ac < bc:
			return -1
		case ac > bc:
			return 1
		}
		i++
		j++
	}
	switch {
	case len(a)-i < len(b)-j:
		return -1
	case len(a)-i > len(b)-j:
		return 1
	default:
		return 0
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// compareDigitRuns compares two runs of digits by numeric value, ignoring
// leading zeros; equal-valued runs with different leading-zero counts
// compare equal.
func compareDigitRuns(a, b string) int {
	a = trimLeadingZeros(a)
	b = trimLeadingZeros(b)
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func trimLeadingZeros(s string) string {
	i := 0
	for i < len(s)-1 && s[i] == '0' {
		i++
	}
	return s[i:]
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
