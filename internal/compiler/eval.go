package compiler

import (
	"github.com/liveql/engine/internal/ir"
	"github.com/liveql/engine/internal/row"
)

// evalValue resolves an expression leaf to a runtime value against r.
// Compare/Bool nodes have no scalar value and return nil; callers that need
// a predicate use evalBool instead.
func evalValue(r row.Row, e *ir.Expr) any {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case ir.ExprColumn:
		return r.Get(e.Column)
	case ir.ExprLiteral:
		return e.Literal
	default:
		return nil
	}
}

// evalBool evaluates a boolean expression tree against r. Comparison nodes
// route through the same value/order semantics topk uses so "WHERE score >
// 10" and "ORDER BY score" agree on what ">" means for mixed types.
func evalBool(r row.Row, e *ir.Expr) bool {
	if e == nil {
		return true
	}
	switch e.Kind {
	case ir.ExprCompare:
		return compareOp(e.Op, evalValue(r, e.Left), evalValue(r, e.Right))
	case ir.ExprBool:
		switch e.BoolOp {
		case ir.BoolAnd:
			for _, o := range e.Operands {
				if !evalBool(r, o) {
					return false
				}
			}
			return true
		case ir.BoolOr:
			for _, o := range e.Operands {
				if evalBool(r, o) {
					return true
				}
			}
			return false
		case ir.BoolNot:
			return !evalBool(r, e.Operands[0])
		}
	}
	return false
}

func compareOp(op ir.CmpOp, a, b any) bool {
	c := compareAny(a, b)
	switch op {
	case ir.OpEq:
		return c == 0
	case ir.OpNe:
		return c != 0
	case ir.OpLt:
		return c < 0
	case ir.OpLe:
		return c <= 0
	case ir.OpGt:
		return c > 0
	case ir.OpGe:
		return c >= 0
	}
	return false
}

func compareAny(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			switch {
			case as < bs:
				return -1
			case as > bs:
				return 1
			default:
				return 0
			}
		}
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
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
	// Mixed kinds: compare as strings, a non-string counting as "" (as topk
	// does).
	as, _ := a.(string)
	bs, _ := b.(string)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

func asFloat(v any) (float64, bool) {
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
	}
	return 0, false
}
