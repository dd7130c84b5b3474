package compiler

import (
	"strings"

	"github.com/liveql/engine/internal/ir"
	"github.com/liveql/engine/internal/row"
	"github.com/liveql/engine/internal/source"
)

// extractPushdown splits a query's WHERE clause into per-collection
// fragments that reference only that one collection, each rewritten into a
// source.Predicate over that collection's own (unqualified) row shape. The
// compiler's own graph still evaluates the whole WHERE — each collection's
// fragment as a Filter at that collection's input, the cross-collection
// residual after the joins — so pushdown is a performance option a source
// may apply early, not a correctness requirement the graph depends on.
func extractPushdown(where *ir.Expr, collections []string) map[string]source.Predicate {
	out := make(map[string]source.Predicate)
	for _, conjunct := range flattenAnd(where) {
		owner, ok := singleOwner(conjunct.Columns(), collections)
		if !ok {
			continue
		}
		localized := localize(conjunct, owner)
		out[owner] = andPredicate(out[owner], func(r row.Row) bool {
			return evalBool(r, localized)
		})
	}
	return out
}

// wherePerCollectionQualified groups WHERE conjuncts that reference only
// one collection, keyed by that collection, ANDed back together. Unlike
// extractPushdown these stay in their original (possibly "collection."
// qualified) form, for use as a post-join Filter over the already-qualified
// merged row rather than a source-native predicate.
func wherePerCollectionQualified(where *ir.Expr, collections []string) map[string]*ir.Expr {
	groups := make(map[string][]*ir.Expr)
	for _, c := range flattenAnd(where) {
		owner, ok := singleOwner(c.Columns(), collections)
		if ok {
			groups[owner] = append(groups[owner], c)
		}
	}
	out := make(map[string]*ir.Expr, len(groups))
	for k, v := range groups {
		out[k] = ir.And(v...)
	}
	return out
}

// residualWhere ANDs together every WHERE conjunct that spans more than one
// collection (a true cross-collection predicate, e.g. a condition over both
// sides of a join) and so cannot be pushed to, or filtered at, a single
// collection's input. Returns nil if there is no such conjunct.
func residualWhere(where *ir.Expr, collections []string) *ir.Expr {
	var residual []*ir.Expr
	for _, c := range flattenAnd(where) {
		if _, ok := singleOwner(c.Columns(), collections); !ok {
			residual = append(residual, c)
		}
	}
	if len(residual) == 0 {
		return nil
	}
	return ir.And(residual...)
}

func andPredicate(a, b source.Predicate) source.Predicate {
	if a == nil {
		return b
	}
	return func(r row.Row) bool { return a(r) && b(r) }
}

func flattenAnd(e *ir.Expr) []*ir.Expr {
	if e == nil {
		return nil
	}
	if e.Kind == ir.ExprBool && e.BoolOp == ir.BoolAnd {
		var out []*ir.Expr
		for _, o := range e.Operands {
			out = append(out, flattenAnd(o)...)
		}
		return out
	}
	return []*ir.Expr{e}
}

// singleOwner reports the one collection every column in cols belongs to,
// if there is such a collection. A fully unqualified column in a
// multi-collection query is ambiguous and disqualifies the whole conjunct
// from pushdown.
func singleOwner(cols []string, collections []string) (string, bool) {
	owner := ""
	for _, c := range cols {
		o, ok := columnOwner(c, collections)
		if !ok {
			return "", false
		}
		if owner == "" {
			owner = o
		} else if owner != o {
			return "", false
		}
	}
	if owner == "" {
		return "", false
	}
	return owner, true
}

func columnOwner(col string, collections []string) (string, bool) {
	if i := strings.IndexByte(col, '.'); i >= 0 {
		prefix := col[:i]
		for _, c := range collections {
			if c == prefix {
				return prefix, true
			}
		}
		return "", false
	}
	if len(collections) == 1 {
		return collections[0], true
	}
	return "", false
}

func localize(e *ir.Expr, owner string) *ir.Expr {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case ir.ExprColumn:
		col := e.Column
		if p := owner + "."; strings.HasPrefix(col, p) {
			col = col[len(p):]
		}
		return ir.Col(col)
	case ir.ExprLiteral:
		return e
	case ir.ExprCompare:
		return ir.Cmp(e.Op, localize(e.Left, owner), localize(e.Right, owner))
	case ir.ExprBool:
		ops := make([]*ir.Expr, len(e.Operands))
		for i, o := range e.Operands {
			ops[i] = localize(o, owner)
		}
		return &ir.Expr{Kind: ir.ExprBool, BoolOp: e.BoolOp, Operands: ops}
	}
	return e
}
