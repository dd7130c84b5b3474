// Package ir defines the query intermediate representation the compiler
// (internal/compiler) consumes. Per spec §1 the surface query builder is
// out of scope — these are plain data types, not a fluent API, and nothing
// here validates or optimizes a query. internal/sqlfront is the one
// concrete producer this module ships; any other caller is free to build an
// ir.Query by hand.
package ir

// JoinType mirrors spec §4.D's join kinds.
type JoinType string

const (
	JoinInner JoinType = "inner"
	JoinLeft  JoinType = "left"
	JoinRight JoinType = "right"
	JoinFull  JoinType = "full"
	JoinCross JoinType = "cross"
)

// CmpOp is a comparison operator usable in a WHERE/ON expression.
type CmpOp string

const (
	OpEq CmpOp = "="
	OpNe CmpOp = "<>"
	OpLt CmpOp = "<"
	OpLe CmpOp = "<="
	OpGt CmpOp = ">"
	OpGe CmpOp = ">="
)

// BoolOp combines sub-expressions.
type BoolOp string

const (
	BoolAnd BoolOp = "AND"
	BoolOr  BoolOp = "OR"
	BoolNot BoolOp = "NOT"
)

// Expr is a tiny boolean/comparison expression tree. Exactly one of its
// fields is meaningful per node, selected by Kind.
type Expr struct {
	Kind ExprKind

	// ExprColumn
	Column string

	// ExprLiteral
	Literal any

	// ExprCompare
	Op    CmpOp
	Left  *Expr
	Right *Expr

	// ExprBool
	BoolOp   BoolOp
	Operands []*Expr
}

// ExprKind discriminates Expr's node types.
type ExprKind int

const (
	ExprColumn ExprKind = iota
	ExprLiteral
	ExprCompare
	ExprBool
)

// Col builds a column-reference leaf.
func Col(name string) *Expr { return &Expr{Kind: ExprColumn, Column: name} }

// Lit builds a literal leaf.
func Lit(v any) *Expr { return &Expr{Kind: ExprLiteral, Literal: v} }

// Cmp builds a comparison node.
func Cmp(op CmpOp, left, right *Expr) *Expr {
	return &Expr{Kind: ExprCompare, Op: op, Left: left, Right: right}
}

// And builds a conjunction over operands, flattening to the operand itself
// when there is exactly one.
func And(operands ...*Expr) *Expr {
	return boolExpr(BoolAnd, operands)
}

// Or builds a disjunction over operands.
func Or(operands ...*Expr) *Expr {
	return boolExpr(BoolOr, operands)
}

// Not negates operand.
func Not(operand *Expr) *Expr {
	return &Expr{Kind: ExprBool, BoolOp: BoolNot, Operands: []*Expr{operand}}
}

func boolExpr(op BoolOp, operands []*Expr) *Expr {
	if len(operands) == 1 {
		return operands[0]
	}
	return &Expr{Kind: ExprBool, BoolOp: op, Operands: operands}
}

// Columns returns the set of collection-qualified-free column names
// referenced transitively by e. Columns are expected in "collection.field"
// form when a query spans more than one collection; callers that need to
// restrict to a single collection's free variables should filter by prefix.
func (e *Expr) Columns() []string {
	if e == nil {
		return nil
	}
	seen := map[string]struct{}{}
	var walk func(*Expr)
	walk = func(n *Expr) {
		if n == nil {
			return
		}
		switch n.Kind {
		case ExprColumn:
			seen[n.Column] = struct{}{}
		case ExprCompare:
			walk(n.Left)
			walk(n.Right)
		case ExprBool:
			for _, o := range n.Operands {
				walk(o)
			}
		}
	}
	walk(e)
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	return out
}

// Direction is an ORDER BY key's sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// NullsOrder controls where NULL values sort.
type NullsOrder string

const (
	NullsFirst NullsOrder = "first"
	NullsLast  NullsOrder = "last"
)

// StringCmp selects the string comparison mode for an order key.
type StringCmp string

const (
	StringLexical StringCmp = "lexical"
	StringLocale  StringCmp = "locale"
)

// OrderKey is one entry of an ORDER BY clause (spec §3).
type OrderKey struct {
	Expr      *Expr
	Direction Direction
	Nulls     NullsOrder
	StringCmp StringCmp
}

// DefaultNulls returns the implied NULLS position for dir when none is
// specified explicitly, per spec §6: first for asc, last for desc.
func DefaultNulls(dir Direction) NullsOrder {
	if dir == Desc {
		return NullsLast
	}
	return NullsFirst
}

// AggFunc names one of the five aggregators spec §4.D specifies.
type AggFunc string

const (
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
	AggSum   AggFunc = "sum"
	AggCount AggFunc = "count"
	AggAvg   AggFunc = "avg"
)

// Aggregate is one computed aggregate column of a GROUP BY.
type Aggregate struct {
	Func AggFunc
	Arg  string // column name; ignored (may be empty) for AggCount(*)
	As   string // output column name
}

// JoinClause is one JOIN in the FROM clause.
type JoinClause struct {
	Collection string
	Type       JoinType
	LeftKey    string // column on the left (driving) side
	RightKey   string // column on this join's collection
}

// Query is the full IR for one materialized live query.
type Query struct {
	From       string
	Joins      []JoinClause
	Where      *Expr
	GroupBy    []string
	Aggregates []Aggregate
	OrderBy    []OrderKey
	Limit      *int
	Offset     int
	Select     []string // projected columns; empty means "all"
}
