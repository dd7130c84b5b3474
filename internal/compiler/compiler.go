// Package compiler turns a query IR (internal/ir) into a runnable
// dataflow.Graph: one Input per source collection, pushdown-filtered and
// field-qualified, joined left to right, grouped, projected and ordered.
// Per spec §4.E, LIMIT/OFFSET without ORDER BY is rejected before any graph
// is built.
//
// Grounded on the Planner/TableRegistry/EngineMatcher shape of the
// teacher's internal/planner/planner.go (walk the query, resolve each
// table reference against a registry, build an executable plan) and the
// WHERE-pushdown walk in internal/sql/rewriter.go.
package compiler

import (
	"fmt"

	"github.com/liveql/engine/internal/dataflow"
	"github.com/liveql/engine/internal/dataflow/operators"
	"github.com/liveql/engine/internal/enginerr"
	"github.com/liveql/engine/internal/ir"
	"github.com/liveql/engine/internal/multiset"
	"github.com/liveql/engine/internal/row"
	"github.com/liveql/engine/internal/source"
	"github.com/liveql/engine/internal/topk"
)

// CompiledQuery is everything the engine driver needs to run a compiled
// query: the wired graph, a handle to feed each collection's changes in,
// and the metadata the subscription driver (internal/subscription) uses to
// pick a mode per collection.
type CompiledQuery struct {
	Graph  *dataflow.Graph
	Output dataflow.NodeID
	Inputs map[string]*dataflow.Input

	// Pushdown holds, per collection, the predicate that collection's own
	// Subscribe/CurrentState call should apply — only present when the
	// optimizer found a single-collection WHERE fragment and that
	// collection actually advertises CapWherePushdown.
	Pushdown map[string]source.Predicate

	// LazyCollections marks inner-join collections a lazy-matching
	// subscription (mode 2) may load key-by-key instead of in full.
	LazyCollections map[string]bool

	// LazyKeyFn, for each lazy collection, extracts the key to Get() from
	// the driving side's row. This engine requires a lazy join's RightKey
	// column to equal the target collection's own row key — a narrower
	// contract than a general equi-join, documented as the price of
	// avoiding a full bulk load.
	LazyKeyFn map[string]func(row.Row) multiset.Key

	// JoinDrivingNode is, for each lazy collection, the graph node whose
	// output is the driving (left) side of that collection's join — where
	// a lazy-matching subscription taps candidate keys from.
	JoinDrivingNode map[string]dataflow.NodeID

	// OrderedCollection names the single source collection an
	// ordered-bounded subscription (mode 3) can pull straight from, or ""
	// if no collection qualifies.
	OrderedCollection string
	Comparator        topk.Comparator
	Offset            int
	Limit             *int
}

// Compile builds a CompiledQuery from q. sources is consulted only for
// capability checks (pushdown eligibility, the ordered-index optimization);
// it is not retained.
func Compile(q *ir.Query, sources map[string]source.Collection) (*CompiledQuery, error) {
	if (q.Limit != nil || q.Offset != 0) && len(q.OrderBy) == 0 {
		return nil, enginerr.NewLimitWithoutOrderBy()
	}

	collections := collectCollections(q)
	multiCollection := len(q.Joins) > 0

	rawPushdown := extractPushdown(q.Where, collections)
	pushdown := make(map[string]source.Predicate)
	for name, pred := range rawPushdown {
		src, ok := sources[name]
		if ok && src.Capabilities().Has(source.CapWherePushdown) {
			pushdown[name] = pred
		}
	}

	qualifiedWhere := wherePerCollectionQualified(q.Where, collections)

	g := dataflow.NewGraph()
	inputs := make(map[string]*dataflow.Input)
	lazy := make(map[string]bool)
	lazyKeyFn := make(map[string]func(row.Row) multiset.Key)
	drivingNode := make(map[string]dataflow.NodeID)

	cur, err := wireCollection(g, inputs, q.From, multiCollection, qualifiedWhere, pushdown)
	if err != nil {
		return nil, err
	}

	for _, j := range q.Joins {
		jSide, err := wireCollection(g, inputs, j.Collection, multiCollection, qualifiedWhere, pushdown)
		if err != nil {
			return nil, err
		}
		leftCol, rightCol := j.LeftKey, j.RightKey
		joinOp := &operators.Join{
			Kind:       j.Type,
			LeftKeyFn:  columnKeyFn(leftCol),
			RightKeyFn: columnKeyFn(rightCol),
		}
		joinNode := g.AddOperator(joinOp)
		g.Connect(cur, joinNode, 0)
		g.Connect(jSide, joinNode, 1)
		drivingBefore := cur
		cur = joinNode

		if j.Type == ir.JoinInner {
			lazy[j.Collection] = true
			lazyKeyFn[j.Collection] = columnKeyFn(j.LeftKey)
			drivingNode[j.Collection] = drivingBefore
		}
	}

	if residual := residualWhere(q.Where, collections); residual != nil {
		node := g.AddOperator(&operators.Filter{Pred: func(_ multiset.Key, p any) bool {
			r, _ := p.(row.Row)
			return evalBool(r, residual)
		}})
		g.Connect(cur, node, 0)
		cur = node
	}

	if len(q.GroupBy) > 0 {
		groupBy := append([]string(nil), q.GroupBy...)
		reduceOp := &operators.Reduce{
			GroupKeyFn: groupKeyFn(groupBy),
			GroupCols:  groupBy,
			Aggregates: q.Aggregates,
			ValueFn:    func(r row.Row, col string) any { return r.Get(col) },
		}
		node := g.AddOperator(reduceOp)
		g.Connect(cur, node, 0)
		cur = node
	}

	if len(q.Select) > 0 {
		cols := append([]string(nil), q.Select...)
		node := g.AddOperator(&operators.Map{Fn: func(_ multiset.Key, p any) any {
			r, _ := p.(row.Row)
			out := make(row.Row, len(cols))
			for _, c := range cols {
				out[c] = r.Get(c)
			}
			return out
		}})
		g.Connect(cur, node, 0)
		cur = node
	}

	var cmp topk.Comparator
	if len(q.OrderBy) > 0 {
		cmp = topk.Build(q.OrderBy, evalValue)
		node := g.AddOperator(&topk.TopK{Cmp: cmp, Offset: q.Offset, Limit: q.Limit})
		g.Connect(cur, node, 0)
		cur = node
	} else {
		// A TopK node already emits one consolidated delta per key; every
		// other path (filter/join/reduce/map) can leave duplicate or
		// zero-summing tuples in flight, so the materializer needs an
		// explicit Consolidate immediately upstream.
		node := g.AddOperator(&operators.Consolidate{})
		g.Connect(cur, node, 0)
		cur = node
	}

	orderedCollection := ""
	if len(q.Joins) == 0 && len(q.GroupBy) == 0 && len(q.OrderBy) > 0 && allPlainColumns(q.OrderBy) {
		if src, ok := sources[q.From]; ok && src.Capabilities().Has(source.CapOrderedIndex) {
			orderedCollection = q.From
		}
	}

	// Finalize is deliberately left to the caller: a lazy-matching
	// subscription (internal/subscription) needs to attach candidate-key
	// taps to JoinDrivingNode before the graph's topology is frozen.

	return &CompiledQuery{
		Graph:             g,
		Output:            cur,
		Inputs:            inputs,
		Pushdown:          pushdown,
		LazyCollections:   lazy,
		LazyKeyFn:         lazyKeyFn,
		JoinDrivingNode:   drivingNode,
		OrderedCollection: orderedCollection,
		Comparator:        cmp,
		Offset:            q.Offset,
		Limit:             q.Limit,
	}, nil
}

// wireCollection adds an Input node for name, optionally qualifying its
// fields to "name.field" (when the query spans more than one collection)
// and applying whatever WHERE fragment belongs solely to this collection,
// whether or not the source also applies it through pushdown.
func wireCollection(g *dataflow.Graph, inputs map[string]*dataflow.Input, name string, qualify bool, qualifiedWhere map[string]*ir.Expr, pushdown map[string]source.Predicate) (dataflow.NodeID, error) {
	if _, dup := inputs[name]; dup {
		return 0, fmt.Errorf("compiler: collection %q referenced more than once", name)
	}
	in, node := g.NewInput()
	inputs[name] = in
	cur := node

	if qualify {
		prefix := name + "."
		qualifyNode := g.AddOperator(&operators.Map{Fn: func(_ multiset.Key, p any) any {
			r, _ := p.(row.Row)
			out := make(row.Row, len(r))
			for k, v := range r {
				out[prefix+k] = v
			}
			return out
		}})
		g.Connect(cur, qualifyNode, 0)
		cur = qualifyNode
	}

	if frag, ok := qualifiedWhere[name]; ok {
		filterNode := g.AddOperator(&operators.Filter{Pred: func(_ multiset.Key, p any) bool {
			r, _ := p.(row.Row)
			return evalBool(r, frag)
		}})
		g.Connect(cur, filterNode, 0)
		cur = filterNode
	}

	return cur, nil
}

func collectCollections(q *ir.Query) []string {
	out := []string{q.From}
	for _, j := range q.Joins {
		out = append(out, j.Collection)
	}
	return out
}

func columnKeyFn(col string) func(row.Row) any {
	return func(r row.Row) any { return r.Get(col) }
}

func groupKeyFn(cols []string) func(row.Row) any {
	return func(r row.Row) any {
		key := ""
		for i, c := range cols {
			if i > 0 {
				key += "\x1f"
			}
			key += fmt.Sprint(r.Get(c))
		}
		return key
	}
}

func allPlainColumns(keys []ir.OrderKey) bool {
	for _, k := range keys {
		if k.Expr == nil || k.Expr.Kind != ir.ExprColumn {
			return false
		}
	}
	return true
}
