// Package dataflow implements the acyclic operator graph and the
// single-threaded scheduler described in spec §4.B / §5. Operators never
// talk to each other directly; they're wired by the compiler (internal/
// compiler) into a Graph, and all execution happens inside Graph.Run.
package dataflow

import "github.com/liveql/engine/internal/multiset"

// NodeID identifies an operator within a Graph.
type NodeID int

// Operator is the interface every dataflow operator implements. A node may
// have more than one input port (join has two: left=0, right=1); all other
// operators in this module use port 0 only.
type Operator interface {
	// Process consumes a batch arriving at the given input port and returns
	// the (possibly unconsolidated) batch to propagate downstream. A nil or
	// empty return means nothing to emit for this batch.
	Process(port int, batch *multiset.Batch) *multiset.Batch
}

// Sink receives a node's output outside the graph. The compiler wires no
// sink itself: its caller connects one to the query's output node (usually
// an internal/materializer.Materializer), and internal/subscription also
// attaches candidate-key sinks to the driving side of lazy joins.
type Sink interface {
	Consume(batch *multiset.Batch)
}

type edge struct {
	toNode NodeID
	toPort int
}

type sinkEdge struct {
	sink Sink
}

// Graph is an acyclic directed graph of operators plus a handful of root
// inputs and terminal sinks. Topology is fixed by Finalize; after that, only
// Run and the Input handles returned by NewInput may be used.
type Graph struct {
	ops       map[NodeID]Operator
	outEdges  map[NodeID][]edge
	sinkEdges map[NodeID][]sinkEdge
	nextID    NodeID
	finalized bool

	queue   []pendingWork
	running bool
}

type pendingWork struct {
	node  NodeID
	port  int
	batch *multiset.Batch
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		ops:       make(map[NodeID]Operator),
		outEdges:  make(map[NodeID][]edge),
		sinkEdges: make(map[NodeID][]sinkEdge),
	}
}

// AddOperator registers op as a new node and returns its id. Panics if the
// graph is already finalized.
func (g *Graph) AddOperator(op Operator) NodeID {
	g.mustNotBeFinalized("AddOperator")
	id := g.nextID
	g.nextID++
	g.ops[id] = op
	return id
}

// Connect wires from's output to toPort of to. A node may have multiple
// outgoing edges (fan-out) and multiple incoming edges feeding the same
// port (fan-in is the operator's job to interpret, e.g. concat).
func (g *Graph) Connect(from, to NodeID, toPort int) {
	g.mustNotBeFinalized("Connect")
	g.outEdges[from] = append(g.outEdges[from], edge{toNode: to, toPort: toPort})
}

// ConnectSink wires node's output directly to a terminal sink.
func (g *Graph) ConnectSink(node NodeID, sink Sink) {
	g.mustNotBeFinalized("ConnectSink")
	g.sinkEdges[node] = append(g.sinkEdges[node], sinkEdge{sink: sink})
}

// Operator returns the operator registered at id, or nil if there is none.
// Used by the subscription driver to reach into a compiled graph's topk
// node for its pull-budget hooks (DataNeeded/WindowFull).
func (g *Graph) Operator(id NodeID) Operator {
	return g.ops[id]
}

// Finalize freezes the graph's topology. Required before the first Run.
func (g *Graph) Finalize() {
	g.finalized = true
}

func (g *Graph) mustNotBeFinalized(op string) {
	if g.finalized {
		panic("dataflow: " + op + " called on a finalized graph")
	}
}

// Input is a root entry point into the graph, returned by NewInput.
type Input struct {
	graph *Graph
	node  NodeID
}

// NewInput allocates a new root input node driven by a pass-through
// operator, so inputs compose with Connect/ConnectSink like any other node.
func (g *Graph) NewInput() (*Input, NodeID) {
	id := g.AddOperator(passThrough{})
	return &Input{graph: g, node: id}, id
}

type passThrough struct{}

func (passThrough) Process(_ int, batch *multiset.Batch) *multiset.Batch { return batch }

// SendData enqueues batch for processing at this input's node. If called
// while Run is in progress the batch is processed within the same pass (it
// is simply appended to the still-draining queue); otherwise it is picked up
// by the next call to Run.
func (in *Input) SendData(batch *multiset.Batch) {
	if batch.Len() == 0 {
		return
	}
	in.graph.enqueue(pendingWork{node: in.node, port: 0, batch: batch})
}

func (g *Graph) enqueue(w pendingWork) {
	g.queue = append(g.queue, w)
}

// Run drains all pending work to a fixpoint: every batch delivered to any
// input (directly, or produced by an operator along the way) is processed
// until no node has pending work. Run is not reentrant; the caller must not
// invoke Run or SendData from within a Sink.Consume callback triggered by
// this same Run call other than through the normal return path.
func (g *Graph) Run() {
	if g.running {
		panic("dataflow: Run is not reentrant")
	}
	g.running = true
	defer func() { g.running = false }()

	for len(g.queue) > 0 {
		w := g.queue[0]
		g.queue = g.queue[1:]

		op, ok := g.ops[w.node]
		if !ok {
			continue
		}
		out := op.Process(w.port, w.batch)
		if out.Len() == 0 {
			continue
		}
		for _, e := range g.outEdges[w.node] {
			g.enqueue(pendingWork{node: e.toNode, port: e.toPort, batch: out})
		}
		for _, se := range g.sinkEdges[w.node] {
			se.sink.Consume(out)
		}
	}
}

// Teardown releases operator state. Per spec §9, a compiled graph's
// operator state is non-reusable after teardown; the compiler must recompile
// from the IR to run the query again, and any compiled-graph cache entry for
// this graph must be invalidated by the caller.
func (g *Graph) Teardown() {
	g.ops = nil
	g.outEdges = nil
	g.sinkEdges = nil
	g.queue = nil
}
