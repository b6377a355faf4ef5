package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sanonone/lupe/pkg/category"
	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"
)

// ErrInvalidThreshold rejects thresholds outside (0, 1].
var ErrInvalidThreshold = errors.New("threshold must be in (0, 1]")

// ValidateThreshold checks that tau lies in (0, 1].
func ValidateThreshold(tau float64) error {
	if !(tau > 0 && tau <= 1) {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, tau)
	}
	return nil
}

// RepairedGraph is the visible part of a GlobalGraph after thresholding, plus
// the negligible edges inserted so that every visible node can be entered and
// left. Its weights no longer sum to 1 per node, and are not meant to.
type RepairedGraph struct {
	Threshold float64
	// Edges holds visible edges followed by repair edges, each group in
	// canonical order.
	Edges []Edge
	// Unrepaired lists nodes that needed a repair edge the source graph
	// could not supply.
	Unrepaired []category.Category

	ids   map[category.Category]int64
	names []category.Category
	topo  *simple.WeightedDirectedGraph
}

// Repair drops edges lighter than tau and reinstates, for each surviving node
// lacking an inbound (or outbound) edge, the heaviest pre-threshold edge into
// (or out of) it. Self-loops never count toward degree and are never chosen.
// Ties between candidates go to the lexically smaller neighbour.
func Repair(g *GlobalGraph, tau float64) (*RepairedGraph, error) {
	if err := ValidateThreshold(tau); err != nil {
		return nil, err
	}

	rg := &RepairedGraph{
		Threshold: tau,
		ids:       make(map[category.Category]int64),
		topo:      simple.NewWeightedDirectedGraph(0, 0),
	}

	var visible []Edge
	for _, e := range g.Edges() {
		if e.Weight < tau {
			continue
		}
		visible = append(visible, e)
		rg.link(e)
	}
	rg.Edges = visible

	worklist := make([]category.Category, len(rg.names))
	copy(worklist, rg.names)
	sort.Slice(worklist, func(i, j int) bool { return worklist[i] < worklist[j] })

	var repairs []Edge
	queued := make(map[category.Category]bool, len(worklist))
	for _, c := range worklist {
		queued[c] = true
	}
	enqueue := func(c category.Category) {
		if !queued[c] {
			queued[c] = true
			worklist = append(worklist, c)
		}
	}
	unrepaired := make(map[category.Category]bool)

	for i := 0; i < len(worklist); i++ {
		node := worklist[i]

		if node != category.Start && rg.inDegree(node) == 0 {
			if e, ok := pickCandidate(g.In(node)); ok {
				e.Negligible = true
				repairs = append(repairs, e)
				rg.link(e)
				enqueue(e.Src)
			} else {
				unrepaired[node] = true
			}
		}

		if node != category.End && rg.outDegree(node) == 0 {
			if e, ok := pickCandidate(g.Out(node)); ok {
				e.Negligible = true
				repairs = append(repairs, e)
				rg.link(e)
				enqueue(e.Dst)
			} else {
				unrepaired[node] = true
			}
		}
	}

	SortEdges(repairs)
	rg.Edges = append(rg.Edges, repairs...)
	for c := range unrepaired {
		rg.Unrepaired = append(rg.Unrepaired, c)
	}
	sort.Slice(rg.Unrepaired, func(i, j int) bool { return rg.Unrepaired[i] < rg.Unrepaired[j] })
	return rg, nil
}

// pickCandidate returns the heaviest non-self edge. edges must already be in
// canonical order, which puts the lexically smaller neighbour first on ties.
func pickCandidate(edges []Edge) (Edge, bool) {
	for _, e := range edges {
		if e.Src == e.Dst {
			continue
		}
		return e, true
	}
	return Edge{}, false
}

func (rg *RepairedGraph) node(c category.Category) gonumgraph.Node {
	id, ok := rg.ids[c]
	if !ok {
		id = int64(len(rg.names))
		rg.ids[c] = id
		rg.names = append(rg.names, c)
		rg.topo.AddNode(simple.Node(id))
	}
	return rg.topo.Node(id)
}

// link records e's endpoints as surviving nodes and, unless it is a
// self-loop, adds it to the degree topology.
func (rg *RepairedGraph) link(e Edge) {
	from, to := rg.node(e.Src), rg.node(e.Dst)
	if e.Src == e.Dst {
		return
	}
	rg.topo.SetWeightedEdge(rg.topo.NewWeightedEdge(from, to, e.Weight))
}

func (rg *RepairedGraph) inDegree(c category.Category) int {
	id, ok := rg.ids[c]
	if !ok {
		return 0
	}
	return rg.topo.To(id).Len()
}

func (rg *RepairedGraph) outDegree(c category.Category) int {
	id, ok := rg.ids[c]
	if !ok {
		return 0
	}
	return rg.topo.From(id).Len()
}

// Nodes returns every surviving node, sorted.
func (rg *RepairedGraph) Nodes() []category.Category {
	nodes := make([]category.Category, len(rg.names))
	copy(nodes, rg.names)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes
}

// Degree returns the in- and out-degree of c, self-loops excluded.
func (rg *RepairedGraph) Degree(c category.Category) (in, out int) {
	return rg.inDegree(c), rg.outDegree(c)
}

// Unreachable lists surviving nodes that cannot be reached from Start.
// If Start did not survive, every node is unreachable.
func (rg *RepairedGraph) Unreachable() []category.Category {
	startID, ok := rg.ids[category.Start]
	var bf traverse.BreadthFirst
	if ok {
		bf.Walk(rg.topo, rg.topo.Node(startID), nil)
	}
	var out []category.Category
	for _, c := range rg.Nodes() {
		if c == category.Start && ok {
			continue
		}
		if !ok || !bf.Visited(simple.Node(rg.ids[c])) {
			out = append(out, c)
		}
	}
	return out
}
