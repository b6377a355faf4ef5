package graph

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/sanonone/lupe/pkg/category"
	"github.com/tidwall/btree"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

// NormalizationTolerance is the slack allowed when checking that a node's
// outgoing probabilities sum to one.
const NormalizationTolerance = 1e-9

var (
	// ErrDuplicateEdge is returned when a graph lists the same src/dst pair twice.
	ErrDuplicateEdge = errors.New("duplicate edge")

	// ErrInvalidWeight rejects NaN, infinite and negative weights.
	ErrInvalidWeight = errors.New("edge weight must be a finite non-negative number")

	// ErrNotNormalized is returned by CheckNormalized.
	ErrNotNormalized = errors.New("outgoing probabilities do not sum to 1")
)

// Edge is a directed transition between two categories.
// In a GlobalGraph the weight is a probability. Negligible edges are only
// produced by Repair: they keep the pre-threshold weight for reference but
// are not part of the visible distribution.
type Edge struct {
	Src        category.Category
	Dst        category.Category
	Weight     float64
	Negligible bool
}

// NegligibleLabel marks repair edges wherever an edge label is rendered.
const NegligibleLabel = "Negligible"

// Label is the display form of the weight.
func (e Edge) Label() string {
	if e.Negligible {
		return NegligibleLabel
	}
	return strconv.FormatFloat(e.Weight, 'f', 2, 64)
}

// edgeLess orders edges by weight descending, then by src and dst.
func edgeLess(a, b Edge) bool {
	if a.Weight != b.Weight {
		return a.Weight > b.Weight
	}
	if a.Src != b.Src {
		return a.Src < b.Src
	}
	return a.Dst < b.Dst
}

// SortEdges sorts in place using the canonical edge order.
func SortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool { return edgeLess(edges[i], edges[j]) })
}

// GlobalGraph is the aggregated transition graph. It is immutable once built.
type GlobalGraph struct {
	out   map[category.Category]map[category.Category]float64
	in    map[category.Category]map[category.Category]float64
	index *btree.BTreeG[Edge]
}

// NewGlobalGraph builds a graph from an edge list. No normalization is
// applied; the caller decides whether weights are probabilities.
func NewGlobalGraph(edges []Edge) (*GlobalGraph, error) {
	g := newGlobalGraph()
	for _, e := range edges {
		if math.IsNaN(e.Weight) || math.IsInf(e.Weight, 0) || e.Weight < 0 {
			return nil, fmt.Errorf("%w: %s->%s = %v", ErrInvalidWeight, e.Src, e.Dst, e.Weight)
		}
		if _, dup := g.Weight(e.Src, e.Dst); dup {
			return nil, fmt.Errorf("%w: %s->%s", ErrDuplicateEdge, e.Src, e.Dst)
		}
		g.set(e.Src, e.Dst, e.Weight)
	}
	return g, nil
}

func newGlobalGraph() *GlobalGraph {
	return &GlobalGraph{
		out:   make(map[category.Category]map[category.Category]float64),
		in:    make(map[category.Category]map[category.Category]float64),
		index: btree.NewBTreeG[Edge](edgeLess),
	}
}

func (g *GlobalGraph) set(src, dst category.Category, w float64) {
	if g.out[src] == nil {
		g.out[src] = make(map[category.Category]float64)
	}
	if g.in[dst] == nil {
		g.in[dst] = make(map[category.Category]float64)
	}
	g.out[src][dst] = w
	g.in[dst][src] = w
	g.index.Set(Edge{Src: src, Dst: dst, Weight: w})
}

// Len is the number of edges.
func (g *GlobalGraph) Len() int {
	return g.index.Len()
}

// Weight returns the src->dst weight and whether the edge exists.
func (g *GlobalGraph) Weight(src, dst category.Category) (float64, bool) {
	w, ok := g.out[src][dst]
	return w, ok
}

// Edges returns every edge in canonical order (weight descending).
func (g *GlobalGraph) Edges() []Edge {
	edges := make([]Edge, 0, g.index.Len())
	g.index.Scan(func(e Edge) bool {
		edges = append(edges, e)
		return true
	})
	return edges
}

// Out returns the edges leaving src, heaviest first, ties by dst.
func (g *GlobalGraph) Out(src category.Category) []Edge {
	edges := make([]Edge, 0, len(g.out[src]))
	for dst, w := range g.out[src] {
		edges = append(edges, Edge{Src: src, Dst: dst, Weight: w})
	}
	SortEdges(edges)
	return edges
}

// In returns the edges entering dst, heaviest first, ties by src.
func (g *GlobalGraph) In(dst category.Category) []Edge {
	edges := make([]Edge, 0, len(g.in[dst]))
	for src, w := range g.in[dst] {
		edges = append(edges, Edge{Src: src, Dst: dst, Weight: w})
	}
	SortEdges(edges)
	return edges
}

// Nodes returns every category touching at least one edge, sorted.
func (g *GlobalGraph) Nodes() []category.Category {
	seen := make(map[category.Category]struct{}, len(g.out)+len(g.in))
	for c := range g.out {
		seen[c] = struct{}{}
	}
	for c := range g.in {
		seen[c] = struct{}{}
	}
	nodes := make([]category.Category, 0, len(seen))
	for c := range seen {
		nodes = append(nodes, c)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes
}

// OutSum is the sum of src's outgoing weights.
func (g *GlobalGraph) OutSum(src category.Category) float64 {
	ws := make([]float64, 0, len(g.out[src]))
	for _, e := range g.Out(src) {
		ws = append(ws, e.Weight)
	}
	return floats.Sum(ws)
}

// CheckNormalized verifies that every node with outgoing edges has outgoing
// weights summing to 1 within tol. It only holds before thresholding.
func (g *GlobalGraph) CheckNormalized(tol float64) error {
	for _, src := range g.Nodes() {
		if len(g.out[src]) == 0 {
			continue
		}
		if sum := g.OutSum(src); !scalar.EqualWithinAbs(sum, 1, tol) {
			return fmt.Errorf("%w: %s sums to %v", ErrNotNormalized, src, sum)
		}
	}
	return nil
}

// CheckSentinels verifies that Start is never a destination and End is
// never a source.
func (g *GlobalGraph) CheckSentinels() error {
	if len(g.in[category.Start]) > 0 {
		return fmt.Errorf("%s appears as a destination", category.Start)
	}
	if len(g.out[category.End]) > 0 {
		return fmt.Errorf("%s appears as a source", category.End)
	}
	return nil
}
