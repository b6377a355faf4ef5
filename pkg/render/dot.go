package render

import (
	"fmt"
	"io"
	"strconv"

	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/iterator"

	"github.com/sanonone/lupe/pkg/category"
	"github.com/sanonone/lupe/pkg/graph"
)

const (
	startColor = "#74c476"
	endColor   = "#ef6548"
	fontName   = "Bitstream Vera Sans"

	// penScale turns a transition probability into a line width.
	penScale = 5
)

// WriteDOT writes rg as a Graphviz digraph laid out left to right. Start and
// End are filled green and red, visible edges are labelled with their weight
// and drawn proportionally thick, repair edges are dotted and labelled
// "Negligible". title, when set, becomes the graph label.
func WriteDOT(w io.Writer, rg *graph.RepairedGraph, title string) error {
	b, err := dot.Marshal(newDOTGraph(rg, title), "transitions", "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode DOT: %w", err)
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("failed to write DOT: %w", err)
	}
	return nil
}

type attrs []encoding.Attribute

func (a attrs) Attributes() []encoding.Attribute { return a }

type dotNode struct {
	id   int64
	name category.Category
}

func (n dotNode) ID() int64 { return n.id }

// DOTID is always quoted. Left bare, <start> and <end> would be read by
// Graphviz as HTML labels and lose their brackets.
func (n dotNode) DOTID() string { return strconv.Quote(string(n.name)) }

func (n dotNode) Attributes() []encoding.Attribute {
	a := attrs{
		{Key: "shape", Value: "circle"},
		{Key: "height", Value: ".8"},
		{Key: "fontname", Value: fontName},
		{Key: "fontsize", Value: "8"},
	}
	switch n.name.Kind() {
	case category.KindStart:
		a = append(a, encoding.Attribute{Key: "style", Value: "filled"}, encoding.Attribute{Key: "color", Value: startColor})
	case category.KindEnd:
		a = append(a, encoding.Attribute{Key: "style", Value: "filled"}, encoding.Attribute{Key: "color", Value: endColor})
	}
	return a
}

type dotEdge struct {
	from, to dotNode
	edge     graph.Edge
}

func (e dotEdge) From() gonumgraph.Node { return e.from }
func (e dotEdge) To() gonumgraph.Node { return e.to }
func (e dotEdge) ReversedEdge() gonumgraph.Edge { return dotEdge{from: e.to, to: e.from, edge: e.edge} }

func (e dotEdge) Attributes() []encoding.Attribute {
	a := attrs{
		{Key: "label", Value: e.edge.Label()},
		{Key: "fontname", Value: fontName},
		{Key: "fontsize", Value: "16"},
	}
	if e.edge.Negligible {
		return append(a, encoding.Attribute{Key: "style", Value: "dotted"})
	}
	return append(a, encoding.Attribute{Key: "penwidth", Value: strconv.FormatFloat(penScale*e.edge.Weight, 'f', -1, 64)})
}

// dotGraph is a read-only directed view of a repaired graph. Unlike the
// gonum simple graphs it keeps self-loops, which are part of the picture.
// Node IDs follow the sorted node names so the output is stable.
type dotGraph struct {
	title string
	nodes []gonumgraph.Node
	ids   map[category.Category]int64
	from  map[int64][]gonumgraph.Node
	to    map[int64][]gonumgraph.Node
	edges map[[2]int64]dotEdge
}

func newDOTGraph(rg *graph.RepairedGraph, title string) *dotGraph {
	g := &dotGraph{
		title: title,
		ids:   make(map[category.Category]int64),
		from:  make(map[int64][]gonumgraph.Node),
		to:    make(map[int64][]gonumgraph.Node),
		edges: make(map[[2]int64]dotEdge),
	}
	for i, c := range rg.Nodes() {
		g.ids[c] = int64(i)
		g.nodes = append(g.nodes, dotNode{id: int64(i), name: c})
	}
	for _, e := range rg.Edges {
		from := g.nodes[g.ids[e.Src]].(dotNode)
		to := g.nodes[g.ids[e.Dst]].(dotNode)
		key := [2]int64{from.id, to.id}
		if _, dup := g.edges[key]; dup {
			continue
		}
		g.edges[key] = dotEdge{from: from, to: to, edge: e}
		g.from[from.id] = append(g.from[from.id], to)
		g.to[to.id] = append(g.to[to.id], from)
	}
	return g
}

func (g *dotGraph) Node(id int64) gonumgraph.Node {
	if id < 0 || id >= int64(len(g.nodes)) {
		return nil
	}
	return g.nodes[id]
}

func (g *dotGraph) Nodes() gonumgraph.Nodes {
	if len(g.nodes) == 0 {
		return gonumgraph.Empty
	}
	return iterator.NewOrderedNodes(g.nodes)
}

func (g *dotGraph) From(id int64) gonumgraph.Nodes {
	if len(g.from[id]) == 0 {
		return gonumgraph.Empty
	}
	return iterator.NewOrderedNodes(g.from[id])
}

func (g *dotGraph) To(id int64) gonumgraph.Nodes {
	if len(g.to[id]) == 0 {
		return gonumgraph.Empty
	}
	return iterator.NewOrderedNodes(g.to[id])
}

func (g *dotGraph) HasEdgeBetween(xid, yid int64) bool {
	return g.HasEdgeFromTo(xid, yid) || g.HasEdgeFromTo(yid, xid)
}

func (g *dotGraph) HasEdgeFromTo(uid, vid int64) bool {
	_, ok := g.edges[[2]int64{uid, vid}]
	return ok
}

func (g *dotGraph) Edge(uid, vid int64) gonumgraph.Edge {
	e, ok := g.edges[[2]int64{uid, vid}]
	if !ok {
		return nil
	}
	return e
}

// DOTAttributers supplies the graph-wide attributes.
func (g *dotGraph) DOTAttributers() (graphAttrs, nodeAttrs, edgeAttrs encoding.Attributer) {
	ga := attrs{{Key: "rankdir", Value: "LR"}}
	if g.title != "" {
		ga = append(ga, encoding.Attribute{Key: "label", Value: g.title}, encoding.Attribute{Key: "labelloc", Value: "t"})
	}
	return ga, attrs{}, attrs{}
}
