package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/sanonone/lupe/pkg/category"
	"github.com/sanonone/lupe/pkg/graph"
)

// Record is the persisted form of an aggregated graph.
//
// On disk it is a JSON object that rendering and path tools read directly:
//
//	{
//	    "title": "1234 queries represented",
//	    "edges": [
//	        [["<start>", "Filter"], 0.83],
//	        ...
//	    ]
//	}
//
// Edges are stored heaviest first.
type Record struct {
	Title string
	Edges []graph.Edge
}

// NewRecord captures a graph and its title.
func NewRecord(title string, g *graph.GlobalGraph) Record {
	return Record{Title: title, Edges: g.Edges()}
}

// Graph rebuilds the global graph held by the record.
func (r Record) Graph() (*graph.GlobalGraph, error) {
	return graph.NewGlobalGraph(r.Edges)
}

type recordJSON struct {
	Title string     `json:"title"`
	Edges []edgeJSON `json:"edges"`
}

// edgeJSON encodes as [[src, dst], weight].
type edgeJSON struct {
	Src, Dst category.Category
	Weight   float64
}

func (e edgeJSON) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{[2]string{string(e.Src), string(e.Dst)}, e.Weight})
}

func (e *edgeJSON) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 2 {
		return fmt.Errorf("edge must be [[src, dst], weight], got %d elements", len(tuple))
	}
	var pair [2]string
	if err := json.Unmarshal(tuple[0], &pair); err != nil {
		return fmt.Errorf("edge endpoints: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &e.Weight); err != nil {
		return fmt.Errorf("edge weight: %w", err)
	}
	e.Src, e.Dst = category.Category(pair[0]), category.Category(pair[1])
	return nil
}

// MarshalJSON writes the on-disk format, edges in canonical order.
func (r Record) MarshalJSON() ([]byte, error) {
	edges := make([]graph.Edge, len(r.Edges))
	copy(edges, r.Edges)
	graph.SortEdges(edges)

	out := recordJSON{Title: r.Title, Edges: make([]edgeJSON, len(edges))}
	for i, e := range edges {
		out.Edges[i] = edgeJSON{Src: e.Src, Dst: e.Dst, Weight: e.Weight}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the on-disk format.
func (r *Record) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.Title = in.Title
	r.Edges = make([]graph.Edge, len(in.Edges))
	for i, e := range in.Edges {
		r.Edges[i] = graph.Edge{Src: e.Src, Dst: e.Dst, Weight: e.Weight}
	}
	return nil
}
