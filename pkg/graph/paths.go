package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sanonone/lupe/pkg/category"
)

// Defaults used by the path tooling.
const (
	DefaultEpsilon  = 0.001
	DefaultMaxDepth = 5
)

// ErrInvalidPathOptions is returned by PathOptions.Validate.
var ErrInvalidPathOptions = errors.New("invalid path options")

// PathOptions bounds the enumeration.
type PathOptions struct {
	// Epsilon prunes any branch whose joint probability drops below it.
	Epsilon float64
	// MaxDepth is the longest pipeline considered, counting both sentinels.
	MaxDepth int
}

// DefaultPathOptions returns the defaults.
func DefaultPathOptions() PathOptions {
	return PathOptions{Epsilon: DefaultEpsilon, MaxDepth: DefaultMaxDepth}
}

// Validate rejects negative epsilon and depths that cannot hold a path.
func (o PathOptions) Validate() error {
	if o.Epsilon < 0 {
		return fmt.Errorf("%w: epsilon %v < 0", ErrInvalidPathOptions, o.Epsilon)
	}
	if o.MaxDepth < 2 {
		return fmt.Errorf("%w: max depth %d < 2", ErrInvalidPathOptions, o.MaxDepth)
	}
	return nil
}

// Path is one Start..End walk and its joint probability.
type Path struct {
	Stages      []category.Category `json:"path"`
	Probability float64             `json:"probability"`
}

func (p Path) String() string {
	return category.Sequence(p.Stages).String()
}

type pathState struct {
	node  category.Category
	path  []category.Category
	prob  float64
	depth int
}

// EnumeratePaths walks the graph depth-first from Start and records every
// path that reaches End before the depth bound with joint probability of at
// least Epsilon. It uses an explicit stack, so MaxDepth only bounds work, not
// call depth. Results are sorted by probability, heaviest first.
func EnumeratePaths(g *GlobalGraph, opts PathOptions) ([]Path, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var paths []Path
	stack := []pathState{{
		node: category.Start,
		path: []category.Category{category.Start},
		prob: 1.0,
	}}

	for len(stack) > 0 {
		st := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if st.prob < opts.Epsilon {
			continue
		}
		if st.node == category.End {
			paths = append(paths, Path{Stages: st.path, Probability: st.prob})
			continue
		}
		if st.depth >= opts.MaxDepth-1 {
			continue
		}

		// Push in reverse so the heaviest edge is expanded first.
		out := g.Out(st.node)
		for i := len(out) - 1; i >= 0; i-- {
			e := out[i]
			next := make([]category.Category, len(st.path), len(st.path)+1)
			copy(next, st.path)
			stack = append(stack, pathState{
				node:  e.Dst,
				path:  append(next, e.Dst),
				prob:  st.prob * e.Weight,
				depth: st.depth + 1,
			})
		}
	}

	SortPaths(paths)
	return paths, nil
}

// SortPaths orders by probability descending, ties by the joined path.
func SortPaths(paths []Path) {
	sort.SliceStable(paths, func(i, j int) bool {
		if paths[i].Probability != paths[j].Probability {
			return paths[i].Probability > paths[j].Probability
		}
		return paths[i].String() < paths[j].String()
	})
}
