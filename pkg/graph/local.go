package graph

import (
	"sort"

	"github.com/sanonone/lupe/pkg/category"
)

// LocalGraph holds one user's raw transition counts.
// It is built once by BuildLocal and only read afterwards.
type LocalGraph struct {
	counts map[category.Category]map[category.Category]int
	totals map[category.Category]int
	seqs   int
}

// BuildLocal counts every adjacent pair inside every sequence. Pairs never
// span two sequences, and sequences shorter than two categories add nothing.
func BuildLocal(seqs []category.Sequence) *LocalGraph {
	lg := &LocalGraph{
		counts: make(map[category.Category]map[category.Category]int),
		totals: make(map[category.Category]int),
	}
	for _, seq := range seqs {
		if len(seq) < 2 {
			continue
		}
		added := false
		for i := 0; i < len(seq)-1; i++ {
			src, dst := seq[i], seq[i+1]
			// Start is never entered and End is never left.
			if src == category.End || dst == category.Start {
				continue
			}
			dsts, ok := lg.counts[src]
			if !ok {
				dsts = make(map[category.Category]int)
				lg.counts[src] = dsts
			}
			dsts[dst]++
			lg.totals[src]++
			added = true
		}
		if added {
			lg.seqs++
		}
	}
	return lg
}

// Empty is true when the user contributed no transitions.
func (lg *LocalGraph) Empty() bool {
	return len(lg.counts) == 0
}

// Sequences is the number of sequences that contributed at least one pair.
func (lg *LocalGraph) Sequences() int {
	return lg.seqs
}

// Count returns the number of observed src->dst transitions.
func (lg *LocalGraph) Count(src, dst category.Category) int {
	return lg.counts[src][dst]
}

// OutTotal is the number of transitions leaving src.
func (lg *LocalGraph) OutTotal(src category.Category) int {
	return lg.totals[src]
}

// Sources returns every category with outgoing transitions, sorted.
func (lg *LocalGraph) Sources() []category.Category {
	out := make([]category.Category, 0, len(lg.counts))
	for src := range lg.counts {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Conditional returns P(dst|src) for this user alone. The second result is
// false when the user never left src.
func (lg *LocalGraph) Conditional(src, dst category.Category) (float64, bool) {
	total := lg.totals[src]
	if total == 0 {
		return 0, false
	}
	return float64(lg.counts[src][dst]) / float64(total), true
}

// each calls fn for every (src, dst, count) triple.
func (lg *LocalGraph) each(fn func(src, dst category.Category, n int)) {
	for src, dsts := range lg.counts {
		for dst, n := range dsts {
			fn(src, dst, n)
		}
	}
}
