package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sanonone/lupe/pkg/category"
)

// Policy selects how local graphs are weighted against each other.
type Policy int

const (
	// Unweighted pools raw counts across users, so heavy users dominate in
	// proportion to their query volume.
	Unweighted Policy = iota
	// UserWeighted averages each user's own conditional probabilities, over
	// the users that actually left a given source. Every user has one vote.
	UserWeighted
)

// ErrInvalidPolicy is returned for an unknown aggregation policy.
var ErrInvalidPolicy = errors.New("invalid aggregation policy")

func (p Policy) String() string {
	switch p {
	case Unweighted:
		return "unweighted"
	case UserWeighted:
		return "user-weighted"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy accepts "unweighted" and "user-weighted".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "unweighted", "volume-weighted":
		return Unweighted, nil
	case "user-weighted", "user":
		return UserWeighted, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

type edgeKey struct {
	src, dst category.Category
}

// Aggregator folds local graphs into the accumulators behind both policies.
// It is not safe for concurrent use: a single goroutine owns it and receives
// finished local graphs from the workers.
type Aggregator struct {
	counts    map[edgeKey]int
	condSum   map[edgeKey]float64
	srcUsers  map[category.Category]int
	users     int
	sequences int
}

// NewAggregator returns an empty accumulator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		counts:   make(map[edgeKey]int),
		condSum:  make(map[edgeKey]float64),
		srcUsers: make(map[category.Category]int),
	}
}

// Fold adds one user's local graph. Empty graphs are ignored, so users with
// no categorizable queries never enter a denominator.
func (a *Aggregator) Fold(lg *LocalGraph) {
	if lg == nil || lg.Empty() {
		return
	}
	a.users++
	a.sequences += lg.Sequences()
	for src := range lg.totals {
		a.srcUsers[src]++
	}
	lg.each(func(src, dst category.Category, n int) {
		k := edgeKey{src, dst}
		a.counts[k] += n
		p, _ := lg.Conditional(src, dst)
		a.condSum[k] += p
	})
}

// Users is the number of non-empty local graphs folded so far.
func (a *Aggregator) Users() int {
	return a.users
}

// Sequences is the number of sequences behind the folded graphs.
func (a *Aggregator) Sequences() int {
	return a.sequences
}

// Graph produces the normalized global graph for the given policy.
func (a *Aggregator) Graph(p Policy) (*GlobalGraph, error) {
	switch p {
	case Unweighted:
		return a.unweighted(), nil
	case UserWeighted:
		return a.userWeighted(), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, p)
	}
}

func (a *Aggregator) sortedKeys() []edgeKey {
	keys := make([]edgeKey, 0, len(a.counts))
	for k := range a.counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].src != keys[j].src {
			return keys[i].src < keys[j].src
		}
		return keys[i].dst < keys[j].dst
	})
	return keys
}

func (a *Aggregator) unweighted() *GlobalGraph {
	totals := make(map[category.Category]int)
	for k, n := range a.counts {
		totals[k.src] += n
	}
	g := newGlobalGraph()
	for _, k := range a.sortedKeys() {
		total := totals[k.src]
		if total == 0 {
			continue
		}
		g.set(k.src, k.dst, float64(a.counts[k])/float64(total))
	}
	return g
}

func (a *Aggregator) userWeighted() *GlobalGraph {
	g := newGlobalGraph()
	for _, k := range a.sortedKeys() {
		n := a.srcUsers[k.src]
		if n == 0 {
			continue
		}
		g.set(k.src, k.dst, a.condSum[k]/float64(n))
	}
	return g
}
