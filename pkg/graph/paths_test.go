package graph

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sanonone/lupe/pkg/category"
)

func TestEnumeratePathsScenario(t *testing.T) {
	g, _ := aggregateUsers(scenarioUsers()).Graph(UserWeighted)

	paths, err := EnumeratePaths(g, PathOptions{Epsilon: 0, MaxDepth: 4})
	if err != nil {
		t.Fatalf("EnumeratePaths failed: %v", err)
	}

	want := []Path{
		{Stages: []category.Category{category.Start, filter, aggregate, category.End}, Probability: 0.5},
		{Stages: []category.Category{category.Start, filter, output, category.End}, Probability: 0.5},
	}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestEnumeratePathsDepthBound(t *testing.T) {
	g, _ := aggregateUsers(scenarioUsers()).Graph(UserWeighted)

	// Start, Filter, X, End needs depth 4: with 3 nothing reaches End.
	paths, err := EnumeratePaths(g, PathOptions{MaxDepth: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 0 {
		t.Errorf("expected no paths at MaxDepth 3, got %v", paths)
	}
}

func TestEnumeratePathsEpsilonPrunes(t *testing.T) {
	g, _ := aggregateUsers(scenarioUsers()).Graph(Unweighted)

	paths, err := EnumeratePaths(g, PathOptions{Epsilon: 0.5, MaxDepth: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || paths[0].String() != "<start> Filter Aggregate <end>" {
		t.Errorf("expected only the 2/3 path, got %v", paths)
	}
}

func TestEnumeratePathsWithCycles(t *testing.T) {
	g := mustGraph(t, []Edge{
		{Src: category.Start, Dst: filter, Weight: 1},
		{Src: filter, Dst: filter, Weight: 0.5},
		{Src: filter, Dst: category.End, Weight: 0.5},
	})

	paths, err := EnumeratePaths(g, PathOptions{Epsilon: 0, MaxDepth: 6})
	if err != nil {
		t.Fatal(err)
	}
	// Filter repeated 1..4 times fits within 6 stages.
	if len(paths) != 4 {
		t.Fatalf("got %d paths, want 4: %v", len(paths), paths)
	}
	if paths[0].Probability != 0.5 || paths[3].Probability != 0.0625 {
		t.Errorf("unexpected probabilities: %v", paths)
	}
}

func TestEnumeratePathsEmptyStart(t *testing.T) {
	g := mustGraph(t, []Edge{{Src: filter, Dst: category.End, Weight: 1}})
	paths, err := EnumeratePaths(g, DefaultPathOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 0 {
		t.Errorf("expected no paths, got %v", paths)
	}
}

func TestPathOptionsValidate(t *testing.T) {
	bad := []PathOptions{{Epsilon: -1, MaxDepth: 5}, {Epsilon: 0, MaxDepth: 1}}
	for _, o := range bad {
		if _, err := EnumeratePaths(mustGraph(t, nil), o); !errors.Is(err, ErrInvalidPathOptions) {
			t.Errorf("%+v: error = %v, want ErrInvalidPathOptions", o, err)
		}
	}
}

func TestPruningMonotonicity(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	g, _ := aggregateUsers(randomUsers(rng, 30)).Graph(Unweighted)

	count := func(eps float64, depth int) int {
		paths, err := EnumeratePaths(g, PathOptions{Epsilon: eps, MaxDepth: depth})
		if err != nil {
			t.Fatal(err)
		}
		return len(paths)
	}

	prev := count(0, 5)
	for _, eps := range []float64{1e-6, 1e-4, 1e-3, 1e-2, 0.05, 0.2, 1} {
		n := count(eps, 5)
		if n > prev {
			t.Errorf("raising epsilon to %v increased paths from %d to %d", eps, prev, n)
		}
		prev = n
	}

	prev = count(1e-4, 2)
	for depth := 3; depth <= 7; depth++ {
		n := count(1e-4, depth)
		if n < prev {
			t.Errorf("raising max depth to %d decreased paths from %d to %d", depth, prev, n)
		}
		prev = n
	}
}
