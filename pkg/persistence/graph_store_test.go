package persistence

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sanonone/lupe/pkg/category"
	"github.com/sanonone/lupe/pkg/graph"
)

func sampleGraph(t *testing.T) *graph.GlobalGraph {
	t.Helper()
	g, err := graph.NewGlobalGraph([]graph.Edge{
		{Src: category.Start, Dst: "Filter", Weight: 1},
		{Src: "Filter", Dst: "Aggregate", Weight: 2.0 / 3.0},
		{Src: "Filter", Dst: "Output", Weight: 1.0 / 3.0},
		{Src: "Aggregate", Dst: category.End, Weight: 1},
		{Src: "Output", Dst: category.End, Weight: 1},
	})
	if err != nil {
		t.Fatalf("NewGlobalGraph failed: %v", err)
	}
	return g
}

func TestGraphStoreRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewGraphStore(filepath.Join(tmpDir, "edges.json"))

	if store.Exists() {
		t.Fatal("store should not exist before Save")
	}

	// 1. Save
	g := sampleGraph(t)
	rec := NewRecord("3 queries represented", g)
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !store.Exists() {
		t.Fatal("store should exist after Save")
	}
	if _, err := os.Stat(store.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}

	// 2. Load and compare
	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Title != rec.Title {
		t.Errorf("title = %q, want %q", loaded.Title, rec.Title)
	}
	if diff := cmp.Diff(g.Edges(), loaded.Edges); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}

	// 3. Rebuilt graph keeps its weights
	rg, err := loaded.Graph()
	if err != nil {
		t.Fatal(err)
	}
	if w, _ := rg.Weight("Filter", "Aggregate"); w != 2.0/3.0 {
		t.Errorf("Filter->Aggregate = %v after round trip", w)
	}
}

func TestGraphStoreFormat(t *testing.T) {
	store := NewGraphStore(filepath.Join(t.TempDir(), "edges.json"))
	if err := store.Save(NewRecord("t", sampleGraph(t))); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.Contains(text, `"title": "t"`) {
		t.Errorf("missing title in %s", text)
	}
	// Heaviest edge first; ties resolved by source name.
	first := strings.Index(text, `"Aggregate",`)
	second := strings.Index(text, `"Filter",`)
	if first < 0 || second < 0 || first > second {
		t.Errorf("edges not in canonical order:\n%s", text)
	}
}

func TestGraphStoreOverwrite(t *testing.T) {
	store := NewGraphStore(filepath.Join(t.TempDir(), "nested", "edges.json"))
	if err := store.Save(NewRecord("first", sampleGraph(t))); err != nil {
		t.Fatal(err)
	}
	empty, _ := graph.NewGlobalGraph(nil)
	if err := store.Save(NewRecord("second", empty)); err != nil {
		t.Fatal(err)
	}
	rec, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if rec.Title != "second" || len(rec.Edges) != 0 {
		t.Errorf("unexpected record after overwrite: %+v", rec)
	}
}

func TestGraphStoreMissing(t *testing.T) {
	store := NewGraphStore(filepath.Join(t.TempDir(), "absent.json"))
	if _, err := store.Load(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestGraphStoreCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated", `{"title": "x", "edges": [[["<start>", "Filter"], 1`},
		{"bad tuple", `{"title": "x", "edges": [["<start>", "Filter", 1]]}`},
		{"duplicate edge", `{"title": "x", "edges": [[["<start>", "Filter"], 1], [["<start>", "Filter"], 1]]}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "edges.json")
			if err := os.WriteFile(path, []byte(tc.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := NewGraphStore(path).Load(); !errors.Is(err, ErrCorrupt) {
				t.Errorf("Load() error = %v, want ErrCorrupt", err)
			}
		})
	}
}
