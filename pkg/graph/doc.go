// Package graph is the transition graph engine.
//
// It turns per-user category sequences into per-user transition counts
// (LocalGraph), folds those into a normalized global Markov chain under one
// of two weighting policies (Aggregator, GlobalGraph), prepares a thresholded
// and connectivity-repaired view for rendering (Repair), and enumerates the
// most likely stage paths through the chain (EnumeratePaths).
//
// Basic usage:
//
//	agg := graph.NewAggregator()
//	for _, seqs := range perUser {
//	    agg.Fold(graph.BuildLocal(seqs))
//	}
//	g, _ := agg.Graph(graph.UserWeighted)
//	paths, _ := graph.EnumeratePaths(g, graph.DefaultPathOptions())
package graph
