package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Global collectors, registered on the default registry via promauto.
// A batch run has no scrape endpoint, so WriteTextfile dumps them for the
// node exporter textfile collector.

var (
	// 1. Users (Counter)
	// Labelled by outcome: contributing, empty, excluded.
	UsersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lupe_users_total",
			Help: "Users processed, by outcome",
		},
		[]string{"outcome"},
	)

	// 2. Queries (Counter)
	// Labelled by status: included, filtered, uncategorized.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lupe_queries_total",
			Help: "Queries read from the source, by status",
		},
		[]string{"status"},
	)

	// 3. Stage Duration (Histogram)
	// Covers sub-millisecond repairs up to multi-minute aggregations.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lupe_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"stage"},
	)

	// 4. Graph Size (Gauge)
	GraphEdges = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lupe_graph_edges",
			Help: "Number of edges in the last produced graph",
		},
		[]string{"graph"},
	)

	// 5. Runs (Counter)
	// Labelled by whether the graph was computed or read from the store.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lupe_runs_total",
			Help: "Engine runs, by result",
		},
		[]string{"result"},
	)
)

// WriteTextfile writes every registered metric to path in the text
// exposition format. The write is atomic.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
