package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sanonone/lupe/pkg/category"
	"github.com/sanonone/lupe/pkg/graph"
	"github.com/sanonone/lupe/pkg/metrics"
	"github.com/sanonone/lupe/pkg/persistence"
	"github.com/sanonone/lupe/pkg/source"
)

// exactTitleLimit is the included-query count below which the title states
// the count rather than a percentage.
const exactTitleLimit = 500

// Stats describes what a computed run consumed.
type Stats struct {
	// Users is every user listed by the source.
	Users int
	// ExcludedUsers were dropped by the filter (suspicious accounts).
	ExcludedUsers int
	// ContributingUsers produced at least one transition.
	ContributingUsers int

	// QueriesTotal counts all queries of non-excluded users.
	QueriesTotal int
	// QueriesIncluded passed the filter.
	QueriesIncluded int
	// QueriesUncategorized passed the filter but mapped to no category.
	QueriesUncategorized int
}

// Result is the outcome of a run.
type Result struct {
	RunID string
	Graph *graph.GlobalGraph
	Title string

	// Cached is true when the graph came from the store. Stats are zero then.
	Cached bool
	Stats  Stats

	Duration time.Duration
}

// userResult is what a worker hands to the fold goroutine.
type userResult struct {
	local         *graph.LocalGraph
	excluded      bool
	total         int
	included      int
	uncategorized int
}

// Run produces the global graph, from the store when possible.
//
// A corrupt cached record is logged and recomputed; any other store error
// is returned.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	runID := uuid.New().String()
	start := time.Now()

	if e.store != nil && !e.opts.Force && e.store.Exists() {
		rec, err := e.store.Load()
		switch {
		case err == nil:
			g, err := rec.Graph()
			if err != nil {
				return nil, err
			}
			slog.Info("[Engine] Reusing existing edge record", "run_id", runID, "path", e.store.Path(), "edges", g.Len())
			metrics.RunsTotal.WithLabelValues("cached").Inc()
			metrics.GraphEdges.WithLabelValues("global").Set(float64(g.Len()))
			return &Result{RunID: runID, Graph: g, Title: rec.Title, Cached: true, Duration: time.Since(start)}, nil
		case errors.Is(err, persistence.ErrCorrupt):
			slog.Warn("[Engine] Cached edge record is corrupt, recomputing", "run_id", runID, "error", err)
		default:
			return nil, err
		}
	}

	slog.Info("[Engine] Starting run",
		"run_id", runID,
		"query_type", e.opts.QueryType,
		"policy", e.opts.Policy,
		"workers", e.opts.Workers,
		"source_pattern", e.opts.SourcePattern,
	)

	agg, stats, err := e.aggregate(ctx, runID)
	if err != nil {
		return nil, err
	}

	aggStart := time.Now()
	g, err := agg.Graph(e.opts.Policy)
	if err != nil {
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("normalize").Observe(time.Since(aggStart).Seconds())
	metrics.GraphEdges.WithLabelValues("global").Set(float64(g.Len()))

	res := &Result{
		RunID: runID,
		Graph: g,
		Title: Title(stats.QueriesIncluded, stats.QueriesTotal),
		Stats: stats,
	}

	if e.store != nil {
		if err := e.store.Save(persistence.NewRecord(res.Title, g)); err != nil {
			return nil, err
		}
		slog.Info("[Engine] Edge record saved", "run_id", runID, "path", e.store.Path())
	}

	res.Duration = time.Since(start)
	metrics.RunsTotal.WithLabelValues("computed").Inc()
	metrics.StageDuration.WithLabelValues("total").Observe(res.Duration.Seconds())
	slog.Info("[Engine] Run finished",
		"run_id", runID,
		"users", stats.Users,
		"contributing_users", stats.ContributingUsers,
		"queries_included", stats.QueriesIncluded,
		"queries_total", stats.QueriesTotal,
		"edges", g.Len(),
		"duration", res.Duration,
	)
	return res, nil
}

// aggregate fans user work out to the worker pool and folds the local
// graphs in a single goroutine which owns the Aggregator.
func (e *Engine) aggregate(ctx context.Context, runID string) (*graph.Aggregator, Stats, error) {
	fetchStart := time.Now()
	users, err := e.src.Users(ctx)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("failed to list users: %w", err)
	}
	slog.Debug("[Engine] Users listed", "run_id", runID, "count", len(users))

	agg := graph.NewAggregator()
	stats := Stats{Users: len(users)}

	results := make(chan userResult, e.opts.Workers)
	folded := make(chan struct{})
	go func() {
		defer close(folded)
		for r := range results {
			stats.add(r)
			agg.Fold(r.local)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for _, u := range users {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r, err := e.processUser(gctx, u)
			if err != nil {
				return err
			}
			select {
			case results <- r:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	err = g.Wait()
	close(results)
	<-folded

	if err != nil {
		return nil, Stats{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Stats{}, err
	}
	metrics.StageDuration.WithLabelValues("aggregate").Observe(time.Since(fetchStart).Seconds())
	return agg, stats, nil
}

// processUser fetches, filters and sequences one user's queries.
func (e *Engine) processUser(ctx context.Context, u source.User) (userResult, error) {
	queries, err := e.src.Queries(ctx, u)
	if err != nil {
		return userResult{}, fmt.Errorf("failed to fetch queries for user %s: %w", u.Name, err)
	}

	texts, ok := e.filter.Apply(u, queries)
	if !ok {
		slog.Debug("[Engine] User excluded", "user", u.Name, "type", u.Type)
		return userResult{excluded: true}, nil
	}

	r := userResult{total: len(queries), included: len(texts)}
	seqs := make([]category.Sequence, 0, len(texts))
	for _, text := range texts {
		stages := e.seq.Sequence(text)
		if len(stages) == 0 {
			r.uncategorized++
			slog.Debug("[Engine] Query has no category", "user", u.Name, "query", text)
			continue
		}
		seqs = append(seqs, category.Bracket(stages))
	}
	r.local = graph.BuildLocal(seqs)
	if r.local.Empty() {
		slog.Debug("[Engine] User contributes no transitions", "user", u.Name, "queries", len(texts))
	}
	return r, nil
}

func (s *Stats) add(r userResult) {
	if r.excluded {
		s.ExcludedUsers++
		metrics.UsersTotal.WithLabelValues("excluded").Inc()
		return
	}
	s.QueriesTotal += r.total
	s.QueriesIncluded += r.included
	s.QueriesUncategorized += r.uncategorized

	metrics.QueriesTotal.WithLabelValues("included").Add(float64(r.included - r.uncategorized))
	metrics.QueriesTotal.WithLabelValues("uncategorized").Add(float64(r.uncategorized))
	metrics.QueriesTotal.WithLabelValues("filtered").Add(float64(r.total - r.included))

	if r.local == nil || r.local.Empty() {
		metrics.UsersTotal.WithLabelValues("empty").Inc()
		return
	}
	s.ContributingUsers++
	metrics.UsersTotal.WithLabelValues("contributing").Inc()
}

// Title summarises how much of the log a graph represents: an exact count
// for small runs, a percentage of all queries otherwise.
func Title(included, total int) string {
	if included < exactTitleLimit {
		return fmt.Sprintf("%d queries represented", included)
	}
	return fmt.Sprintf("%.2f%% of queries represented", float64(included)/float64(total)*100)
}
