// Package engine runs the transition graph pipeline end to end.
//
// It reads users and queries from a Source, turns each user's queries into
// a local transition graph on a bounded worker pool, folds the local graphs
// into a single global graph and optionally caches the result in a
// GraphStore so later runs can skip the expensive part.
//
// Basic usage:
//
//	opts := engine.DefaultOptions()
//	opts.StorePath = "./out/interactive-edges.json"
//	eng, err := engine.New(src, sequencer, opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := eng.Run(ctx)
package engine

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/sanonone/lupe/pkg/category"
	"github.com/sanonone/lupe/pkg/graph"
	"github.com/sanonone/lupe/pkg/persistence"
	"github.com/sanonone/lupe/pkg/source"
)

// ErrInvalidOptions is returned by Options.Validate.
var ErrInvalidOptions = errors.New("invalid engine options")

// Options configures a run.
type Options struct {
	// QueryType selects interactive or scheduled queries.
	QueryType source.QueryType

	// SourcePattern restricts the run to queries over matching sources or
	// sourcetypes. Empty means every query.
	SourcePattern string

	// Policy chooses how per-user transitions are combined.
	Policy graph.Policy

	// Workers bounds concurrent per-user work. Each worker fetches one user's
	// queries and builds that user's local graph.
	Workers int

	// StorePath is where the edge record is cached. Empty disables caching.
	StorePath string

	// Force recomputes even when a record already exists at StorePath.
	Force bool
}

// DefaultOptions returns the settings of a plain interactive analysis.
//
// Defaults:
//   - QueryType: interactive
//   - Policy: user-weighted
//   - Workers: number of CPUs
//   - No caching
func DefaultOptions() Options {
	return Options{
		QueryType: source.Interactive,
		Policy:    graph.UserWeighted,
		Workers:   runtime.NumCPU(),
	}
}

// Validate checks the options before any I/O happens.
func (o Options) Validate() error {
	if _, err := source.NewFilter(o.QueryType, o.SourcePattern); err != nil {
		return err
	}
	if o.Policy != graph.Unweighted && o.Policy != graph.UserWeighted {
		return fmt.Errorf("%w: %v", graph.ErrInvalidPolicy, o.Policy)
	}
	if o.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalidOptions, o.Workers)
	}
	if o.Force && o.StorePath == "" {
		return fmt.Errorf("%w: force requires a store path", ErrInvalidOptions)
	}
	return nil
}

// Engine ties a source and a sequencer to a set of options.
type Engine struct {
	src    source.Source
	seq    category.Sequencer
	filter *source.Filter
	store  *persistence.GraphStore
	opts   Options
}

// New validates opts and prepares an engine. It does not touch the source.
func New(src source.Source, seq category.Sequencer, opts Options) (*Engine, error) {
	if src == nil || seq == nil {
		return nil, fmt.Errorf("%w: source and sequencer are required", ErrInvalidOptions)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	filter, err := source.NewFilter(opts.QueryType, opts.SourcePattern)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		src:    src,
		seq:    seq,
		filter: filter,
		opts:   opts,
	}
	if opts.StorePath != "" {
		e.store = persistence.NewGraphStore(opts.StorePath)
	}
	return e, nil
}

// Options returns the options the engine was built with.
func (e *Engine) Options() Options {
	return e.opts
}
