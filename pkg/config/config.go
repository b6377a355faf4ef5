// Package config holds the settings of a lupe run and their YAML form.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/sanonone/lupe/pkg/engine"
	"github.com/sanonone/lupe/pkg/graph"
	"github.com/sanonone/lupe/pkg/source"
)

// Source kinds.
const (
	SourceJSONL    = "jsonl"
	SourceSQLite   = "sqlite"
	SourcePostgres = "postgres"
)

// DefaultThreshold hides transitions under 20% in rendered graphs.
const DefaultThreshold = 0.2

// ErrInvalidConfig is returned by Validate for settings no run can use.
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	// Input
	Source string `yaml:"source"` // "jsonl", "sqlite" or "postgres"
	Path   string `yaml:"path"`   // JSON-lines file or SQLite database
	DSN    string `yaml:"dsn"`    // Postgres connection string

	// Selection
	QueryType    string `yaml:"query_type"`    // "interactive" or "scheduled"
	SourceFilter string `yaml:"source_filter"` // regexp over source/sourcetype

	// Aggregation
	Policy  string `yaml:"policy"` // "user-weighted" or "unweighted"
	Workers int    `yaml:"workers"`

	// Edge record cache
	StorePath string `yaml:"store_path"` // empty derives the name from the selection and policy
	Force     bool   `yaml:"force"`

	// Rendering
	Threshold float64 `yaml:"threshold"` // DOT visibility threshold, in (0, 1]

	// Path enumeration
	Epsilon  float64 `yaml:"epsilon"`
	MaxDepth int     `yaml:"max_depth"`

	// Categorization overrides; empty uses the built-in tables
	AlphabetPath string `yaml:"alphabet_path"`
	CommandsPath string `yaml:"commands_path"`

	MetricsFile string `yaml:"metrics_file"`
}

// DefaultConfig returns the settings of a plain interactive analysis of a
// JSON-lines export.
func DefaultConfig() Config {
	paths := graph.DefaultPathOptions()
	return Config{
		Source:    SourceJSONL,
		QueryType: source.Interactive.String(),
		Policy:    graph.UserWeighted.String(),
		Workers:   runtime.NumCPU(),
		Threshold: DefaultThreshold,
		Epsilon:   paths.Epsilon,
		MaxDepth:  paths.MaxDepth,
	}
}

// Validate checks every field that can be checked without I/O.
func (c Config) Validate() error {
	switch c.Source {
	case SourceJSONL, SourceSQLite:
		if c.Path == "" {
			return fmt.Errorf("%w: source %q requires a path", ErrInvalidConfig, c.Source)
		}
	case SourcePostgres:
		if c.DSN == "" {
			return fmt.Errorf("%w: source %q requires a dsn", ErrInvalidConfig, c.Source)
		}
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidConfig, c.Source)
	}

	if _, err := c.EngineOptions(); err != nil {
		return err
	}
	if err := graph.ValidateThreshold(c.Threshold); err != nil {
		return err
	}
	return c.PathOptions().Validate()
}

// EngineOptions converts the aggregation settings.
func (c Config) EngineOptions() (engine.Options, error) {
	qt, err := source.ParseQueryType(c.QueryType)
	if err != nil {
		return engine.Options{}, err
	}
	policy, err := graph.ParsePolicy(c.Policy)
	if err != nil {
		return engine.Options{}, err
	}
	opts := engine.Options{
		QueryType:     qt,
		SourcePattern: c.SourceFilter,
		Policy:        policy,
		Workers:       c.Workers,
		StorePath:     c.StoreFile(),
		Force:         c.Force,
	}
	if err := opts.Validate(); err != nil {
		return engine.Options{}, err
	}
	return opts, nil
}

// PathOptions converts the enumeration settings.
func (c Config) PathOptions() graph.PathOptions {
	return graph.PathOptions{Epsilon: c.Epsilon, MaxDepth: c.MaxDepth}
}

// StoreFile is the edge record path. Without an explicit store path it is
// derived from everything that shapes the graph, so runs that differ in
// query type, policy or source filter never share a record:
//
//	interactive-user-weighted-edges.json
//	interactive-unweighted-access_combined-<hash>-edges.json
//
// A filter is reduced to filename-safe characters and suffixed with a hash of
// the exact pattern, since different patterns can sanitize alike.
func (c Config) StoreFile() string {
	if c.StorePath != "" {
		return c.StorePath
	}
	parts := []string{
		strings.ToLower(strings.TrimSpace(c.QueryType)),
		strings.ToLower(strings.TrimSpace(c.Policy)),
	}
	if c.SourceFilter != "" {
		parts = append(parts,
			sanitizeFilter(c.SourceFilter),
			fmt.Sprintf("%08x", uint32(xxhash.Sum64String(c.SourceFilter))),
		)
	}
	return strings.Join(parts, "-") + "-edges.json"
}

// maxFilterName bounds the readable part of a filter in a record name.
const maxFilterName = 32

func sanitizeFilter(pattern string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_':
			return r
		default:
			return '_'
		}
	}, pattern)
	if len(name) > maxFilterName {
		name = name[:maxFilterName]
	}
	return name
}
