package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sanonone/lupe/pkg/category"
	"github.com/sanonone/lupe/pkg/config"
	"github.com/sanonone/lupe/pkg/engine"
	"github.com/sanonone/lupe/pkg/graph"
	"github.com/sanonone/lupe/pkg/metrics"
	"github.com/sanonone/lupe/pkg/render"
	"github.com/sanonone/lupe/pkg/source"
)

// postgresDSNEnv supplies the Postgres DSN when neither the config file nor
// the flags do. It may come from a .env file.
const postgresDSNEnv = "LUPE_POSTGRES_DSN"

// cli carries the state shared by the subcommands of one invocation.
type cli struct {
	configPath string
	verbose    bool
	format     string
	output     string

	// flags mirrors the config fields the command line can override.
	flags config.Config

	cfg config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{flags: config.DefaultConfig()}

	root := &cobra.Command{
		Use:   "lupe",
		Short: "Mine query logs for category transition graphs",
		Long: `lupe turns each query of a search log into a sequence of transformation
categories, builds a per-user transition graph, combines them into a global
Markov chain and reports its most likely pipelines.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.MetricsFile == "" {
				return nil
			}
			return metrics.WriteTextfile(c.cfg.MetricsFile)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "YAML configuration file")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&c.flags.Source, "source", c.flags.Source, "Query source: jsonl, sqlite or postgres")
	pf.StringVar(&c.flags.Path, "path", "", "JSON-lines file or SQLite database")
	pf.StringVar(&c.flags.DSN, "dsn", "", "Postgres DSN (default $"+postgresDSNEnv+")")
	pf.StringVar(&c.flags.QueryType, "query-type", c.flags.QueryType, "Queries to analyse: interactive or scheduled")
	pf.StringVar(&c.flags.SourceFilter, "filter", "", "Keep only queries over sources or sourcetypes matching this regexp")
	pf.StringVar(&c.flags.Policy, "policy", c.flags.Policy, "Aggregation policy: user-weighted or unweighted")
	pf.IntVar(&c.flags.Workers, "workers", c.flags.Workers, "Concurrent per-user workers")
	pf.StringVar(&c.flags.StorePath, "store", "", "Edge record path (default <query-type>-<policy>[-<filter>]-edges.json)")
	pf.BoolVar(&c.flags.Force, "force", false, "Recompute even if the edge record exists")
	pf.StringVar(&c.flags.MetricsFile, "metrics-file", "", "Write Prometheus metrics to this file when done")
	pf.StringVar(&c.output, "output", "", "Write results to this file instead of stdout")

	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "Build (or reuse) the edge record and print its summary",
		Args:  cobra.NoArgs,
		RunE:  c.runGraph,
	}

	pathsCmd := &cobra.Command{
		Use:   "paths",
		Short: "List the most likely category pipelines",
		Args:  cobra.NoArgs,
		RunE:  c.runPaths,
	}
	pathsCmd.Flags().Float64Var(&c.flags.Epsilon, "epsilon", c.flags.Epsilon, "Prune paths less likely than this")
	pathsCmd.Flags().IntVar(&c.flags.MaxDepth, "max-depth", c.flags.MaxDepth, "Longest path, counting start and end")
	pathsCmd.Flags().StringVar(&c.format, "format", string(render.FormatText), "Output format: text, csv or json")

	dotCmd := &cobra.Command{
		Use:   "dot",
		Short: "Write the thresholded transition graph as Graphviz DOT",
		Args:  cobra.NoArgs,
		RunE:  c.runDOT,
	}
	dotCmd.Flags().Float64Var(&c.flags.Threshold, "threshold", c.flags.Threshold, "Hide transitions lighter than this")

	root.AddCommand(graphCmd, pathsCmd, dotCmd)
	return root
}

// setup configures logging and resolves the configuration: defaults, then
// the config file, then explicitly set flags, then the environment.
func (c *cli) setup(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if c.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

	// Optional .env next to the working directory.
	if err := godotenv.Load(); err == nil {
		slog.Debug("[Config] Loaded .env file")
	}

	cfg, err := config.LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	c.applyFlags(cmd, &cfg)
	if cfg.Source == config.SourcePostgres && cfg.DSN == "" {
		cfg.DSN = os.Getenv(postgresDSNEnv)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	slog.Debug("[Config] Configuration resolved",
		"source", cfg.Source,
		"query_type", cfg.QueryType,
		"policy", cfg.Policy,
		"store", cfg.StoreFile(),
	)
	return nil
}

func (c *cli) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	set := func(name string, apply func()) {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			apply()
		}
	}
	set("source", func() { cfg.Source = c.flags.Source })
	set("path", func() { cfg.Path = c.flags.Path })
	set("dsn", func() { cfg.DSN = c.flags.DSN })
	set("query-type", func() { cfg.QueryType = c.flags.QueryType })
	set("filter", func() { cfg.SourceFilter = c.flags.SourceFilter })
	set("policy", func() { cfg.Policy = c.flags.Policy })
	set("workers", func() { cfg.Workers = c.flags.Workers })
	set("store", func() { cfg.StorePath = c.flags.StorePath })
	set("force", func() { cfg.Force = c.flags.Force })
	set("metrics-file", func() { cfg.MetricsFile = c.flags.MetricsFile })
	set("epsilon", func() { cfg.Epsilon = c.flags.Epsilon })
	set("max-depth", func() { cfg.MaxDepth = c.flags.MaxDepth })
	set("threshold", func() { cfg.Threshold = c.flags.Threshold })
}

func (c *cli) runGraph(cmd *cobra.Command, args []string) error {
	res, err := c.run(cmd.Context())
	if err != nil {
		return err
	}
	return c.withOutput(cmd, func(w io.Writer) error {
		fmt.Fprintf(w, "%s\n", res.Title)
		fmt.Fprintf(w, "edges: %d\n", res.Graph.Len())
		if res.Cached {
			fmt.Fprintf(w, "source: %s (cached)\n", c.cfg.StoreFile())
			return nil
		}
		s := res.Stats
		fmt.Fprintf(w, "users: %d (%d contributing, %d excluded)\n", s.Users, s.ContributingUsers, s.ExcludedUsers)
		_, err := fmt.Fprintf(w, "queries: %d of %d included, %d uncategorized\n", s.QueriesIncluded, s.QueriesTotal, s.QueriesUncategorized)
		return err
	})
}

func (c *cli) runPaths(cmd *cobra.Command, args []string) error {
	format, err := render.ParseFormat(c.format)
	if err != nil {
		return err
	}
	res, err := c.run(cmd.Context())
	if err != nil {
		return err
	}
	paths, err := graph.EnumeratePaths(res.Graph, c.cfg.PathOptions())
	if err != nil {
		return err
	}
	slog.Info("[Paths] Enumeration finished", "run_id", res.RunID, "paths", len(paths))
	return c.withOutput(cmd, func(w io.Writer) error {
		return render.WritePaths(w, format, paths)
	})
}

func (c *cli) runDOT(cmd *cobra.Command, args []string) error {
	res, err := c.run(cmd.Context())
	if err != nil {
		return err
	}
	rg, err := graph.Repair(res.Graph, c.cfg.Threshold)
	if err != nil {
		return err
	}
	metrics.GraphEdges.WithLabelValues("repaired").Set(float64(len(rg.Edges)))
	if len(rg.Unrepaired) > 0 {
		slog.Warn("[Repair] Nodes left without a way in or out", "nodes", rg.Unrepaired)
	}
	if u := rg.Unreachable(); len(u) > 0 {
		slog.Warn("[Repair] Nodes unreachable from start", "nodes", u)
	}
	return c.withOutput(cmd, func(w io.Writer) error {
		return render.WriteDOT(w, rg, res.Title)
	})
}

// run runs the engine over the configured source. The source is only opened
// if the engine needs it, so a cached run never reads the log.
func (c *cli) run(ctx context.Context) (*engine.Result, error) {
	opts, err := c.cfg.EngineOptions()
	if err != nil {
		return nil, err
	}
	seq, err := loadSequencer(c.cfg)
	if err != nil {
		return nil, err
	}
	src := &lazySource{cfg: c.cfg}
	defer src.Close()

	eng, err := engine.New(src, seq, opts)
	if err != nil {
		return nil, err
	}
	return eng.Run(ctx)
}

func (c *cli) withOutput(cmd *cobra.Command, write func(io.Writer) error) error {
	if c.output == "" {
		return write(cmd.OutOrStdout())
	}
	f, err := os.Create(c.output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func loadSequencer(cfg config.Config) (category.Sequencer, error) {
	alphabet := category.DefaultAlphabet()
	if cfg.AlphabetPath != "" {
		a, err := category.LoadAlphabet(cfg.AlphabetPath)
		if err != nil {
			return nil, err
		}
		alphabet = a
	}
	table := category.DefaultCommandTable()
	if cfg.CommandsPath != "" {
		t, err := category.LoadCommandTable(cfg.CommandsPath)
		if err != nil {
			return nil, err
		}
		table = t
	}
	return category.NewTableSequencer(alphabet, table)
}

// lazySource opens the configured source on first use.
type lazySource struct {
	cfg config.Config

	once    sync.Once
	src     source.Source
	closeFn func() error
	err     error
}

func (s *lazySource) open(ctx context.Context) error {
	s.once.Do(func() {
		slog.Debug("[Source] Opening query source", "source", s.cfg.Source)
		s.src, s.closeFn, s.err = openSource(ctx, s.cfg)
	})
	return s.err
}

func (s *lazySource) Users(ctx context.Context) ([]source.User, error) {
	if err := s.open(ctx); err != nil {
		return nil, err
	}
	return s.src.Users(ctx)
}

func (s *lazySource) Queries(ctx context.Context, u source.User) ([]source.Query, error) {
	if err := s.open(ctx); err != nil {
		return nil, err
	}
	return s.src.Queries(ctx, u)
}

// Close releases the source if it was opened.
func (s *lazySource) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// openSource returns the configured source and a function releasing it.
func openSource(ctx context.Context, cfg config.Config) (source.Source, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Source {
	case config.SourceJSONL:
		src, err := source.OpenJSONL(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return src, noop, nil
	case config.SourceSQLite:
		src, err := source.OpenSQL(ctx, source.SQLite, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	case config.SourcePostgres:
		src, err := source.OpenSQL(ctx, source.Postgres, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown source %q", config.ErrInvalidConfig, cfg.Source)
	}
}
