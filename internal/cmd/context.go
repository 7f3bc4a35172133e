// Package cmd implements the policity command line: the API server, one
// shot runs, run status lookup and version info. Commands share a
// Context that loads configuration, builds the logger and assembles the
// pipeline from it.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/policity/policity/internal/build"
	"github.com/policity/policity/internal/config"
	"github.com/policity/policity/internal/factcache"
	"github.com/policity/policity/internal/frontend"
	"github.com/policity/policity/internal/llm"
	"github.com/policity/policity/internal/logger"
	"github.com/policity/policity/internal/metrics"
	"github.com/policity/policity/internal/notify"
	"github.com/policity/policity/internal/persistence"
	"github.com/policity/policity/internal/persistence/memstore"
	"github.com/policity/policity/internal/persistence/sqlstore"
	"github.com/policity/policity/internal/pipeline"
	"github.com/policity/policity/internal/steps"
)

// Context holds the loaded configuration for a command invocation.
type Context struct {
	context.Context

	Command *cobra.Command
	Flags   []commandLineFlag
	Config  *config.Config
	Quiet   bool
}

// NewContext loads configuration, sets up the logger context and applies
// command line overrides.
func NewContext(cmd *cobra.Command, flags []commandLineFlag) (*Context, error) {
	ctx := cmd.Context()

	bindFlags(cmd, flags...)

	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return nil, fmt.Errorf("failed to get quiet flag: %w", err)
	}

	var loaderOpts []config.LoaderOption
	if cfgPath := viper.GetString("config"); cfgPath != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(cfgPath))
	}

	cfg, err := config.Load(loaderOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var opts []logger.Option
	if cfg.Logging.Debug || os.Getenv("DEBUG") != "" {
		opts = append(opts, logger.WithDebug())
	}
	if quiet || cfg.Logging.Quiet {
		quiet = true
		opts = append(opts, logger.WithQuiet())
	}
	if cfg.Logging.Format != "" {
		opts = append(opts, logger.WithFormat(cfg.Logging.Format))
	}
	ctx = logger.WithLogger(ctx, logger.NewLogger(opts...))

	for _, w := range cfg.Warnings {
		logger.Warn(ctx, w)
	}

	if host := viper.GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port := viper.GetString("port"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", port, err)
		}
		cfg.Server.Port = p
	}

	return &Context{
		Context: ctx,
		Command: cmd,
		Flags:   flags,
		Config:  cfg,
		Quiet:   quiet,
	}, nil
}

// OpenStore opens the configured persistence backend. The caller owns
// the returned store and must close it.
func (c *Context) OpenStore() (persistence.Store, error) {
	switch c.Config.Store.Driver {
	case config.StoreMemory, "":
		return memstore.New(), nil
	case config.StoreSQLite, config.StorePostgres:
		return sqlstore.Open(c, c.Config.Store.Driver, c.Config.Store.DSN)
	default:
		return nil, fmt.Errorf("%w: %s", persistence.ErrUnknownDriver, c.Config.Store.Driver)
	}
}

// StepDeps builds the shared services the pipeline steps draw on: the
// model client, the facts backend and its cache. Without an API key the
// offline client is wired in and every section falls back to canned
// data.
func (c *Context) StepDeps() (steps.Deps, error) {
	var deps steps.Deps

	client, err := llm.NewClient(llm.Config{
		BaseURL: c.Config.LLM.BaseURL,
		APIKey:  c.Config.LLM.APIKey,
		Model:   c.Config.LLM.Model,
		Timeout: c.Config.LLM.Timeout,
	})
	switch {
	case errors.Is(err, llm.ErrNoAPIKey):
		logger.Warn(c, "No model API key configured, report sections degrade to canned data")
		client = llm.Offline()
	case err != nil:
		return deps, fmt.Errorf("failed to build model client: %w", err)
	}
	deps.LLM = client

	if c.Config.Facts.BaseURL != "" {
		deps.Lookup = steps.NewHTTPFacts(c.Config.Facts.BaseURL, c.Config.Facts.Timeout)
	}

	cache, err := factcache.New(factcache.Config{
		Backend:       c.Config.FactCache.Backend,
		TTL:           c.Config.FactCache.TTL,
		Capacity:      c.Config.FactCache.Capacity,
		Dir:           c.Config.FactCache.Dir,
		RedisAddr:     c.Config.FactCache.RedisAddr,
		RedisPassword: c.Config.FactCache.RedisPassword,
		RedisDB:       c.Config.FactCache.RedisDB,
	})
	if err != nil {
		return deps, fmt.Errorf("failed to build fact cache: %w", err)
	}
	deps.Facts = cache

	return deps, nil
}

// BuildGraph resolves the pipeline: a definition file named by the
// --pipeline flag, or the builtin road-repair pipeline.
func (c *Context) BuildGraph(deps steps.Deps) (*pipeline.DependencyGraph, error) {
	if path := viper.GetString("pipeline"); path != "" {
		def, err := pipeline.LoadDefinition(path)
		if err != nil {
			return nil, err
		}
		return steps.GraphFromDefinition(def, deps)
	}
	return steps.Graph(deps)
}

// NewOrchestrator builds an orchestrator with the configured policies
// applied, plus any extra options.
func (c *Context) NewOrchestrator(store persistence.Store, graph *pipeline.DependencyGraph, opts ...pipeline.Option) *pipeline.Orchestrator {
	base := []pipeline.Option{
		pipeline.WithRetryPolicy(pipeline.RetryPolicy{
			AcceptanceThreshold: c.Config.Orchestrator.AcceptanceThreshold,
			MaxRetries:          c.Config.Orchestrator.MaxRetries,
		}),
		pipeline.WithMaxConcurrentSteps(c.Config.Orchestrator.MaxConcurrentSteps),
		pipeline.WithStepTimeout(c.Config.Orchestrator.StepTimeout),
	}
	return pipeline.New(store, graph, append(base, opts...)...)
}

// NewServer assembles the full serving stack: store, pipeline, metrics
// and the HTTP frontend. The caller owns the returned store.
func (c *Context) NewServer() (*frontend.Server, persistence.Store, error) {
	store, err := c.OpenStore()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	deps, err := c.StepDeps()
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	graph, err := c.BuildGraph(deps)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	events := notify.NewBroadcaster()
	collector := metrics.NewCollector(build.Version, store)
	registry := metrics.NewRegistry(collector)
	orch := c.NewOrchestrator(store, graph,
		pipeline.WithNotifier(events),
		pipeline.WithMetrics(collector),
	)

	return frontend.NewServer(c.Config, store, orch, graph, events, registry), store, nil
}

// StringParam retrieves a string flag from the command line.
func (c *Context) StringParam(name string) (string, error) {
	val, err := c.Command.Flags().GetString(name)
	if err != nil {
		return "", fmt.Errorf("failed to get flag %s: %w", name, err)
	}
	return val, nil
}

// NewCommand creates a command instance wrapping the run function with
// context setup.
func NewCommand(cmd *cobra.Command, flags []commandLineFlag, runFunc func(ctx *Context, args []string) error) *cobra.Command {
	initFlags(cmd, flags...)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, err := NewContext(cmd, flags)
		if err != nil {
			fmt.Printf("Initialization error: %v\n", err)
			os.Exit(1)
		}
		if err := runFunc(ctx, args); err != nil {
			logger.Error(ctx.Context, "Command failed", "err", err)
			os.Exit(1)
		}
		return nil
	}

	return cmd
}

// genRunID creates a new UUID string to be used as a run identifier.
func genRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
