package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/roach88/gpucep/internal/compiler"
	"github.com/roach88/gpucep/internal/config"
	"github.com/roach88/gpucep/internal/engine"
	"github.com/roach88/gpucep/internal/ir"
	"github.com/roach88/gpucep/internal/listener"
	"github.com/roach88/gpucep/internal/memory"
	"github.com/roach88/gpucep/internal/processor"
	"github.com/roach88/gpucep/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Events      string
	Config      string
	Database    string
	Redis       string
	RedisPrefix string
	Processors  int
	MaxDepth    int
	MetricsAddr string

	// LineageGenerator allows overriding the lineage token generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	LineageGenerator engine.LineageGenerator
}

// RunSummary is the outcome of a run.
type RunSummary struct {
	Rules      int           `json:"rules"`
	Received   int64         `json:"received"`
	Dropped    int64         `json:"dropped"`
	Dispatches int64         `json:"dispatches"`
	Delivered  int           `json:"delivered"`
	Truncated  int64         `json:"truncated"`
	MaxDepth   int           `json:"max_depth"`
	ByType     map[int]int   `json:"by_type"`
	Recursion  bool          `json:"recursion_needed"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <rules-dir>",
		Short: "Run events through the rules",
		Long: `Install the rules of a directory and publish every event of an events file.

Derived events are delivered to the configured listeners: the SQLite log
(--db), Redis pub/sub (--redis) and an in-memory collector used for the
summary. Flags override values from the --config file.

Example:
  gpucep run ./rules --events events.yaml
  gpucep run ./rules --events - --db ./gpucep.db --redis localhost:6379 < events.yaml
  gpucep run ./rules --events events.yaml --config gpucep.yaml --processors 8`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Events, "events", "", "events file, or - for stdin (required)")
	_ = cmd.MarkFlagRequired("events")
	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database for derived events")
	cmd.Flags().StringVar(&opts.Redis, "redis", "", "Redis address (host:port) to publish derived events to")
	cmd.Flags().StringVar(&opts.RedisPrefix, "redis-prefix", "", "Redis channel prefix (default \""+config.DefaultRedisPrefix+"\")")
	cmd.Flags().IntVar(&opts.Processors, "processors", 0, "number of processor units (default: CPU count)")
	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", 0, "recursion depth bound")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

// resolveConfig loads the config file (or defaults) and applies flags that
// were set explicitly.
func resolveConfig(opts *RunOptions, cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("processors") {
		cfg.Processors = opts.Processors
	}
	if flags.Changed("max-depth") {
		cfg.MaxRecursionDepth = opts.MaxDepth
	}
	if flags.Changed("db") {
		cfg.Database = opts.Database
	}
	if flags.Changed("redis") {
		if cfg.Redis == nil {
			cfg.Redis = &config.RedisConfig{}
		}
		cfg.Redis.Addr = opts.Redis
	}
	if flags.Changed("redis-prefix") {
		if cfg.Redis == nil {
			return nil, errors.New("--redis-prefix requires --redis or a redis block in the config file")
		}
		cfg.Redis.Prefix = opts.RedisPrefix
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runEngine(opts *RunOptions, rulesDir string, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := resolveConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	rules, err := compileRules(rulesDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile rules", err)
	}
	slog.Info("rules compiled", "dir", rulesDir, "rules", len(rules))

	events, err := readEventsFile(opts.Events, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	engineOpts := cfg.EngineOptions()
	if opts.LineageGenerator != nil {
		engineOpts = append(engineOpts, engine.WithLineageGenerator(opts.LineageGenerator))
	}

	var st *store.Store
	if cfg.Database != "" {
		slog.Info("opening database", "path", cfg.Database)
		st, err = store.Open(cfg.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}()

		// Resume the logical clock after the events already recorded.
		last, err := st.MaxSeq(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read database", err)
		}
		engineOpts = append(engineOpts, engine.WithClock(engine.NewClockAt(last)))
	}

	if opts.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		engineOpts = append(engineOpts, engine.WithMetrics(engine.NewMetrics(reg)))
		srv := serveMetrics(opts.MetricsAddr, reg)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	eng, err := newEngine(cfg.Processors, rules, engineOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	defer func() {
		if closeErr := eng.Close(); closeErr != nil {
			slog.Error("error closing engine", "error", closeErr)
		}
	}()

	collector := listener.NewCollector()
	eng.AddResultListener(collector)

	var recorder *store.Recorder
	if st != nil {
		for i, r := range rules {
			if err := st.WriteRule(ctx, i, r); err != nil {
				return WrapExitError(ExitCommandError, "failed to record rules", err)
			}
		}
		recorder = store.NewRecorder(st)
		eng.AddResultListener(recorder)
	}

	var publisher *listener.RedisPublisher
	if cfg.Redis != nil {
		publisher, err = listener.NewRedisPublisher(&redis.Options{Addr: cfg.Redis.Addr}, cfg.Redis.Prefix)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create Redis publisher", err)
		}
		defer publisher.Close()
		if err := publisher.Ping(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to connect to Redis", err)
		}
		eng.AddResultListener(publisher)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	for _, ev := range events {
		eng.Enqueue(ev)
	}
	eng.Stop()

	start := time.Now()
	slog.Info("engine starting", "events", len(events), "processors", cfg.Processors)
	if err := eng.Run(ctx); err != nil {
		if engine.IsFatal(err) {
			return WrapExitError(ExitFailure, "engine error", err)
		}
		if !errors.Is(err, context.Canceled) {
			return WrapExitError(ExitFailure, "engine error", err)
		}
		slog.Info("run interrupted")
	}

	if recorder != nil && recorder.Failed() > 0 {
		slog.Warn("some derived events were not recorded", "failed", recorder.Failed())
	}
	if publisher != nil && publisher.Failed() > 0 {
		slog.Warn("some derived events were not published", "failed", publisher.Failed())
	}

	stats := eng.Stats()
	byType := make(map[int]int)
	for t, n := range collector.ByType() {
		byType[int(t)] = n
	}
	summary := RunSummary{
		Rules:      stats.Rules,
		Received:   stats.Received,
		Dropped:    stats.Dropped,
		Dispatches: stats.Dispatches,
		Delivered:  collector.Count(),
		Truncated:  stats.Truncated,
		MaxDepth:   stats.MaxDepth,
		ByType:     byType,
		Recursion:  stats.RecursionNeeded,
		Elapsed:    time.Since(start),
	}
	return outputRunSummary(formatter, summary)
}

// compileRules loads, compiles and validates the rules of a directory.
func compileRules(dir string) ([]*ir.RulePkt, error) {
	loadResult, loadErrors := LoadRules(dir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return nil, loadErrors[0]
	}

	if verrs := compiler.ValidateRules(loadResult.Rules); len(verrs) > 0 {
		return nil, verrs[0]
	}
	for _, w := range compiler.AnalyzeCycles(loadResult.Rules) {
		slog.Warn("rule cycle", "rules", w.Rules, "message", w.Message)
	}
	return loadResult.Rules, nil
}

// newEngine builds an engine over a CPU processor pool and installs rules
// in order.
func newEngine(processors int, rules []*ir.RulePkt, opts ...engine.EngineOption) (*engine.Engine, error) {
	pool := memory.NewPool()
	units := processor.NewCPUPool(processors, processor.WithMemoryManager(pool))

	eng, err := engine.New(units, append([]engine.EngineOption{engine.WithMemoryManager(pool)}, opts...)...)
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		if err := eng.ProcessRule(r); err != nil {
			_ = eng.Close()
			return nil, err
		}
	}
	return eng, nil
}

// serveMetrics exposes reg on addr/metrics in the background.
func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

// configureLogging installs a text handler on stderr, at debug level when
// verbose.
func configureLogging(verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// outputRunSummary prints the run summary.
func outputRunSummary(formatter *OutputFormatter, s RunSummary) error {
	if formatter.JSON() {
		return formatter.Success(s)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "%s Processed %d event(s) with %d rule(s)\n\n", passMark, s.Received, s.Rules)
	fmt.Fprintf(w, "  Dropped:    %d\n", s.Dropped)
	fmt.Fprintf(w, "  Dispatches: %d\n", s.Dispatches)
	fmt.Fprintf(w, "  Delivered:  %d\n", s.Delivered)
	fmt.Fprintf(w, "  Truncated:  %d\n", s.Truncated)
	fmt.Fprintf(w, "  Max Depth:  %d\n", s.MaxDepth)
	return nil
}
