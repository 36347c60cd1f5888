/*
main.go - Application entry point

PURPOSE:
  The bonusblast command. Serves the HTTP API, imports billing exports
  from the command line, and prints quarterly leaderboards.

COMMANDS:
  serve                        HTTP API with rescan scheduler
  import <file.csv>            Evaluate a billing export
  leaderboard <quarter>        Print a leaderboard (JSON, or CSV with --csv)

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Initialize logger, tracing and metrics
  3. Initialize SQLite store and leaderboard cache (Redis or memory)
  4. Wire processor, leaderboard service and handlers
  5. Run the command

GLOBAL FLAGS:
  --env-file   Environment file (default: .env, optional)
  --db         SQLite database path, overrides DATABASE_PATH
               Use ":memory:" for in-memory database
  --log-level  Overrides LOG_LEVEL

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the rescan scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Flush traces, close cache and database

EXAMPLES:
  bonusblast serve --port=3000
  bonusblast import ./chargeover-export.csv
  bonusblast leaderboard Q1_2025 --csv > results.csv
  bonusblast leaderboard Q1_2025 --settings ./settings.json

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/warp/bonus-engine/api"
	"github.com/warp/bonus-engine/cache"
	"github.com/warp/bonus-engine/config"
	"github.com/warp/bonus-engine/factory"
	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/ingest"
	"github.com/warp/bonus-engine/leaderboard"
	"github.com/warp/bonus-engine/observability"
	"github.com/warp/bonus-engine/store/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globalFlags are shared by every command.
type globalFlags struct {
	envFile  string
	dbPath   string
	logLevel string
}

func newRootCmd() *cobra.Command {
	var gf globalFlags
	root := &cobra.Command{
		Use:           "bonusblast",
		Short:         "Sales bonus eligibility and leaderboard engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&gf.envFile, "env-file", ".env", "environment file to load if present")
	root.PersistentFlags().StringVar(&gf.dbPath, "db", "", "SQLite database path (overrides DATABASE_PATH)")
	root.PersistentFlags().StringVar(&gf.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	root.AddCommand(newServeCmd(&gf), newImportCmd(&gf), newLeaderboardCmd(&gf))
	return root
}

// =============================================================================
// APPLICATION WIRING
// =============================================================================

type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *sqlite.Store
	cache    cache.Cache
	registry *prometheus.Registry
	metrics  *observability.Metrics
	tp       trace.TracerProvider
	shutdown observability.ShutdownFunc
}

func newApp(ctx context.Context, gf *globalFlags) (*app, error) {
	cfg, err := config.Load(gf.envFile)
	if err != nil {
		return nil, err
	}
	if gf.dbPath != "" {
		cfg.Database.Path = gf.dbPath
	}
	if gf.logLevel != "" {
		cfg.Log.Level = gf.logLevel
	}

	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	tp, shutdown, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: registry,
		metrics:  observability.NewMetrics(registry),
		tp:       tp,
		shutdown: shutdown,
	}

	if err := a.seedExcludedReps(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// seedExcludedReps applies EXCLUDED_SALES_REPS when the database has none.
func (a *app) seedExcludedReps(ctx context.Context) error {
	if len(a.cfg.Ingest.ExcludedReps) == 0 {
		return nil
	}
	existing, err := a.store.ListExcludedReps(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	a.logger.Info("seeding excluded sales reps", zap.Int("count", len(a.cfg.Ingest.ExcludedReps)))
	return a.store.ReplaceExcludedReps(ctx, a.cfg.Ingest.ExcludedReps)
}

// connectCache uses Redis when REDIS_ADDR is set, memory otherwise.
func (a *app) connectCache(ctx context.Context) error {
	if a.cfg.Redis.Addr == "" {
		a.cache = cache.NewMemory()
		return nil
	}
	r, err := cache.NewRedis(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	a.logger.Info("leaderboard cache: redis", zap.String("addr", a.cfg.Redis.Addr))
	a.cache = r
	return nil
}

func (a *app) processor(source string) *ingest.Processor {
	p := ingest.NewProcessor(a.store, a.logger.Named("ingest"))
	p.Metrics = a.metrics
	p.Tracer = observability.Tracer(a.tp)
	p.Workers = a.cfg.Ingest.Workers
	p.CurrentQuarterOnly = a.cfg.Ingest.CurrentQuarterOnly
	p.Source = source
	return p
}

func (a *app) leaderboard(source leaderboard.ConfigSource) *leaderboard.Service {
	s := leaderboard.NewService(a.store, source, a.cache, a.logger.Named("leaderboard"))
	s.Metrics = a.metrics
	s.Tracer = observability.Tracer(a.tp)
	if a.cfg.Redis.TTL > 0 {
		s.TTL = a.cfg.Redis.TTL
	}
	return s
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.shutdown(ctx); err != nil {
		a.logger.Warn("trace shutdown failed", zap.Error(err))
	}
	if r, ok := a.cache.(*cache.Redis); ok {
		_ = r.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("database close failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// =============================================================================
// SERVE
// =============================================================================

func newServeCmd(gf *globalFlags) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the rescan scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), gf, port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides PORT)")
	return cmd
}

func runServe(ctx context.Context, gf *globalFlags, port int) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, gf)
	if err != nil {
		return err
	}
	defer a.close()
	if port != 0 {
		a.cfg.Server.Port = port
	}
	if err := a.connectCache(ctx); err != nil {
		return err
	}

	proc := a.processor(ingest.SourceAPI)
	lb := a.leaderboard(factory.StoreSource{Store: a.store})

	handler := api.NewHandler(a.store, proc, lb, a.logger.Named("http"))
	handler.Metrics = a.metrics
	handler.MaxImportBytes = a.cfg.Server.MaxImportBytes

	rescanProc := a.processor(ingest.SourceRescan)
	scheduler := api.NewRescanScheduler(rescanProc, lb, a.logger)
	scheduler.Enabled = a.cfg.Scheduler.Enabled
	scheduler.CheckInterval = a.cfg.Scheduler.Interval
	handler.Rescanner = scheduler

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Gatherer:       a.registry,
		TracerProvider: a.tp,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler.Start()
	defer scheduler.Stop()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", zap.Int("port", a.cfg.Server.Port), zap.String("db", a.cfg.Database.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}

// =============================================================================
// IMPORT
// =============================================================================

func newImportCmd(gf *globalFlags) *cobra.Command {
	var currentOnly bool
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Evaluate a billing export and store the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, gf)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.connectCache(ctx); err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			rows, err := ingest.ReadCSV(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			proc := a.processor(ingest.SourceCLI)
			if cmd.Flags().Changed("current-quarter-only") {
				proc.CurrentQuarterOnly = currentOnly
			}
			result, err := proc.EvaluateBatch(ctx, rows)
			if result != nil && len(result.Quarters) > 0 {
				a.leaderboard(factory.StoreSource{Store: a.store}).Invalidate(ctx, result.Quarters...)
			}
			if err != nil {
				return err
			}

			for _, s := range result.Skipped {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped line %d (%s): %s\n", s.Line, s.CustomerID, s.Reason)
			}
			for _, o := range result.Outcomes {
				if o.Err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "failed %s: %v\n", o.Key, o.Err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "batch %s: %d rows, %d processed, %d eligible, %d skipped, %d filtered, %d failed\n",
				result.BatchID, result.Rows, result.Processed, result.Eligible, len(result.Skipped), result.Filtered, result.Failed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&currentOnly, "current-quarter-only", false, "ignore rows outside the current quarter (overrides INGEST_CURRENT_QUARTER_ONLY)")
	return cmd
}

// =============================================================================
// LEADERBOARD
// =============================================================================

func newLeaderboardCmd(gf *globalFlags) *cobra.Command {
	var (
		asCSV        bool
		maxShown     int
		settingsFile string
	)
	cmd := &cobra.Command{
		Use:   "leaderboard <quarter>",
		Short: "Print a quarter's leaderboard, e.g. Q1_2025",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			quarter, err := generic.QuarterKey(args[0]).Canonical()
			if err != nil {
				return err
			}

			a, err := newApp(ctx, gf)
			if err != nil {
				return err
			}
			defer a.close()

			var source leaderboard.ConfigSource = factory.StoreSource{Store: a.store}
			if settingsFile != "" {
				data, err := os.ReadFile(settingsFile)
				if err != nil {
					return err
				}
				cfg, err := factory.ParseConfigJSON(data)
				if err != nil {
					return fmt.Errorf("%s: %w", settingsFile, err)
				}
				source = leaderboard.StaticConfig(cfg)
			}
			// No cache: the CLI always reads fresh data.
			svc := a.leaderboard(source)
			svc.Cache = nil

			if asCSV {
				return svc.ExportCSV(ctx, quarter, cmd.OutOrStdout())
			}
			lb, err := svc.ForQuarter(ctx, quarter, maxShown)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(lb)
		},
	}
	cmd.Flags().BoolVar(&asCSV, "csv", false, "print the CSV export instead of JSON")
	cmd.Flags().IntVar(&maxShown, "max", 0, "maximum participants (default: MAX_PARTICIPANTS)")
	cmd.Flags().StringVar(&settingsFile, "settings", "", "JSON settings document to use instead of stored settings")
	return cmd
}
