package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-station-service/internal/cache"
	"github.com/kjstillabower/weather-station-service/internal/chart"
	"github.com/kjstillabower/weather-station-service/internal/config"
	"github.com/kjstillabower/weather-station-service/internal/db"
	"github.com/kjstillabower/weather-station-service/internal/forum"
	httphandler "github.com/kjstillabower/weather-station-service/internal/http"
	"github.com/kjstillabower/weather-station-service/internal/lifecycle"
	"github.com/kjstillabower/weather-station-service/internal/observability"
	"github.com/kjstillabower/weather-station-service/internal/repository"
	"github.com/kjstillabower/weather-station-service/internal/service"
)

// renderConcurrency bounds parallel chart renders when warming.
const renderConcurrency = 4

func main() {
	if err := newRootCmd().Execute(); err != nil {
		abortErr(err)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "service",
		Short: "Weather station data service",
		Long: strings.TrimSpace(`
Serves the station and temperature API, the legacy chart routes, the forum and
the static client. Station data is read from a sqlite or postgres database.

Running with no arguments starts the server.
		`),
		Example: strings.TrimSpace(`
# start the server on $PORT (default 8080)
service serve

# pre-render charts for two stations
service render STX001 MTX002
		`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	// service serve
	{
		cmd := &cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP server",
			Long: strings.TrimSpace(`
Starts the HTTP server. Configuration is read from config/$ENV_NAME.yaml
(default dev) with environment overrides. Charts listed under
charts.warm_stations are rendered in the background at startup.
			`),
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		}
		rootCmd.AddCommand(cmd)
	}

	// service render
	{
		cmd := &cobra.Command{
			Use:   "render <station>...",
			Short: "Render temperature charts into the chart directory",
			Long: strings.TrimSpace(`
Renders the current-year chart of each station unless it already exists, as
the legacy temperature route would on first request.
			`),
			Args: cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRender(cmd.Context(), args)
			},
		}
		rootCmd.AddCommand(cmd)
	}

	return rootCmd
}

func abortErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// app holds the dependencies shared by serve and render.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *db.DB
	cache     cache.Cache
	memcached *cache.MemcachedCache
	charts    *chart.Cache
	queries   *service.QueryService
	forum     *forum.Store
}

func newApp(ctx context.Context, logger *zap.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	database, err := db.Open(ctx, db.Options{
		Driver:          cfg.DatabaseDriver,
		DSN:             cfg.DatabaseDSN,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	logger.Info("database opened", zap.String("driver", cfg.DatabaseDriver))

	a := &app{cfg: cfg, logger: logger, db: database}
	a.cache, a.memcached = newQueryCache(cfg, logger)

	repo := repository.NewRepository(database)
	a.charts = chart.NewCache(cfg.ChartDir, repo, chart.NewPlotRenderer(), logger)
	a.queries = service.NewQueryService(repo, a.cache, cfg.CacheTTL, a.charts)
	a.forum = forum.NewStore(cfg.ForumFile, logger)
	return a, nil
}

// newQueryCache selects the query result cache backend. The memcached client
// is also returned so it can be pinged and closed.
func newQueryCache(cfg *config.Config, logger *zap.Logger) (cache.Cache, *cache.MemcachedCache) {
	switch cfg.CacheBackend {
	case "memcached":
		// Connectivity is not checked here; /health reports it.
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Warn("memcached cache unavailable, using in_memory", zap.Error(err))
			return cache.NewInMemoryCache(), nil
		}
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, mc
	case "none":
		logger.Info("cache backend: none")
		return cache.NoopCache{}, nil
	default:
		logger.Info("cache backend: in_memory")
		return cache.NewInMemoryCache(), nil
	}
}

func (a *app) close() {
	if a.memcached != nil {
		if err := a.memcached.Close(); err != nil {
			a.logger.Error("memcached close", zap.Error(err))
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("database close", zap.Error(err))
	}
}

func runRender(ctx context.Context, stations []string) error {
	logger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = observability.FlushTelemetry(context.Background(), logger) }()

	a, err := newApp(ctx, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if err := chart.NewWarmer(a.charts, logger, renderConcurrency).Warm(ctx, stations); err != nil {
		return err
	}
	for _, s := range stations {
		fmt.Println(a.charts.Path(s))
	}
	return nil
}

func runServe(ctx context.Context) error {
	logger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(ctx, logger)
	if err != nil {
		if errors.Is(err, db.ErrDatabaseNotFound) {
			logger.Error("station database missing; refusing to start", zap.Error(err))
		}
		return err
	}
	cfg := a.cfg

	healthConfig := &httphandler.HealthConfig{DBPing: a.db.PingContext}
	if a.memcached != nil {
		healthConfig.CachePing = a.memcached.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	handler := httphandler.NewHandler(a.queries, a.forum, healthConfig, logger)
	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		StaticDir:      cfg.StaticDir,
		ChartDir:       cfg.ChartDir,
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
	})

	if len(cfg.ChartWarmStations) > 0 {
		go func() {
			warmer := chart.NewWarmer(a.charts, logger, renderConcurrency)
			if err := warmer.Warm(context.Background(), cfg.ChartWarmStations); err != nil {
				logger.Warn("chart warming failed", zap.Error(err))
			}
		}()
	}

	// Chart renders are not bounded by the request timeout, so the write
	// timeout leaves room for a slow first render.
	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("static_dir", cfg.StaticDir),
			zap.String("chart_dir", cfg.ChartDir),
			zap.String("forum_file", cfg.ForumFile))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-sigCtx.Done():
	case err := <-serveErr:
		a.close()
		return fmt.Errorf("server: %w", err)
	}

	logger.Info("graceful shutdown triggered")
	lifecycle.BeginDrain()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	a.close()
	logger.Info("shutdown complete", zap.Duration("drain", lifecycle.DrainDuration()))
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		return fmt.Errorf("telemetry flush: %w", err)
	}
	return nil
}
