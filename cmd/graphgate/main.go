// Command graphgate runs the federated GraphQL gateway: it composes
// the configured subgraphs behind a single endpoint with a two-tier
// resolver cache, health monitoring, rate limiting and shared metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/jonwraymond/graphgate/auth"
	"github.com/jonwraymond/graphgate/cache"
	"github.com/jonwraymond/graphgate/config"
	"github.com/jonwraymond/graphgate/gateway"
	"github.com/jonwraymond/graphgate/health"
	"github.com/jonwraymond/graphgate/metrics"
	"github.com/jonwraymond/graphgate/subgraph"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./config.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Server.Production())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	if len(cfg.Subgraphs) == 0 {
		return errors.New("no subgraphs configured, nothing to serve")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer client.Close()

	store := cache.NewRedisStore(client)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		// The gateway stays up without the shared tier: every cache
		// layer degrades to miss and the rate limiter falls back to
		// its local buckets.
		logger.Warn("shared cache tier unreachable, running degraded",
			zap.String("addr", cfg.Redis.Addr),
			zap.Error(err))
	}
	cancelPing()

	manager, err := cache.NewManager(store, cfg.Cache, logger)
	if err != nil {
		return fmt.Errorf("init cache manager: %w", err)
	}
	defer manager.Close()

	sources := make(map[string]*subgraph.DataSource, len(cfg.Subgraphs))
	for _, sc := range cfg.Subgraphs {
		sources[sc.Name] = subgraph.NewDataSource(sc, store, logger)
	}

	monitor := health.NewMonitor(
		cfg.Subgraphs,
		health.NewChecker(cfg.Health.Timeout),
		health.NewStorePublisher(store, health.DefaultMirrorTTL),
		cfg.Health.Interval,
		logger,
	)

	collector, err := metrics.NewCollector(otel.Meter("graphgate"))
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	flusher := metrics.NewFlusher(collector, store, cfg.Metrics.FlushInterval, logger)

	var limiter gateway.Limiter
	if cfg.RateLimit.Enabled {
		limiter = gateway.NewFallbackLimiter(
			gateway.NewRedisLimiter(client, cfg.RateLimit.Limit, cfg.RateLimit.Window),
			gateway.NewLocalLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window),
			logger,
		)
	}

	executor := gateway.NewExecutor(sources, cfg.Routes, monitor, manager, logger, !cfg.Server.Production())
	manager.SetRefresher(executor.Refresher())

	server := gateway.NewServer(
		gateway.ServerConfig{
			Version:        cfg.Server.Version,
			Production:     cfg.Server.Production(),
			AllowedOrigins: cfg.Server.AllowedOrigins,
		},
		executor,
		auth.NewDecoder(cfg.Auth.JWTSecret, logger),
		limiter,
		monitor,
		collector,
		manager,
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor.Start(ctx)
	defer monitor.Stop()
	flusher.Start(ctx)
	defer flusher.Stop()

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("gateway started",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("environment", cfg.Server.Environment),
		zap.Int("subgraphs", len(cfg.Subgraphs)))

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func newLogger(production bool) (*zap.Logger, error) {
	if production {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
