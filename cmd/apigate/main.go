package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"apigate/internal/api"
	"apigate/internal/config"
	"apigate/internal/logger"
	"apigate/internal/models"
	"apigate/internal/observability"
	"apigate/internal/ratelimit"
	"apigate/internal/version"

	"github.com/redis/go-redis/v9"
)

var configFile = flag.String("config", "", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ver := version.GetInfo()

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// The environment mode is resolved exactly once, here. Policy
	// resolution downstream never consults the process environment.
	env := ratelimit.ParseEnvironment(cfg.Environment)
	slog.Info("Starting apigate", "environment", env.String(), "version", ver.Version)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver, env.String())
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize the admission-control layer
	var registry *ratelimit.Registry
	if cfg.RateLimit.Enabled {
		store, err := initializeStore(cfg)
		if err != nil {
			slog.Error("Failed to initialize counter store", "error", err)
			os.Exit(1)
		}
		defer store.Close()

		var activeStore ratelimit.CounterStore = store
		var registryOpts []ratelimit.RegistryOption
		if cfg.Metrics.Enabled {
			instrumented, err := observability.NewInstrumentedStore(store)
			if err != nil {
				slog.Error("Failed to create instrumented counter store", "error", err)
				os.Exit(1)
			}
			activeStore = instrumented

			limiterMetrics, err := observability.NewLimiterMetrics()
			if err != nil {
				slog.Error("Failed to create limiter metrics", "error", err)
				os.Exit(1)
			}
			registryOpts = append(registryOpts, ratelimit.WithMetrics(limiterMetrics))
		}

		registry = ratelimit.NewRegistry(cfg.RateLimit, env, activeStore, registryOpts...)
	} else {
		slog.Warn("Rate limiting is disabled; all requests will be admitted")
	}

	handlers := api.NewHandlers()

	routeOpts := []api.RouteOption{
		api.WithUserHeader("X-User-ID"),
	}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	router := api.SetupRoutes(handlers, registry, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server", "addr", server.Addr)

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeStore creates the counter store backend selected in
// configuration. The memory store keeps counters process-local; the redis
// store shares them across instances and fails open when unreachable.
func initializeStore(cfg *models.Config) (ratelimit.CounterStore, error) {
	switch cfg.RateLimit.Store {
	case models.StoreTypeMemory:
		return ratelimit.NewMemoryStore(cfg.RateLimit.CleanupInterval), nil
	case models.StoreTypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.Redis.Addr,
			Password: cfg.RateLimit.Redis.Password,
			DB:       cfg.RateLimit.Redis.DB,
			PoolSize: cfg.RateLimit.Redis.PoolSize,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			// Fail open from the very start: a down Redis must not block
			// the service, only enforcement.
			slog.Error("Redis unreachable at startup, admission control will fail open", "error", err)
		}
		return ratelimit.NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("unsupported counter store type: %s", cfg.RateLimit.Store)
	}
}
