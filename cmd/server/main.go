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

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tourney-sync/internal/cache"
	"github.com/tourney-sync/internal/config"
	"github.com/tourney-sync/internal/handler"
	"github.com/tourney-sync/internal/kafka"
	"github.com/tourney-sync/internal/service"
	"github.com/tourney-sync/internal/store"
	"github.com/tourney-sync/internal/transport"
	"github.com/tourney-sync/internal/websocket"
	"github.com/tourney-sync/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Warn("failed to load config file, using defaults and environment", "error", err)
		if cfg, err = config.FromEnv(); err != nil {
			slog.Error("invalid configuration", "error", err)
			os.Exit(1)
		}
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Each process tags its own invalidations so it can skip them on the bus
	origin := uuid.NewString()

	// Open the cache store
	cacheStore, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open cache store", "backend", cfg.Cache.Backend, "error", err)
		os.Exit(1)
	}
	defer cacheStore.Close()
	logger.Info("cache store ready", "backend", cfg.Cache.Backend)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	respCache := cache.New(cacheStore, &cfg.Cache, logger,
		cache.WithMetrics(cache.NewMetrics(registry)),
		cache.WithListener(wsHub),
	)

	// Initialize Kafka publisher and consumer for cross-process invalidation
	var (
		kafkaPublisher *kafka.Publisher
		kafkaConsumer  *kafka.Consumer
	)
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka invalidation bus",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
			"origin", origin,
		)
		kafkaPublisher, err = kafka.NewPublisher(&cfg.Kafka, origin, logger)
		if err != nil {
			logger.Warn("failed to create Kafka publisher, continuing without Kafka", "error", err)
		} else {
			respCache.AddListener(kafkaPublisher)
		}

		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, respCache, origin, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	// Initialize the SDK client used by the read endpoints
	client, err := service.NewClient(transport.NewHTTPTransport(&cfg.Transport, logger), respCache, cfg, logger)
	if err != nil {
		logger.Error("failed to create client", "error", err)
		os.Exit(1)
	}

	// Initialize sweep worker
	sweepWorker := worker.NewSweepWorker(respCache, &cfg.Sweep, logger)
	if cfg.Sweep.Enabled {
		// Clear rows left over from a previous run
		sweepWorker.RunOnce(ctx)
		if err := sweepWorker.Start(ctx); err != nil {
			logger.Error("failed to start sweep worker", "error", err)
			os.Exit(1)
		}
	}

	// Readiness pings the store when the backend supports it
	pinger, _ := cacheStore.(handler.Pinger)
	httpHandler := handler.NewHandler(client, respCache, wsHub, pinger, registry, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		logger.Info("WebSocket endpoint available at /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop WebSocket hub
	wsHub.Stop()

	// Stop Kafka consumer and publisher
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Error("failed to close Kafka publisher", "error", err)
		}
	}

	// Stop sweep worker
	if err := sweepWorker.Stop(); err != nil {
		logger.Error("failed to stop sweep worker", "error", err)
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
