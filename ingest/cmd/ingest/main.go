package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aegis-telemetry/aegis/common/logging"
	"github.com/aegis-telemetry/aegis/ingest/internal/config"
	"github.com/aegis-telemetry/aegis/ingest/internal/handlers"
	"github.com/aegis-telemetry/aegis/ingest/internal/keyauth"
	"github.com/aegis-telemetry/aegis/ingest/internal/publisher"
	"github.com/aegis-telemetry/aegis/ingest/internal/ratelimit"
	"github.com/aegis-telemetry/aegis/ingest/internal/server"

	natsclient "github.com/aegis-telemetry/aegis/common/messaging/nats"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("ingest"))
	logging.SetDefault(logger)

	slog.Info("Starting ingest service",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
		slog.String("broker_url", cfg.Broker.URL),
	)
	if *configPath != "" {
		slog.Info("Loaded configuration", slog.String("config_path", *configPath))
	}

	// API key resolver backed by the shared projects database
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	resolver, err := keyauth.NewPostgresResolver(ctx, cfg.Database.URL)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer resolver.Close()

	// Rate limiter
	rates := ratelimit.Rates{Single: cfg.RateLimit.SingleRate, Batch: cfg.RateLimit.BatchRate}
	var limiter ratelimit.Limiter
	switch cfg.RateLimit.Backend {
	case "redis":
		limiter, err = ratelimit.NewRedisLimiter(cfg.RateLimit.RedisURL, rates)
		if err != nil {
			log.Fatalf("Failed to initialize Redis rate limiter: %v", err)
		}
		log.Printf("Rate limiting enabled (backend: redis, single: %.0f/s, batch: %.0f/s)",
			rates.Single, rates.Batch)
	case "memory", "":
		limiter = ratelimit.NewMemoryLimiter(rates)
		log.Printf("Rate limiting enabled (backend: memory, single: %.0f/s, batch: %.0f/s)",
			rates.Single, rates.Batch)
	case "disabled":
		limiter = ratelimit.NewNoOpLimiter(rates)
		log.Println("Rate limiting disabled in configuration")
	default:
		log.Fatalf("Unknown rate limit backend: %s (supported: memory, redis, disabled)", cfg.RateLimit.Backend)
	}
	defer limiter.Close()

	// Durable broker connection; the events stream must exist before the
	// first publish.
	jsClient, err := natsclient.NewJetStreamClient(natsclient.Config{
		URL:  cfg.Broker.URL,
		Name: "aegis-ingest",
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer jsClient.Close()

	streamCtx, streamCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := jsClient.CreateOrUpdateStream(streamCtx, natsclient.EventsStream); err != nil {
		log.Fatalf("Failed to create events stream: %v", err)
	}
	streamCancel()

	pub := publisher.New(jsClient, logger)

	// HTTP handlers and router
	eventsHandler := handlers.NewEventsHandler(resolver, limiter, pub, logger)
	healthHandler := handlers.NewHealthHandler(jsClient)
	router := server.NewRouter(eventsHandler, healthHandler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Ingest service listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
