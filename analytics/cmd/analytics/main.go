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

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/aegis-telemetry/aegis/analytics/internal/config"
	"github.com/aegis-telemetry/aegis/analytics/internal/consumer"
	"github.com/aegis-telemetry/aegis/analytics/internal/repository"
	"github.com/aegis-telemetry/aegis/analytics/internal/server"
	"github.com/aegis-telemetry/aegis/common/logging"
	"github.com/aegis-telemetry/aegis/common/messaging"

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
	).With(logging.Service("analytics"))
	logging.SetDefault(logger)

	slog.Info("Starting analytics service",
		slog.Int("port", cfg.Server.Port),
		slog.String("broker_url", cfg.Broker.URL),
		slog.Int("max_ack_pending", cfg.Consumer.MaxAckPending),
	)

	// Run database migrations
	log.Println("Running database migrations...")
	m, err := migrate.New("file://"+cfg.Migrations.Path, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to initialize migrations: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	// Initialize repository
	repo, err := repository.NewPostgresRepository(context.Background(), cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer repo.Close()

	// Durable broker connection; ensure stream and consumer exist before
	// delivery starts.
	jsClient, err := natsclient.NewJetStreamClient(natsclient.Config{
		URL:  cfg.Broker.URL,
		Name: "aegis-analytics",
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer jsClient.Close()

	setupCtx, setupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := jsClient.CreateOrUpdateStream(setupCtx, natsclient.EventsStream); err != nil {
		log.Fatalf("Failed to create events stream: %v", err)
	}
	if _, err := jsClient.CreateOrUpdateConsumer(setupCtx, messaging.EventsStreamName,
		natsclient.EventsConsumer(cfg.Consumer.MaxAckPending)); err != nil {
		log.Fatalf("Failed to create events consumer: %v", err)
	}
	setupCancel()

	// Start consuming
	cons := consumer.New(repo, logger)
	stop, err := jsClient.Consume(context.Background(),
		messaging.EventsStreamName, messaging.EventsConsumerName, cons.HandleMessage)
	if err != nil {
		log.Fatalf("Failed to start consumer: %v", err)
	}
	log.Printf("Consuming from %s (consumer: %s)", messaging.EventsStreamName, messaging.EventsConsumerName)

	// Operational HTTP endpoints
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(jsClient),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Printf("Analytics service listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown: stop delivery and drain in-flight handlers first.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Analytics service stopped")
}
