package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/go_fulfillment/orders-service/internal/config"
	ordershttp "github.com/fjod/go_fulfillment/orders-service/internal/http"
	"github.com/fjod/go_fulfillment/orders-service/internal/inventory"
	"github.com/fjod/go_fulfillment/orders-service/internal/repository"
	"github.com/fjod/go_fulfillment/orders-service/internal/service"
	"github.com/fjod/go_fulfillment/pkg/circuitbreaker"
	"github.com/fjod/go_fulfillment/pkg/httpx"
	"github.com/fjod/go_fulfillment/pkg/logger"
	"github.com/fjod/go_fulfillment/pkg/messaging"
	"github.com/fjod/go_fulfillment/pkg/metrics"
	"github.com/fjod/go_fulfillment/pkg/outbox"
	"github.com/fjod/go_fulfillment/pkg/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New("orders-service", cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("orders-service starting...")
	var wg sync.WaitGroup

	shutdownTracing, err := tracing.Setup(context.Background(), "orders-service", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal("Failed to set up tracing", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Database setup
	repo, err := repository.NewRepository(&cfg.DB)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer repo.Close()

	if err := repo.RunMigrations(&cfg.DB); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}
	log.Info("Database migrations completed")

	// Inventory gateway
	breakerSettings := circuitbreaker.DefaultSettings("inventory")
	breakerSettings.OnStateChange = func(name, from, to string) {
		log.Warn("circuit breaker state changed", zap.String("breaker", name), zap.String("from", from), zap.String("to", to))
	}
	gateway := inventory.NewClient(cfg.InventoryURL, cfg.InventoryTimeout, circuitbreaker.New(breakerSettings))

	intents := service.NewIntentApplier(gateway, repo, metrics.NewIntentMetrics(reg, "orders"), log,
		cfg.IntentMaxAttempts, cfg.IntentLease)
	orders := service.NewOrderService(repo, gateway, intents, log, service.Options{
		Concurrency: cfg.InventoryConcurrency,
		Permissive:  cfg.StatusPermissive,
	})

	// Background runners
	publisher := messaging.NewPublisher(messaging.NewWriter(messaging.ParseBrokers(cfg.KafkaBrokers)...), metrics.NewEventMetrics(reg, "orders"))
	outboxPoller := outbox.NewPoller(repo, publisher, log)
	intentPoller := service.NewIntentPoller(repo, intents, log, cfg.IntentPollEvery)

	runCtx, runCancel := context.WithCancel(context.Background())
	wg.Add(2)
	go func() {
		defer wg.Done()
		outboxPoller.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		intentPoller.Run(runCtx)
	}()

	// Start HTTP server
	router := httpx.NewRouter(log, metrics.NewServerMetrics(reg, "orders"), reg, 30*time.Second)
	ordershttp.NewOrdersHandler(orders, log).Routes(router)
	server := httpx.NewServer(":"+cfg.HTTPPort, "orders-service", router)

	go func() {
		log.Info("Orders service listening", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to serve", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down orders service...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
	runCancel()

	doneChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneChan)
	}()

	select {
	case <-doneChan:
		log.Info("Pollers stopped cleanly")
	case <-shutdownCtx.Done():
		log.Warn("Pollers didn't stop in time")
	}

	if err := publisher.Close(); err != nil {
		log.Error("Failed to close publisher", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("Failed to flush traces", zap.Error(err))
	}
	log.Info("Orders service stopped")
}
