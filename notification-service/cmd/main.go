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

	"github.com/fjod/go_fulfillment/notification-service/internal/channel"
	"github.com/fjod/go_fulfillment/notification-service/internal/config"
	"github.com/fjod/go_fulfillment/notification-service/internal/consumer"
	"github.com/fjod/go_fulfillment/notification-service/internal/dedup"
	"github.com/fjod/go_fulfillment/notification-service/internal/domain"
	notificationshttp "github.com/fjod/go_fulfillment/notification-service/internal/http"
	"github.com/fjod/go_fulfillment/notification-service/internal/repository"
	"github.com/fjod/go_fulfillment/notification-service/internal/service"
	"github.com/fjod/go_fulfillment/pkg/httpx"
	"github.com/fjod/go_fulfillment/pkg/logger"
	"github.com/fjod/go_fulfillment/pkg/messaging"
	"github.com/fjod/go_fulfillment/pkg/metrics"
	"github.com/fjod/go_fulfillment/pkg/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New("notification-service", cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("notification-service starting...")
	var wg sync.WaitGroup

	shutdownTracing, err := tracing.Setup(context.Background(), "notification-service", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal("Failed to set up tracing", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// MongoDB setup
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		cancel()
		log.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	repo := repository.NewMongoRepository(db)
	if err := repo.CreateIndexes(ctx); err != nil {
		cancel()
		log.Fatal("Failed to create indexes", zap.Error(err))
	}
	cancel()
	log.Info("Connected to MongoDB", zap.String("database", cfg.MongoDBName))

	// Redelivery guard
	var store dedup.Store
	var redisClient *redis.Client
	if cfg.DedupEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		store = dedup.NewRedisStore(redisClient, cfg.DedupLease, cfg.DedupTTL)
		log.Info("Event dedup enabled",
			zap.Duration("lease", cfg.DedupLease),
			zap.Duration("ttl", cfg.DedupTTL))
	}

	// Delivery channels
	var email channel.Sender = channel.NewLogSender(log)
	if cfg.SMTP.Addr != "" {
		email = channel.NewSMTPSender(cfg.SMTP)
	}
	senders := channel.Registry{
		domain.ChannelEmail: email,
		domain.ChannelSMS:   channel.NewSimulated("sms", cfg.SMSSuccessRate, nil),
		domain.ChannelPush:  channel.NewSimulated("push", cfg.PushSuccessRate, nil),
	}

	notifications := service.NewNotificationService(repo, senders, metrics.NewDeliveryMetrics(reg, "notifications"), log)
	dispatcher := service.NewDispatcher(notifications, store, log)

	// Event consumers
	consumers := consumer.NewKafkaConsumer(dispatcher.Handle, metrics.NewEventMetrics(reg, "notifications"), log,
		messaging.ParseBrokers(cfg.KafkaBrokers)...)

	runCtx, runCancel := context.WithCancel(context.Background())
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumers.Run(runCtx)
	}()

	// Start HTTP server
	router := httpx.NewRouter(log, metrics.NewServerMetrics(reg, "notifications"), reg, 30*time.Second)
	notificationshttp.NewNotificationsHandler(notifications, log).Routes(router)
	server := httpx.NewServer(":"+cfg.HTTPPort, "notification-service", router)

	go func() {
		log.Info("Notification service listening", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to serve", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down notification service...")
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
		log.Info("Consumers stopped cleanly")
	case <-shutdownCtx.Done():
		log.Warn("Consumers didn't stop in time")
	}

	consumers.Close()
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error("Failed to close Redis client", zap.Error(err))
		}
	}
	if err := db.Client().Disconnect(shutdownCtx); err != nil {
		log.Error("Failed to disconnect MongoDB", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("Failed to flush traces", zap.Error(err))
	}
	log.Info("Notification service stopped")
}
