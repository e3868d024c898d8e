package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_fulfillment/orders-service/internal/repository"
	env "github.com/fjod/go_fulfillment/pkg/config"
)

type Config struct {
	HTTPPort     string
	KafkaBrokers string
	LogLevel     string
	OTLPEndpoint string
	DB           repository.Credentials

	InventoryURL         string
	InventoryTimeout     time.Duration
	InventoryConcurrency int

	StatusPermissive  bool
	IntentMaxAttempts int
	IntentPollEvery   time.Duration
	IntentLease       time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:     env.GetEnv("HTTP_PORT", "8081"),
		KafkaBrokers: env.GetEnv("KAFKA_BROKERS", "localhost:9092"),
		LogLevel:     env.GetEnv("LOG_LEVEL", "info"),
		OTLPEndpoint: env.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		InventoryURL: env.GetEnv("INVENTORY_URL", "http://localhost:8080"),
		DB: repository.Credentials{
			Host:              env.GetEnv("DB_HOST", "localhost"),
			User:              env.GetEnv("DB_USER", "postgres"),
			Password:          env.GetEnv("DB_PASSWORD", "postgres"),
			DBName:            env.GetEnv("DB_NAME", "orders"),
			MigrationsDirPath: env.GetEnv("MIGRATIONS_PATH", "./internal/repository/migrations"),
		},
	}

	var errs []error
	var err error
	if cfg.DB.Port, err = env.GetEnvInt("DB_PORT", 5432); err != nil {
		errs = append(errs, err)
	}
	if cfg.InventoryTimeout, err = env.GetEnvDuration("INVENTORY_TIMEOUT", 5*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.InventoryConcurrency, err = env.GetEnvInt("INVENTORY_CONCURRENCY", 4); err != nil {
		errs = append(errs, err)
	}
	if cfg.StatusPermissive, err = env.GetEnvBool("ORDER_STATUS_PERMISSIVE", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.IntentMaxAttempts, err = env.GetEnvInt("STOCK_INTENT_MAX_ATTEMPTS", 10); err != nil {
		errs = append(errs, err)
	}
	if cfg.IntentPollEvery, err = env.GetEnvDuration("STOCK_INTENT_POLL_INTERVAL", 5*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.IntentLease, err = env.GetEnvDuration("STOCK_INTENT_LEASE", 30*time.Second); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.InventoryConcurrency < 1 {
		return nil, fmt.Errorf("invalid INVENTORY_CONCURRENCY: must be positive, got %d", cfg.InventoryConcurrency)
	}
	if cfg.IntentLease <= cfg.InventoryTimeout {
		return nil, fmt.Errorf("invalid STOCK_INTENT_LEASE: must exceed INVENTORY_TIMEOUT (%s), got %s", cfg.InventoryTimeout, cfg.IntentLease)
	}
	return cfg, nil
}
