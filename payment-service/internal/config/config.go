package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_fulfillment/payment-service/internal/repository"
	"github.com/fjod/go_fulfillment/payment-service/internal/settlement"
	env "github.com/fjod/go_fulfillment/pkg/config"
)

type Config struct {
	HTTPPort     string
	KafkaBrokers string
	LogLevel     string
	OTLPEndpoint string
	DB           repository.Credentials

	Settlement        settlement.Config
	SettlementTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:     env.GetEnv("HTTP_PORT", "8082"),
		KafkaBrokers: env.GetEnv("KAFKA_BROKERS", "localhost:9092"),
		LogLevel:     env.GetEnv("LOG_LEVEL", "info"),
		OTLPEndpoint: env.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		DB: repository.Credentials{
			Host:              env.GetEnv("DB_HOST", "localhost"),
			User:              env.GetEnv("DB_USER", "postgres"),
			Password:          env.GetEnv("DB_PASSWORD", "postgres"),
			DBName:            env.GetEnv("DB_NAME", "payments"),
			MigrationsDirPath: env.GetEnv("MIGRATIONS_PATH", "./internal/repository/migrations"),
		},
	}

	defaults := settlement.DefaultConfig()
	var errs []error
	var err error
	if cfg.DB.Port, err = env.GetEnvInt("DB_PORT", 5432); err != nil {
		errs = append(errs, err)
	}
	if cfg.Settlement.ChargeSuccessRate, err = env.GetEnvFloat("PAYMENT_SUCCESS_RATE", defaults.ChargeSuccessRate); err != nil {
		errs = append(errs, err)
	}
	if cfg.Settlement.RefundSuccessRate, err = env.GetEnvFloat("REFUND_SUCCESS_RATE", defaults.RefundSuccessRate); err != nil {
		errs = append(errs, err)
	}
	if cfg.Settlement.Latency, err = env.GetEnvDuration("SETTLEMENT_LATENCY", defaults.Latency); err != nil {
		errs = append(errs, err)
	}
	if cfg.SettlementTimeout, err = env.GetEnvDuration("SETTLEMENT_TIMEOUT", 10*time.Second); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	for key, rate := range map[string]float64{
		"PAYMENT_SUCCESS_RATE": cfg.Settlement.ChargeSuccessRate,
		"REFUND_SUCCESS_RATE":  cfg.Settlement.RefundSuccessRate,
	} {
		if rate < 0 || rate > 1 {
			return nil, fmt.Errorf("invalid %s: must be within [0, 1], got %v", key, rate)
		}
	}
	return cfg, nil
}
