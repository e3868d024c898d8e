package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_fulfillment/notification-service/internal/channel"
	env "github.com/fjod/go_fulfillment/pkg/config"
)

type Config struct {
	HTTPPort     string
	KafkaBrokers string
	LogLevel     string
	OTLPEndpoint string

	MongoURI    string
	MongoDBName string

	RedisAddr     string
	RedisPassword string
	DedupEnabled  bool
	DedupTTL      time.Duration
	DedupLease    time.Duration

	SMTP            channel.SMTPConfig
	SMSSuccessRate  float64
	PushSuccessRate float64
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:      env.GetEnv("HTTP_PORT", "8083"),
		KafkaBrokers:  env.GetEnv("KAFKA_BROKERS", "localhost:9092"),
		LogLevel:      env.GetEnv("LOG_LEVEL", "info"),
		OTLPEndpoint:  env.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		MongoURI:      env.GetEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:   env.GetEnv("MONGO_DB_NAME", "notifications"),
		RedisAddr:     env.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: env.GetEnv("REDIS_PASSWORD", ""),
		SMTP: channel.SMTPConfig{
			Addr:     env.GetEnv("SMTP_ADDR", ""),
			From:     env.GetEnv("SMTP_FROM", "noreply@example.com"),
			Username: env.GetEnv("SMTP_USERNAME", ""),
			Password: env.GetEnv("SMTP_PASSWORD", ""),
		},
	}

	var errs []error
	var err error
	if cfg.DedupEnabled, err = env.GetEnvBool("DEDUP_ENABLED", true); err != nil {
		errs = append(errs, err)
	}
	if cfg.DedupTTL, err = env.GetEnvDuration("DEDUP_TTL", 24*time.Hour); err != nil {
		errs = append(errs, err)
	}
	if cfg.DedupLease, err = env.GetEnvDuration("DEDUP_LEASE", time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.SMSSuccessRate, err = env.GetEnvFloat("SMS_SUCCESS_RATE", 0.9); err != nil {
		errs = append(errs, err)
	}
	if cfg.PushSuccessRate, err = env.GetEnvFloat("PUSH_SUCCESS_RATE", 0.95); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.DedupEnabled && cfg.DedupTTL <= 0 {
		return nil, fmt.Errorf("invalid DEDUP_TTL: must be positive, got %s", cfg.DedupTTL)
	}
	if cfg.DedupEnabled && (cfg.DedupLease <= 0 || cfg.DedupLease > cfg.DedupTTL) {
		return nil, fmt.Errorf("invalid DEDUP_LEASE: must be positive and at most DEDUP_TTL, got %s", cfg.DedupLease)
	}
	for key, rate := range map[string]float64{
		"SMS_SUCCESS_RATE":  cfg.SMSSuccessRate,
		"PUSH_SUCCESS_RATE": cfg.PushSuccessRate,
	} {
		if rate < 0 || rate > 1 {
			return nil, fmt.Errorf("invalid %s: must be within [0, 1], got %v", key, rate)
		}
	}
	return cfg, nil
}
