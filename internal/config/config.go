// Package config loads process-level configuration from the environment.
// Business-level payout parameters (fees, holding period, minimums) are not
// here: those live in the platform settings table so admins can change them
// without a redeploy.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Env          string
	Port         string
	DatabasePath string
	JWTSecret    string

	// Payment processor credentials. An empty StripeAPIKey switches the
	// service to the in-memory fake client (local development and tests).
	StripeAPIKey        string
	StripeWebhookSecret string
	ProcessorTimeout    time.Duration

	// Background loop cadences.
	SweepInterval     time.Duration
	SchedulerInterval time.Duration
}

// Load reads configuration from the environment, consulting a local .env
// file when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment")
	}

	return &Config{
		Env:                 getEnv("ENV", "development"),
		Port:                getEnv("PORT", "8080"),
		DatabasePath:        getEnv("DATABASE_PATH", "payout.db"),
		JWTSecret:           getEnv("JWT_SECRET", "payout-dev-secret"),
		StripeAPIKey:        getEnv("STRIPE_API_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		ProcessorTimeout:    getDuration("PROCESSOR_TIMEOUT", 15*time.Second),
		SweepInterval:       getDuration("SWEEP_INTERVAL", 5*time.Minute),
		SchedulerInterval:   getDuration("SCHEDULER_INTERVAL", time.Hour),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
	return fallback
}
