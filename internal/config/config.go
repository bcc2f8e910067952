package config

import (
	"os"
	"strconv"
)

// Load reads ~/.drill/config.yaml, applies environment overrides and
// validates the result.
func Load() (*LocalConfig, error) {
	cfg, err := LoadLocalConfig()
	if err != nil {
		return nil, err
	}
	dir, err := DrillDir()
	if err != nil {
		return nil, err
	}

	ApplyEnv(cfg)
	cfg.ResolvePaths(dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with DRILL_* variables, DATABASE_URL and RABBITMQ_URL
func ApplyEnv(cfg *LocalConfig) {
	cfg.Daemon.Port = getEnvInt("DRILL_PORT", cfg.Daemon.Port)
	cfg.Daemon.Bind = getEnv("DRILL_BIND", cfg.Daemon.Bind)
	cfg.Daemon.LogLevel = getEnv("DRILL_LOG_LEVEL", cfg.Daemon.LogLevel)
	cfg.Daemon.RateLimit = getEnvInt("DRILL_RATE_LIMIT", cfg.Daemon.RateLimit)

	cfg.Storage.Driver = getEnv("DRILL_STORAGE", cfg.Storage.Driver)
	cfg.Storage.SQLitePath = getEnv("DRILL_DB", cfg.Storage.SQLitePath)
	cfg.Storage.DatabaseURL = getEnv("DATABASE_URL", cfg.Storage.DatabaseURL)
	cfg.Storage.Schema = getEnv("DRILL_DB_SCHEMA", cfg.Storage.Schema)
	cfg.Storage.LogSQL = getEnvBool("DRILL_LOG_SQL", cfg.Storage.LogSQL)

	cfg.Queue.URL = getEnv("RABBITMQ_URL", cfg.Queue.URL)
	cfg.Queue.Enabled = getEnvBool("DRILL_QUEUE_ENABLED", cfg.Queue.Enabled)
	cfg.Queue.Workers = getEnvInt("DRILL_QUEUE_WORKERS", cfg.Queue.Workers)

	cfg.Review.DailyCapacity = getEnvInt("DRILL_DAILY_CAPACITY", cfg.Review.DailyCapacity)

	cfg.Scheduler.PassThreshold = getEnvInt("DRILL_PASS_THRESHOLD", cfg.Scheduler.PassThreshold)
	cfg.Scheduler.MinEase = getEnvFloat("DRILL_MIN_EASE", cfg.Scheduler.MinEase)
	cfg.Scheduler.MaxIntervalDays = getEnvInt("DRILL_MAX_INTERVAL_DAYS", cfg.Scheduler.MaxIntervalDays)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
