package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{"returns default when not set", "TEST_KEY_UNSET", "default", "", "default"},
		{"returns env value when set", "TEST_KEY_SET", "default", "custom", "custom"},
		{"returns empty string env over default", "TEST_KEY_EMPTY", "default", "", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, got, tt.want)
			}
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{"returns default when not set", "TEST_INT_UNSET", 100, "", 100},
		{"parses valid int", "TEST_INT_VALID", 100, "42", 42},
		{"returns default on invalid int", "TEST_INT_INVALID", 100, "not-a-number", 100},
		{"parses negative int", "TEST_INT_NEG", 100, "-5", -5},
		{"parses zero", "TEST_INT_ZERO", 100, "0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnvInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvInt(%q, %d) = %d, want %d", tt.key, tt.defaultValue, got, tt.want)
			}
		})
	}
}

func TestGetEnvFloat(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue float64
		envValue     string
		want         float64
	}{
		{"returns default when not set", "TEST_FLOAT_UNSET", 1.5, "", 1.5},
		{"parses valid float", "TEST_FLOAT_VALID", 1.5, "2.5", 2.5},
		{"returns default on invalid float", "TEST_FLOAT_INVALID", 1.5, "not-a-float", 1.5},
		{"parses int as float", "TEST_FLOAT_INT", 1.5, "3", 3.0},
		{"parses negative float", "TEST_FLOAT_NEG", 1.5, "-0.5", -0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnvFloat(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvFloat(%q, %f) = %f, want %f", tt.key, tt.defaultValue, got, tt.want)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue bool
		envValue     string
		want         bool
	}{
		{"returns default when not set", "TEST_BOOL_UNSET", true, "", true},
		{"parses true", "TEST_BOOL_TRUE", false, "true", true},
		{"parses false", "TEST_BOOL_FALSE", true, "false", false},
		{"parses 1 as true", "TEST_BOOL_ONE", false, "1", true},
		{"parses 0 as false", "TEST_BOOL_ZERO", true, "0", false},
		{"returns default on invalid bool", "TEST_BOOL_INVALID", true, "yes", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnvBool(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvBool(%q, %v) = %v, want %v", tt.key, tt.defaultValue, got, tt.want)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DRILL_PORT", "9000")
	t.Setenv("DRILL_STORAGE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://drill@db/drill")
	t.Setenv("RABBITMQ_URL", "amqp://drill:pw@mq:5672/")
	t.Setenv("DRILL_QUEUE_ENABLED", "true")
	t.Setenv("DRILL_DAILY_CAPACITY", "35")
	t.Setenv("DRILL_PASS_THRESHOLD", "4")
	t.Setenv("DRILL_MIN_EASE", "1.5")
	t.Setenv("DRILL_RATE_LIMIT", "not-a-number")

	cfg := DefaultLocalConfig()
	ApplyEnv(cfg)

	if cfg.Daemon.Port != 9000 {
		t.Errorf("Daemon.Port = %d; want 9000", cfg.Daemon.Port)
	}
	if cfg.Daemon.RateLimit != 600 {
		t.Errorf("Daemon.RateLimit = %d; want default 600 for unparsable value", cfg.Daemon.RateLimit)
	}
	if cfg.Storage.Driver != DriverPostgres || cfg.Storage.DatabaseURL != "postgres://drill@db/drill" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if !cfg.Queue.Enabled || cfg.Queue.URL != "amqp://drill:pw@mq:5672/" {
		t.Errorf("Queue = %+v", cfg.Queue)
	}
	if cfg.Review.DailyCapacity != 35 {
		t.Errorf("Review.DailyCapacity = %d; want 35", cfg.Review.DailyCapacity)
	}
	if cfg.Scheduler.PassThreshold != 4 || cfg.Scheduler.MinEase != 1.5 {
		t.Errorf("Scheduler = %+v", cfg.Scheduler)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Driver != DriverSQLite {
		t.Errorf("Storage.Driver = %q; want %q", cfg.Storage.Driver, DriverSQLite)
	}
	if filepath.Base(cfg.Storage.SQLitePath) != "drill.db" {
		t.Errorf("Storage.SQLitePath = %q; want .../drill.db", cfg.Storage.SQLitePath)
	}
	if cfg.Queue.Enabled {
		t.Error("Queue.Enabled = true; want false by default")
	}
}

func TestLoad_InvalidDriver(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DRILL_STORAGE", "mongo")

	if _, err := Load(); err == nil {
		t.Error("Load() error = nil; want unknown driver error")
	}
}
