// Package config provides environment-aware configuration management
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment represents the deployment environment
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

func parseEnvironment(s string) (Environment, bool) {
	switch Environment(s) {
	case Development, Testing, Production:
		return Environment(s), true
	default:
		return "", false
	}
}

// Config holds all application configuration for the coordinator daemon.
type Config struct {
	// Environment
	Env Environment

	// HTTP API
	ListenAddr string

	// Storage backend: "memory" or "postgres"
	StoreBackend  string
	DatabaseURL   string
	DBMaxConns    int
	DBIdleTimeout time.Duration

	// Migrations
	MigrationsDir string

	// Cache (idempotency cache for artifact submission / integration enqueue)
	RedisURL       string
	CacheLocalSize int
	CacheTTL       time.Duration

	// Sweep / background ticker
	LeaseTTL         time.Duration
	ReservationTTL   time.Duration
	SweepInterval    time.Duration
	GateEvalInterval time.Duration

	// Auth
	AuthEnabled   bool
	JWTSigningKey string
	JWTExpiry     time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Security
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSOrigins       []string

	// Features
	EnableProfiling      bool
	EnableDebugEndpoints bool
	TestMode             bool
	MetricsEnabled       bool
	MetricsPort          int
	TracingEnabled       bool
	TracingEndpoint      string
}

// Load loads configuration based on the TASCADE_ENV environment variable.
func Load() (*Config, error) {
	envStr := os.Getenv("TASCADE_ENV")
	if envStr == "" {
		envStr = string(Development)
	}

	env, ok := parseEnvironment(envStr)
	if !ok {
		return nil, fmt.Errorf("invalid TASCADE_ENV: %s (must be development, testing, or production)", envStr)
	}

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		// Config file is optional; only warn on non-"file not found" errors
		// (e.g. parse errors) to avoid noisy logs during tests and CI runs.
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("Warning: Could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{
		Env: env,
	}

	// Load all configuration values
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() error {
	var err error

	c.ListenAddr = getEnv("LISTEN_ADDR", ":8080")

	c.StoreBackend = getEnv("STORE_BACKEND", "memory")
	c.DatabaseURL = getEnv("DATABASE_URL", "")
	if c.StoreBackend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
	}
	c.DBMaxConns = getIntEnv("DB_MAX_CONNECTIONS", 20)
	dbIdleTimeout := getEnv("DB_IDLE_TIMEOUT", "5m")
	c.DBIdleTimeout, err = time.ParseDuration(dbIdleTimeout)
	if err != nil {
		return fmt.Errorf("invalid DB_IDLE_TIMEOUT: %w", err)
	}
	c.MigrationsDir = getEnv("MIGRATIONS_DIR", "")

	c.RedisURL = getEnv("REDIS_URL", "")
	c.CacheLocalSize = getIntEnv("CACHE_LOCAL_SIZE", 4096)
	cacheTTL := getEnv("CACHE_TTL", "10m")
	c.CacheTTL, err = time.ParseDuration(cacheTTL)
	if err != nil {
		return fmt.Errorf("invalid CACHE_TTL: %w", err)
	}

	leaseTTL := getEnv("LEASE_TTL", "30m")
	c.LeaseTTL, err = time.ParseDuration(leaseTTL)
	if err != nil {
		return fmt.Errorf("invalid LEASE_TTL: %w", err)
	}
	reservationTTL := getEnv("RESERVATION_TTL", "30m")
	c.ReservationTTL, err = time.ParseDuration(reservationTTL)
	if err != nil {
		return fmt.Errorf("invalid RESERVATION_TTL: %w", err)
	}
	sweepInterval := getEnv("SWEEP_INTERVAL", "30s")
	c.SweepInterval, err = time.ParseDuration(sweepInterval)
	if err != nil {
		return fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
	}
	gateEvalInterval := getEnv("GATE_EVAL_INTERVAL", "1m")
	c.GateEvalInterval, err = time.ParseDuration(gateEvalInterval)
	if err != nil {
		return fmt.Errorf("invalid GATE_EVAL_INTERVAL: %w", err)
	}

	c.AuthEnabled = getBoolEnv("AUTH_ENABLED", c.Env == Production)
	c.JWTSigningKey = getEnv("JWT_SIGNING_KEY", "")
	if c.AuthEnabled && c.Env == Production && c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required in production when AUTH_ENABLED=true")
	}
	jwtExpiry := getEnv("JWT_EXPIRY", "15m")
	c.JWTExpiry, err = time.ParseDuration(jwtExpiry)
	if err != nil {
		return fmt.Errorf("invalid JWT_EXPIRY: %w", err)
	}

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	c.RateLimitEnabled = getBoolEnv("RATE_LIMIT_ENABLED", true)
	c.RateLimitRequests = getIntEnv("RATE_LIMIT_REQUESTS", 100)
	rateLimitWindow := getEnv("RATE_LIMIT_WINDOW", "1m")
	c.RateLimitWindow, err = time.ParseDuration(rateLimitWindow)
	if err != nil {
		return fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
	}
	c.CORSOrigins = strings.Split(getEnv("CORS_ALLOWED_ORIGINS", getEnv("CORS_ORIGINS", "*")), ",")

	c.EnableProfiling = getBoolEnv("ENABLE_PROFILING", false)
	c.EnableDebugEndpoints = getBoolEnv("ENABLE_DEBUG_ENDPOINTS", false)
	c.TestMode = getBoolEnv("TEST_MODE", false)
	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", true)
	c.MetricsPort = getIntEnv("METRICS_PORT", 9090)
	c.TracingEnabled = getBoolEnv("TRACING_ENABLED", false)
	c.TracingEndpoint = getEnv("TRACING_ENDPOINT", "")

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Env == Development
}

// IsTesting returns true if running in testing environment
func (c *Config) IsTesting() bool {
	return c.Env == Testing
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Env == Production
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.EnableDebugEndpoints {
			return fmt.Errorf("ENABLE_DEBUG_ENDPOINTS must be false in production")
		}
		if c.TestMode {
			return fmt.Errorf("TEST_MODE must be false in production")
		}
		if !c.RateLimitEnabled {
			return fmt.Errorf("RATE_LIMIT_ENABLED must be true in production")
		}
		if !c.AuthEnabled {
			return fmt.Errorf("AUTH_ENABLED must be true in production")
		}
	}

	if c.StoreBackend != "memory" && c.StoreBackend != "postgres" {
		return fmt.Errorf("invalid STORE_BACKEND: %s (must be memory or postgres)", c.StoreBackend)
	}

	if c.MetricsPort < 1024 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid METRICS_PORT: %d (must be between 1024 and 65535)", c.MetricsPort)
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
