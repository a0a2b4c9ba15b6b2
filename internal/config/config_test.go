package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TASCADE_ENV", "development")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Env != Development {
		t.Errorf("expected development env, got %s", cfg.Env)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected default listen addr :8080, got %s", cfg.ListenAddr)
	}
	if cfg.StoreBackend != "memory" {
		t.Errorf("expected default store backend memory, got %s", cfg.StoreBackend)
	}
	if cfg.LeaseTTL.String() != "30m0s" {
		t.Errorf("expected default lease ttl 30m, got %s", cfg.LeaseTTL)
	}
	if cfg.AuthEnabled {
		t.Errorf("expected auth disabled by default outside production")
	}
}

func TestLoadInvalidEnv(t *testing.T) {
	t.Setenv("TASCADE_ENV", "staging")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid TASCADE_ENV")
	}
}

func TestLoadPostgresRequiresDatabaseURL(t *testing.T) {
	t.Setenv("TASCADE_ENV", "development")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when STORE_BACKEND=postgres without DATABASE_URL")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TASCADE_ENV", "development")
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("LEASE_TTL", "5m")
	t.Setenv("RATE_LIMIT_REQUESTS", "50")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("expected LISTEN_ADDR override, got %s", cfg.ListenAddr)
	}
	if cfg.LeaseTTL.String() != "5m0s" {
		t.Errorf("expected LEASE_TTL override, got %s", cfg.LeaseTTL)
	}
	if cfg.RateLimitRequests != 50 {
		t.Errorf("expected RATE_LIMIT_REQUESTS override, got %d", cfg.RateLimitRequests)
	}
}

func TestValidateProductionRequiresAuthAndRateLimit(t *testing.T) {
	cfg := &Config{
		Env:              Production,
		StoreBackend:     "postgres",
		MetricsPort:      9090,
		RateLimitEnabled: true,
		AuthEnabled:      false,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when production config has auth disabled")
	}
	cfg.AuthEnabled = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid production config, got: %v", err)
	}
}

func TestValidateRejectsUnknownStoreBackend(t *testing.T) {
	cfg := &Config{Env: Development, StoreBackend: "sqlite", MetricsPort: 9090}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown store backend")
	}
}

func TestEnvironmentPredicates(t *testing.T) {
	cfg := &Config{Env: Testing}
	if !cfg.IsTesting() || cfg.IsDevelopment() || cfg.IsProduction() {
		t.Fatal("environment predicates disagree with Env field")
	}
}
