package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

var configKeys = []string{
	"PORT", "SERVER_PORT", "DATABASE_URL", "STORE_DRIVER", "AUTO_MIGRATE",
	"RABBITMQ_URL", "LEDGER_EXCHANGE", "SETTLEMENT_QUEUE",
	"PAYMENT_NETWORK_MODE", "PAYMENT_NETWORK_URL", "PAYMENT_NETWORK_API_KEY",
	"REDIS_URL", "REDIS_RATE_LIMIT_PREFIX", "LOGIN_RATE_LIMIT_PER_MINUTE",
	"JWT_SECRET", "JWT_TTL_MINUTES", "CORS_ALLOWED_ORIGINS",
	"CURRENT_ACCOUNT_OPENING_BALANCE", "SAVINGS_ACCOUNT_OPENING_BALANCE",
	"EXTERNAL_SETTLEMENT_TIMEOUT_MINUTES", "SETTLEMENT_SWEEP_SCHEDULE",
	"DISPATCH_INTERVAL_MS", "SEED_DEMO_DATA",
}

func cleanEnv(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	for _, key := range configKeys {
		unsetEnvWithCleanup(t, key)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cleanEnv(t)
	setEnvWithCleanup(t, "STORE_DRIVER", "memory")
	setEnvWithCleanup(t, "JWT_SECRET", "local-dev-secret-0123")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.PaymentNetworkMode != PaymentNetworkSimulated {
		t.Fatalf("expected simulated payment network by default, got %q", cfg.PaymentNetworkMode)
	}
	if cfg.CurrentOpeningBalance != 500000 || cfg.SavingsOpeningBalance != 250000 {
		t.Fatalf("unexpected opening balances %d / %d", cfg.CurrentOpeningBalance, cfg.SavingsOpeningBalance)
	}
	if cfg.RedisRateLimitPrefix != "ledger:rate_limit" {
		t.Fatalf("unexpected rate limit prefix %q", cfg.RedisRateLimitPrefix)
	}
	if cfg.JWTTTL() != time.Hour || cfg.SettlementTimeout() != 30*time.Minute || cfg.DispatchInterval() != 1200*time.Millisecond {
		t.Fatalf("unexpected durations %v %v %v", cfg.JWTTTL(), cfg.SettlementTimeout(), cfg.DispatchInterval())
	}
	if cfg.SettlementSweepSchedule != "@every 1m" {
		t.Fatalf("unexpected sweep schedule %q", cfg.SettlementSweepSchedule)
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	cleanEnv(t)
	setEnvWithCleanup(t, "STORE_DRIVER", " Memory ")
	setEnvWithCleanup(t, "JWT_SECRET", "local-dev-secret-0123")
	setEnvWithCleanup(t, "PORT", "9090")
	setEnvWithCleanup(t, "CURRENT_ACCOUNT_OPENING_BALANCE", "1000")
	setEnvWithCleanup(t, "SAVINGS_ACCOUNT_OPENING_BALANCE", "0.50")
	setEnvWithCleanup(t, "CORS_ALLOWED_ORIGINS", "http://localhost:5173, https://bank.example.com,")
	setEnvWithCleanup(t, "SEED_DEMO_DATA", "true")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected PORT to override SERVER_PORT, got %q", cfg.ServerPort)
	}
	if cfg.StoreDriver != StoreDriverMemory {
		t.Fatalf("expected normalized store driver, got %q", cfg.StoreDriver)
	}
	if cfg.CurrentOpeningBalance != 100000 || cfg.SavingsOpeningBalance != 50 {
		t.Fatalf("unexpected opening balances %d / %d", cfg.CurrentOpeningBalance, cfg.SavingsOpeningBalance)
	}
	origins := cfg.AllowedOrigins()
	if len(origins) != 2 || origins[1] != "https://bank.example.com" {
		t.Fatalf("unexpected origins %v", origins)
	}
	if !cfg.SeedDemoData {
		t.Fatalf("expected SEED_DEMO_DATA to be honoured")
	}
}

func TestLoadConfig_ReadsDotEnvFile(t *testing.T) {
	cleanEnv(t)
	dir := t.TempDir()
	content := "STORE_DRIVER=memory\nJWT_SECRET=file-secret-0123456789\nLEDGER_EXCHANGE=from_file\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.LedgerExchange != "from_file" {
		t.Fatalf("expected exchange from .env, got %q", cfg.LedgerExchange)
	}
}

func TestLoadConfig_RejectsInvalidOpeningBalance(t *testing.T) {
	cleanEnv(t)
	setEnvWithCleanup(t, "STORE_DRIVER", "memory")
	setEnvWithCleanup(t, "JWT_SECRET", "local-dev-secret-0123")
	setEnvWithCleanup(t, "CURRENT_ACCOUNT_OPENING_BALANCE", "12.345")

	if _, err := LoadConfig(t.TempDir()); err == nil || !strings.Contains(err.Error(), "CURRENT_ACCOUNT_OPENING_BALANCE") {
		t.Fatalf("expected opening balance error, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{StoreDriver: StoreDriverMemory, PaymentNetworkMode: PaymentNetworkSimulated, JWTSecret: "local-dev-secret-0123"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"postgres without url", func(c *Config) { c.StoreDriver = StoreDriverPostgres }, "DATABASE_URL"},
		{"unknown driver", func(c *Config) { c.StoreDriver = "sqlite" }, "STORE_DRIVER"},
		{"amqp without broker", func(c *Config) { c.PaymentNetworkMode = PaymentNetworkAMQP }, "RABBITMQ_URL"},
		{"http without url", func(c *Config) { c.PaymentNetworkMode = PaymentNetworkHTTP }, "PAYMENT_NETWORK_URL"},
		{"unknown network", func(c *Config) { c.PaymentNetworkMode = "carrier-pigeon" }, "PAYMENT_NETWORK_MODE"},
		{"short secret", func(c *Config) { c.JWTSecret = "short" }, "JWT_SECRET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
