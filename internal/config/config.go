/**
 * @description
 * This package handles the configuration management for the ledger-service. It uses the
 * Viper library to read configuration from environment variables (and an optional .env
 * file), providing a centralized way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/transfa/ledger-service/internal/domain"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	PaymentNetworkAMQP      = "amqp"
	PaymentNetworkHTTP      = "http"
	PaymentNetworkSimulated = "simulated"

	defaultRateLimitPrefix = "ledger:rate_limit"
)

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                       string `mapstructure:"SERVER_PORT"`
	DatabaseURL                      string `mapstructure:"DATABASE_URL"`
	StoreDriver                      string `mapstructure:"STORE_DRIVER"`
	AutoMigrate                      bool   `mapstructure:"AUTO_MIGRATE"`
	RabbitMQURL                      string `mapstructure:"RABBITMQ_URL"`
	LedgerExchange                   string `mapstructure:"LEDGER_EXCHANGE"`
	SettlementQueue                  string `mapstructure:"SETTLEMENT_QUEUE"`
	PaymentNetworkMode               string `mapstructure:"PAYMENT_NETWORK_MODE"`
	PaymentNetworkURL                string `mapstructure:"PAYMENT_NETWORK_URL"`
	PaymentNetworkAPIKey             string `mapstructure:"PAYMENT_NETWORK_API_KEY"`
	RedisURL                         string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix             string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	LoginRateLimitPerMinute          int    `mapstructure:"LOGIN_RATE_LIMIT_PER_MINUTE"`
	JWTSecret                        string `mapstructure:"JWT_SECRET"`
	JWTTTLMinutes                    int    `mapstructure:"JWT_TTL_MINUTES"`
	CORSAllowedOrigins               string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	CurrentAccountOpeningBalance     string `mapstructure:"CURRENT_ACCOUNT_OPENING_BALANCE"`
	SavingsAccountOpeningBalance     string `mapstructure:"SAVINGS_ACCOUNT_OPENING_BALANCE"`
	ExternalSettlementTimeoutMinutes int    `mapstructure:"EXTERNAL_SETTLEMENT_TIMEOUT_MINUTES"`
	SettlementSweepSchedule          string `mapstructure:"SETTLEMENT_SWEEP_SCHEDULE"`
	DispatchIntervalMS               int    `mapstructure:"DISPATCH_INTERVAL_MS"`
	SeedDemoData                     bool   `mapstructure:"SEED_DEMO_DATA"`

	// Parsed forms, filled by LoadConfig.
	CurrentOpeningBalance int64 `mapstructure:"-"`
	SavingsOpeningBalance int64 `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	viper.SetDefault("AUTO_MIGRATE", true)
	viper.SetDefault("LEDGER_EXCHANGE", "ledger.events")
	viper.SetDefault("SETTLEMENT_QUEUE", "ledger_service.settlements")
	viper.SetDefault("PAYMENT_NETWORK_MODE", PaymentNetworkSimulated)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("LOGIN_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("JWT_TTL_MINUTES", 60)
	viper.SetDefault("CURRENT_ACCOUNT_OPENING_BALANCE", "5000.00")
	viper.SetDefault("SAVINGS_ACCOUNT_OPENING_BALANCE", "2500.00")
	viper.SetDefault("EXTERNAL_SETTLEMENT_TIMEOUT_MINUTES", 30)
	viper.SetDefault("SETTLEMENT_SWEEP_SCHEDULE", "@every 1m")
	viper.SetDefault("DISPATCH_INTERVAL_MS", 1200)
	viper.SetDefault("SEED_DEMO_DATA", false)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range []string{
		"SERVER_PORT", "DATABASE_URL", "STORE_DRIVER", "AUTO_MIGRATE",
		"RABBITMQ_URL", "LEDGER_EXCHANGE", "SETTLEMENT_QUEUE",
		"PAYMENT_NETWORK_MODE", "PAYMENT_NETWORK_URL", "PAYMENT_NETWORK_API_KEY",
		"REDIS_URL", "REDIS_RATE_LIMIT_PREFIX", "LOGIN_RATE_LIMIT_PER_MINUTE",
		"JWT_SECRET", "JWT_TTL_MINUTES", "CORS_ALLOWED_ORIGINS",
		"CURRENT_ACCOUNT_OPENING_BALANCE", "SAVINGS_ACCOUNT_OPENING_BALANCE",
		"EXTERNAL_SETTLEMENT_TIMEOUT_MINUTES", "SETTLEMENT_SWEEP_SCHEDULE",
		"DISPATCH_INTERVAL_MS", "SEED_DEMO_DATA",
	} {
		_ = viper.BindEnv(key)
	}

	// A missing .env file is fine; environment values still apply.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	config.PaymentNetworkMode = strings.ToLower(strings.TrimSpace(config.PaymentNetworkMode))
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	if config.JWTTTLMinutes <= 0 {
		config.JWTTTLMinutes = 60
	}
	if config.ExternalSettlementTimeoutMinutes <= 0 {
		config.ExternalSettlementTimeoutMinutes = 30
	}
	if config.DispatchIntervalMS <= 0 {
		config.DispatchIntervalMS = 1200
	}
	if config.LoginRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative login rate limit configured; disabling\" value=%d", config.LoginRateLimitPerMinute)
		config.LoginRateLimitPerMinute = 0
	}

	if config.CurrentOpeningBalance, err = parseOpeningBalance("CURRENT_ACCOUNT_OPENING_BALANCE", config.CurrentAccountOpeningBalance); err != nil {
		return
	}
	if config.SavingsOpeningBalance, err = parseOpeningBalance("SAVINGS_ACCOUNT_OPENING_BALANCE", config.SavingsAccountOpeningBalance); err != nil {
		return
	}

	err = config.Validate()
	return
}

func parseOpeningBalance(key, raw string) (int64, error) {
	minor, err := domain.ParseAmount(strings.TrimSpace(raw))
	if err != nil || minor < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative amount with at most two decimals", key, raw)
	}
	return minor, nil
}

// Validate reports settings that would prevent the service from starting.
func (c Config) Validate() error {
	var problems []string
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			problems = append(problems, "DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case StoreDriverMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	switch c.PaymentNetworkMode {
	case PaymentNetworkAMQP:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			problems = append(problems, "RABBITMQ_URL is required when PAYMENT_NETWORK_MODE=amqp")
		}
	case PaymentNetworkHTTP:
		if strings.TrimSpace(c.PaymentNetworkURL) == "" {
			problems = append(problems, "PAYMENT_NETWORK_URL is required when PAYMENT_NETWORK_MODE=http")
		}
	case PaymentNetworkSimulated:
	default:
		problems = append(problems, fmt.Sprintf("unknown PAYMENT_NETWORK_MODE %q", c.PaymentNetworkMode))
	}
	if len(strings.TrimSpace(c.JWTSecret)) < 16 {
		problems = append(problems, "JWT_SECRET must be at least 16 characters")
	}
	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func (c Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTTTLMinutes) * time.Minute
}

func (c Config) SettlementTimeout() time.Duration {
	return time.Duration(c.ExternalSettlementTimeoutMinutes) * time.Minute
}

func (c Config) DispatchInterval() time.Duration {
	return time.Duration(c.DispatchIntervalMS) * time.Millisecond
}
