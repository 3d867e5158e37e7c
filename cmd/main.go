/**
 * @description
 * This is the main entry point for the ledger-service. It is responsible for
 * initializing all components of the service, including configuration, the ledger store,
 * the Redis rate limiter, message brokers, the payment network, background jobs and the
 * HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, log/slog, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/joho/godotenv: Loads a local .env file before configuration is read.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Backing store for the login rate limiter.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/paynetclient: Client for the external payment network.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/ledger-service/internal/api"
	"github.com/transfa/ledger-service/internal/app"
	"github.com/transfa/ledger-service/internal/config"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/paynetclient"
	rmrabbit "github.com/transfa/ledger-service/pkg/rabbitmq"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("level=warn component=bootstrap msg=\".env load failed\" err=%v", err)
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"starting ledger-service\" port=%s store=%s payment_network=%s",
		cfg.ServerPort, cfg.StoreDriver, cfg.PaymentNetworkMode)

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	repository, closeStore := openStore(ctx, cfg)
	defer closeStore()

	var rabbitProducer rmrabbit.Publisher
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			if cfg.PaymentNetworkMode == config.PaymentNetworkAMQP {
				log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq producer required for amqp payment network\" err=%v", err)
			}
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		} else {
			defer producer.Close()
			rabbitProducer = producer
			log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		}
	}

	var rateLimiter app.LoginRateLimiter
	if redisClient := connectRedis(cfg.RedisURL); redisClient != nil {
		defer redisClient.Close()
		rateLimiter = app.NewRedisLoginRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	tokens, err := api.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL())
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"token manager init failed\" err=%v", err)
	}

	ledgerService := app.NewService(repository, rabbitProducer, app.ServiceOptions{
		Exchange:               cfg.LedgerExchange,
		CurrentOpeningBalance:  cfg.CurrentOpeningBalance,
		SavingsOpeningBalance:  cfg.SavingsOpeningBalance,
		LoginAttemptsPerMinute: cfg.LoginRateLimitPerMinute,
		RateLimiter:            rateLimiter,
		Sessions:               tokens,
		Biometrics:             app.NewEnrollmentAuthenticator(repository),
	})

	if cfg.SeedDemoData {
		if err := ledgerService.SeedDemoData(ctx); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"demo seed failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"demo data ready\"")
	}

	var network app.PaymentNetwork
	switch cfg.PaymentNetworkMode {
	case config.PaymentNetworkAMQP:
		network = app.NewAMQPPaymentNetwork(rabbitProducer, cfg.LedgerExchange)
	case config.PaymentNetworkHTTP:
		network = app.NewHTTPPaymentNetwork(paynetclient.NewClient(cfg.PaymentNetworkURL, cfg.PaymentNetworkAPIKey))
	default:
		network = app.NewSimulatedPaymentNetwork(ledgerService.ApplySettlement)
	}

	dispatcher := app.NewPaymentDispatcher(repository, network, ledgerService.ApplySettlement, cfg.DispatchInterval())
	go dispatcher.Run(ctx)

	if rabbitProducer != nil {
		settlementConsumer := app.NewSettlementConsumer(ledgerService)
		rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
		}
		defer rabbitConsumer.Close()

		bindings := map[string]rmrabbit.Handler{
			app.SettlementRoutingPattern: settlementConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(cfg.LedgerExchange, cfg.SettlementQueue, bindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"settlement consumer start failed\" err=%v", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("service", "ledger-service")
	jobs := app.NewJobs(ledgerService, logger, cfg.SettlementTimeout())
	scheduler := app.NewScheduler(jobs, logger, cfg.SettlementSweepSchedule)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"scheduler start failed\" err=%v", err)
	}

	handlers := api.NewHandlers(ledgerService)
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           api.LedgerRoutes(handlers, tokens, cfg.AllowedOrigins()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	<-ctx.Done()
	log.Println("level=info component=http msg=\"shutdown started\"")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	<-scheduler.Stop().Done()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// openStore returns the configured ledger store and a function that releases it.
func openStore(ctx context.Context, cfg config.Config) (store.Repository, func()) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Println("level=info component=bootstrap msg=\"using in-memory ledger store\"")
		return store.NewMemoryRepository(), func() {}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts behind poolers
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		log.Fatalf("level=fatal component=bootstrap msg=\"database ping failed\" err=%v", err)
	}
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx, dbpool); err != nil {
			dbpool.Close()
			log.Fatalf("level=fatal component=bootstrap msg=\"migration failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"migrations applied\"")
	}
	return store.NewPostgresRepository(dbpool), dbpool.Close
}

// connectRedis returns nil when Redis is not configured or unreachable; login
// attempts are then not rate limited.
func connectRedis(redisURL string) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; login rate limiting disabled\" env=REDIS_URL")
		return nil
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; login rate limiting disabled\" err=%v", err)
		return nil
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; login rate limiting disabled\" err=%v", err)
		client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}
