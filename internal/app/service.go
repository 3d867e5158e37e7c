/**
 * @description
 * This file contains the core business logic for the ledger-service. The `Service`
 * struct orchestrates registration, login, account reads and transfers, coordinating
 * between the repository, the session issuer and the message broker.
 *
 * Key features:
 * - Every call takes the caller's user id explicitly and checks ownership.
 * - Money only moves through repository operations that are atomic.
 * - Lifecycle events are published to RabbitMQ after the ledger has committed.
 *
 * @dependencies
 * - context, log, reflect, strings, time: Standard Go libraries.
 * - github.com/go-playground/validator/v10: Request validation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For event publishing.
 */

package app

import (
	"context"
	"log"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultLedgerExchange = "ledger.events"

	RoutingKeyTransferCompleted = "ledger.transfer.completed"
	RoutingKeyTransferSettled   = "ledger.transfer.settled"
	RoutingKeyTransferReversed  = "ledger.transfer.reversed"
)

// SessionIssuer signs session tokens for authenticated users.
type SessionIssuer interface {
	Issue(userID uuid.UUID) (token string, expiresAt time.Time, err error)
}

// LoginRateLimiter counts attempts within a window. A nil limiter disables the check.
type LoginRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// ServiceOptions configures a Service. Zero values fall back to defaults.
type ServiceOptions struct {
	Exchange               string
	CurrentOpeningBalance  int64
	SavingsOpeningBalance  int64
	LoginAttemptsPerMinute int
	BcryptCost             int
	RateLimiter            LoginRateLimiter
	Sessions               SessionIssuer
	Biometrics             BiometricAuthenticator
	Now                    func() time.Time
	DisplayLocation        *time.Location
}

// Service provides the core business logic for the ledger.
type Service struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher
	validate      *validator.Validate
	opts          ServiceOptions

	dummyHashOnce sync.Once
	dummyHash     []byte
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository, producer rabbitmq.Publisher, opts ServiceOptions) *Service {
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}
	if opts.Exchange == "" {
		opts.Exchange = DefaultLedgerExchange
	}
	if opts.CurrentOpeningBalance == 0 {
		opts.CurrentOpeningBalance = domain.MustParseAmount("5000.00")
	}
	if opts.SavingsOpeningBalance == 0 {
		opts.SavingsOpeningBalance = domain.MustParseAmount("2500.00")
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DisplayLocation == nil {
		opts.DisplayLocation = time.UTC
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Service{
		repo:          repo,
		eventProducer: producer,
		validate:      v,
		opts:          opts,
	}
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC()
}

// publishTransferEvent is best effort: the ledger has already committed.
func (s *Service) publishTransferEvent(ctx context.Context, routingKey string, t *domain.Transfer) {
	if err := s.eventProducer.Publish(ctx, s.opts.Exchange, routingKey, domain.NewTransferEvent(t, s.now())); err != nil {
		log.Printf("level=warn component=ledger msg=\"event publish failed\" routing_key=%s transfer_id=%s err=%v", routingKey, t.ID, err)
	}
}

func (s *Service) validateStruct(v interface{}) error {
	if err := s.validate.Struct(v); err != nil {
		return newValidationError(err)
	}
	return nil
}
