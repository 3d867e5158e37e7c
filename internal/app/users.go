package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	CurrentAccountName = "Global One Account"
	SavingsAccountName = "Savings Account"

	accountNumberDigits = 10
	loginRateLimitScope = "login"
)

// Session is returned by a successful login.
type Session struct {
	User      *domain.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Register creates a user together with the two opening accounts. Nothing is created when
// the username or email is already taken.
func (s *Service) Register(ctx context.Context, req domain.RegisterUserRequest) (*domain.User, []domain.Account, error) {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	req.IDNumber = strings.TrimSpace(req.IDNumber)
	if err := s.validateStruct(req); err != nil {
		return nil, nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.opts.BcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.New(),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: string(hash),
		PhoneNumber:  req.PhoneNumber,
		IDNumber:     req.IDNumber,
	}

	accounts := make([]domain.Account, 0, 2)
	for _, opening := range []struct {
		name    string
		typ     domain.AccountType
		balance int64
	}{
		{CurrentAccountName, domain.AccountTypeCurrent, s.opts.CurrentOpeningBalance},
		{SavingsAccountName, domain.AccountTypeSavings, s.opts.SavingsOpeningBalance},
	} {
		number, err := generateAccountNumber()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate account number: %w", err)
		}
		accounts = append(accounts, domain.Account{
			ID:             uuid.New(),
			Name:           opening.name,
			AccountNumber:  number,
			MaskedNumber:   domain.MaskAccountNumber(number),
			InitialBalance: opening.balance,
			Balance:        opening.balance,
			Type:           opening.typ,
		})
	}

	if err := s.repo.CreateUserWithAccounts(ctx, user, accounts); err != nil {
		return nil, nil, fmt.Errorf("failed to register user: %w", err)
	}
	log.Printf("level=info component=users msg=\"user registered\" user_id=%s accounts=%d", user.ID, len(accounts))
	return user, accounts, nil
}

func generateAccountNumber() (string, error) {
	var b strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < accountNumberDigits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// GetProfile returns the caller's user record.
func (s *Service) GetProfile(ctx context.Context, callerID uuid.UUID) (*domain.User, error) {
	return s.repo.FindUserByID(ctx, callerID)
}

// UpdateProfile edits the caller's profile. Username and password cannot be changed here.
func (s *Service) UpdateProfile(ctx context.Context, callerID uuid.UUID, req domain.UpdateProfileRequest) (*domain.User, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	user, err := s.repo.FindUserByID(ctx, callerID)
	if err != nil {
		return nil, err
	}
	req.Apply(user)
	if err := s.repo.UpdateUserProfile(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return user, nil
}

// Login checks the password and issues a session token. Attempts are rate limited per
// username when a limiter is configured.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	if err := s.consumeLoginAttempt(ctx, username); err != nil {
		return nil, err
	}

	user, err := s.repo.FindUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			s.compareDummyPassword(password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	s.resetLoginAttempts(ctx, username)
	return s.issueSession(user)
}

// compareDummyPassword does the bcrypt work of a real password check, at the configured
// cost, so an unknown username is rejected in the same time as a wrong password.
func (s *Service) compareDummyPassword(password string) {
	s.dummyHashOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("ledger-service-unknown-user"), s.opts.BcryptCost)
		if err != nil {
			log.Printf("level=warn component=users msg=\"dummy password hash failed\" err=%v", err)
			return
		}
		s.dummyHash = hash
	})
	if s.dummyHash != nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
	}
}

type rateLimitResetter interface {
	Reset(ctx context.Context, scope, subject string) error
}

func (s *Service) resetLoginAttempts(ctx context.Context, username string) {
	resetter, ok := s.opts.RateLimiter.(rateLimitResetter)
	if !ok {
		return
	}
	if err := resetter.Reset(ctx, loginRateLimitScope, domain.NormalizeIdentity(username)); err != nil {
		log.Printf("level=warn component=users msg=\"login rate limit reset failed\" err=%v", err)
	}
}

func (s *Service) consumeLoginAttempt(ctx context.Context, username string) error {
	if s.opts.RateLimiter == nil || s.opts.LoginAttemptsPerMinute <= 0 {
		return nil
	}
	count, retryAfter, err := s.opts.RateLimiter.ConsumeRateLimit(ctx, loginRateLimitScope, domain.NormalizeIdentity(username), s.opts.LoginAttemptsPerMinute, time.Minute)
	if err != nil {
		// fail open while Redis is unreachable
		log.Printf("level=warn component=users msg=\"login rate limiter unavailable\" err=%v", err)
		return nil
	}
	if count > s.opts.LoginAttemptsPerMinute {
		return &RateLimitError{RetryAfterSeconds: retryAfter}
	}
	return nil
}

func (s *Service) issueSession(user *domain.User) (*Session, error) {
	if s.opts.Sessions == nil {
		return nil, errors.New("session issuer not configured")
	}
	token, expiresAt, err := s.opts.Sessions.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}
	return &Session{User: user, Token: token, ExpiresAt: expiresAt}, nil
}
