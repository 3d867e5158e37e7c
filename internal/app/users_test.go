package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

func TestRegister_CreatesOpeningAccounts(t *testing.T) {
	repo := store.NewMemoryRepository()
	svc, _ := newTestService(t, repo, ServiceOptions{})
	user, accounts := registerTestUser(t, svc, "sarah")

	if accounts[0].Name != CurrentAccountName || accounts[0].Type != domain.AccountTypeCurrent || accounts[0].Balance != 500000 {
		t.Fatalf("unexpected current account %+v", accounts[0])
	}
	if accounts[1].Name != SavingsAccountName || accounts[1].Type != domain.AccountTypeSavings || accounts[1].Balance != 250000 {
		t.Fatalf("unexpected savings account %+v", accounts[1])
	}
	for _, acct := range accounts {
		if len(acct.AccountNumber) != accountNumberDigits {
			t.Fatalf("expected %d digit account number, got %q", accountNumberDigits, acct.AccountNumber)
		}
		if acct.MaskedNumber != "**** **** **** "+acct.AccountNumber[6:] {
			t.Fatalf("unexpected mask %q for %q", acct.MaskedNumber, acct.AccountNumber)
		}
	}
	stored, err := svc.ListAccounts(context.Background(), user.ID)
	if err != nil || len(stored) != 2 {
		t.Fatalf("expected 2 stored accounts, got %d err=%v", len(stored), err)
	}
	if user.PasswordHash == "" || user.PasswordHash == "Password123" {
		t.Fatalf("password must be stored hashed")
	}
}

func TestRegister_RejectsDuplicatesCaseInsensitively(t *testing.T) {
	repo := store.NewMemoryRepository()
	svc, _ := newTestService(t, repo, ServiceOptions{})
	registerTestUser(t, svc, "sarah")

	req := domain.RegisterUserRequest{
		FirstName:   "Other",
		LastName:    "Person",
		Email:       "other@example.com",
		Username:    "  SARAH ",
		Password:    "Password123",
		PhoneNumber: "082 345 6789",
		IDNumber:    "9001235678901",
	}
	if _, _, err := svc.Register(context.Background(), req); !errors.Is(err, store.ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}

	req.Username = "other"
	req.Email = "Sarah@Example.com"
	if _, _, err := svc.Register(context.Background(), req); !errors.Is(err, store.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	if _, err := repo.FindUserByUsername(context.Background(), "other"); !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("rejected registration must not create a user, got %v", err)
	}
}

func TestRegister_ValidationErrors(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryRepository(), ServiceOptions{})
	_, _, err := svc.Register(context.Background(), domain.RegisterUserRequest{
		FirstName: "A",
		LastName:  "B",
		Email:     "not-an-email",
		Username:  "ab",
		Password:  "short",
	})
	var verr *ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"email", "username", "password", "phone_number", "id_number"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Fatalf("expected field error for %s, got %v", field, verr.Fields)
		}
	}
}

func TestUpdateProfile(t *testing.T) {
	repo := store.NewMemoryRepository()
	svc, _ := newTestService(t, repo, ServiceOptions{})
	user, _ := registerTestUser(t, svc, "sarah")
	registerTestUser(t, svc, "john")

	name := "Sally"
	updated, err := svc.UpdateProfile(context.Background(), user.ID, domain.UpdateProfileRequest{FirstName: &name})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.FirstName != "Sally" || updated.Username != "sarah" {
		t.Fatalf("unexpected profile %+v", updated)
	}

	taken := "JOHN@example.com"
	if _, err := svc.UpdateProfile(context.Background(), user.ID, domain.UpdateProfileRequest{Email: &taken}); !errors.Is(err, store.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

type countingLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	resets int
	err    error
}

func (l *countingLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if l.err != nil {
		return 0, 0, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts == nil {
		l.counts = map[string]int{}
	}
	l.counts[scope+":"+subject]++
	return l.counts[scope+":"+subject], 42, nil
}

func (l *countingLimiter) Reset(ctx context.Context, scope, subject string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, scope+":"+subject)
	l.resets++
	return nil
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryRepository(), ServiceOptions{})
	user, _ := registerTestUser(t, svc, "sarah")

	session, err := svc.Login(context.Background(), "Sarah", "Password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.User.ID != user.ID || session.Token != "token-"+user.ID.String() {
		t.Fatalf("unexpected session %+v", session)
	}

	for _, tc := range []struct{ username, password string }{
		{"sarah", "wrong-password"},
		{"nobody", "Password123"},
		{"", ""},
	} {
		if _, err := svc.Login(context.Background(), tc.username, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("login(%q): expected ErrInvalidCredentials, got %v", tc.username, err)
		}
	}
}

func TestLogin_UnknownUserDoesPasswordWork(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryRepository(), ServiceOptions{BcryptCost: bcrypt.MinCost + 1})
	registerTestUser(t, svc, "sarah")

	_, unknownErr := svc.Login(context.Background(), "nobody", "Password123")
	_, wrongErr := svc.Login(context.Background(), "sarah", "wrong-password")
	if !errors.Is(unknownErr, ErrInvalidCredentials) || !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("expected identical errors, got %v and %v", unknownErr, wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatalf("error text differs: %q vs %q", unknownErr, wrongErr)
	}
	cost, err := bcrypt.Cost(svc.dummyHash)
	if err != nil || cost != bcrypt.MinCost+1 {
		t.Fatalf("expected an unknown username to run bcrypt at the configured cost, got cost=%d err=%v", cost, err)
	}
}

func TestBiometricLogin_UnknownAndUnenrolledLookAlike(t *testing.T) {
	repo := store.NewMemoryRepository()
	svc, _ := newTestService(t, repo, ServiceOptions{Biometrics: NewEnrollmentAuthenticator(repo)})
	registerTestUser(t, svc, "sarah")
	ctx := context.Background()

	_, unenrolledErr := svc.BiometricLogin(ctx, "sarah", "00ff")
	_, unknownErr := svc.BiometricLogin(ctx, "nobody", "00ff")
	if !errors.Is(unenrolledErr, ErrBiometricRejected) || !errors.Is(unknownErr, ErrBiometricRejected) {
		t.Fatalf("expected ErrBiometricRejected for both, got %v and %v", unenrolledErr, unknownErr)
	}
	if unenrolledErr.Error() != unknownErr.Error() {
		t.Fatalf("error text differs: %q vs %q", unenrolledErr, unknownErr)
	}
}

func TestLogin_RateLimited(t *testing.T) {
	limiter := &countingLimiter{}
	svc, _ := newTestService(t, store.NewMemoryRepository(), ServiceOptions{RateLimiter: limiter, LoginAttemptsPerMinute: 3})
	registerTestUser(t, svc, "sarah")

	for i := 0; i < 3; i++ {
		if _, err := svc.Login(context.Background(), "sarah", "bad"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	_, err := svc.Login(context.Background(), "SARAH", "Password123")
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) || !errors.Is(err, ErrRateLimited) || rlErr.RetryAfterSeconds != 42 {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if limiter.counts["login:sarah"] != 4 {
		t.Fatalf("expected attempts keyed by normalized username, got %v", limiter.counts)
	}
}

func TestLogin_SuccessResetsLimiterAndFailsOpen(t *testing.T) {
	limiter := &countingLimiter{}
	svc, _ := newTestService(t, store.NewMemoryRepository(), ServiceOptions{RateLimiter: limiter, LoginAttemptsPerMinute: 3})
	registerTestUser(t, svc, "sarah")

	if _, err := svc.Login(context.Background(), "sarah", "Password123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if limiter.resets != 1 || limiter.counts["login:sarah"] != 0 {
		t.Fatalf("expected window reset after success")
	}

	limiter.err = errors.New("redis: connection refused")
	if _, err := svc.Login(context.Background(), "sarah", "Password123"); err != nil {
		t.Fatalf("limiter outage should not block login: %v", err)
	}
}

func TestBiometricLogin(t *testing.T) {
	repo := store.NewMemoryRepository()
	svc, _ := newTestService(t, repo, ServiceOptions{Biometrics: NewEnrollmentAuthenticator(repo)})
	user, _ := registerTestUser(t, svc, "sarah")
	ctx := context.Background()

	available, enrolled, err := svc.BiometricStatus(ctx, user.ID)
	if err != nil || !available || enrolled {
		t.Fatalf("expected available and not enrolled, got %v %v err=%v", available, enrolled, err)
	}
	if _, err := svc.BiometricLogin(ctx, "sarah", "00"); !errors.Is(err, ErrBiometricRejected) {
		t.Fatalf("expected ErrBiometricRejected before enrollment, got %v", err)
	}

	deviceKey, err := svc.EnrollBiometric(ctx, user.ID)
	if err != nil || deviceKey == "" {
		t.Fatalf("enroll: key=%q err=%v", deviceKey, err)
	}
	if _, enrolled, _ := svc.BiometricStatus(ctx, user.ID); !enrolled {
		t.Fatalf("expected enrolled after enrollment")
	}

	assertion, err := SignBiometricChallenge(deviceKey, user.ID, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	session, err := svc.BiometricLogin(ctx, "Sarah", assertion)
	if err != nil || session.User.ID != user.ID {
		t.Fatalf("biometric login: %+v err=%v", session, err)
	}

	stale, _ := SignBiometricChallenge(deviceKey, user.ID, time.Now().Add(-5*time.Minute))
	for _, bad := range []string{stale, "zz-not-hex", ""} {
		if _, err := svc.BiometricLogin(ctx, "sarah", bad); !errors.Is(err, ErrBiometricRejected) {
			t.Fatalf("assertion %q: expected ErrBiometricRejected, got %v", bad, err)
		}
	}
	if _, err := svc.BiometricLogin(ctx, "nobody", assertion); !errors.Is(err, ErrBiometricRejected) {
		t.Fatalf("unknown user: expected ErrBiometricRejected, got %v", err)
	}
}

func TestBiometric_Unavailable(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryRepository(), ServiceOptions{})
	if available, _, err := svc.BiometricStatus(context.Background(), uuid.New()); available || err != nil {
		t.Fatalf("expected unavailable without an authenticator")
	}
	if _, err := svc.EnrollBiometric(context.Background(), uuid.New()); !errors.Is(err, ErrBiometricUnavailable) {
		t.Fatalf("expected ErrBiometricUnavailable, got %v", err)
	}
	if _, err := svc.BiometricLogin(context.Background(), "sarah", "00"); !errors.Is(err, ErrBiometricUnavailable) {
		t.Fatalf("expected ErrBiometricUnavailable, got %v", err)
	}
}

func TestSeedDemoData(t *testing.T) {
	repo := store.NewMemoryRepository()
	svc, _ := newTestService(t, repo, ServiceOptions{})
	ctx := context.Background()

	if err := svc.SeedDemoData(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := svc.SeedDemoData(ctx); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	sarah, err := repo.FindUserByUsername(ctx, "sarah")
	if err != nil {
		t.Fatalf("find sarah: %v", err)
	}
	accounts, _ := svc.ListAccounts(ctx, sarah.ID)
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts for sarah, got %d", len(accounts))
	}
	want := map[string]string{"1234567890": "24560.75", "0987654321": "15200.30"}
	for _, acct := range accounts {
		if got := domain.FormatAmount(acct.Balance); got != want[acct.AccountNumber] {
			t.Fatalf("account %s: balance %s, want %s", acct.AccountNumber, got, want[acct.AccountNumber])
		}
		assertLedgerInvariant(t, repo, acct.ID)
	}
	for _, acct := range accounts {
		if acct.AccountNumber != "1234567890" {
			continue
		}
		txns, _ := repo.FindTransactionsByAccountID(ctx, acct.ID)
		if len(txns) != 5 || txns[0].Description != "Woolworths" {
			t.Fatalf("unexpected seeded history %+v", txns)
		}
	}
	bens, _ := svc.ListBeneficiaries(ctx, sarah.ID)
	if len(bens) != 2 {
		t.Fatalf("expected 2 beneficiaries, got %d", len(bens))
	}

	if _, err := svc.Login(ctx, "john", DemoPassword); err != nil {
		t.Fatalf("demo login: %v", err)
	}
}

// flakyEntryRepo fails AppendEntry once the first failAfter entries have been written.
type flakyEntryRepo struct {
	store.Repository
	failAfter int
	appended  int
}

func (r *flakyEntryRepo) AppendEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.Transaction, error) {
	if r.failAfter >= 0 && r.appended >= r.failAfter {
		return nil, errors.New("connection reset by peer")
	}
	r.appended++
	return r.Repository.AppendEntry(ctx, entry)
}

func TestSeedDemoData_CompletesInterruptedRun(t *testing.T) {
	repo := &flakyEntryRepo{Repository: store.NewMemoryRepository(), failAfter: 2}
	svc, _ := newTestService(t, repo, ServiceOptions{})
	ctx := context.Background()

	if err := svc.SeedDemoData(ctx); err == nil {
		t.Fatalf("expected the first seed to stop on the entry failure")
	}
	sarah, err := repo.FindUserByUsername(ctx, "sarah")
	if err != nil {
		t.Fatalf("sarah should exist after the partial run: %v", err)
	}

	repo.failAfter = -1
	if err := svc.SeedDemoData(ctx); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	accounts, _ := svc.ListAccounts(ctx, sarah.ID)
	want := map[string]string{"1234567890": "24560.75", "0987654321": "15200.30"}
	for _, acct := range accounts {
		if got := domain.FormatAmount(acct.Balance); got != want[acct.AccountNumber] {
			t.Fatalf("account %s: balance %s, want %s", acct.AccountNumber, got, want[acct.AccountNumber])
		}
		assertLedgerInvariant(t, repo, acct.ID)
		if acct.AccountNumber == "1234567890" {
			txns, _ := repo.FindTransactionsByAccountID(ctx, acct.ID)
			if len(txns) != 5 {
				t.Fatalf("expected 5 entries without duplicates, got %d", len(txns))
			}
		}
	}
	if bens, _ := svc.ListBeneficiaries(ctx, sarah.ID); len(bens) != 2 {
		t.Fatalf("expected 2 beneficiaries, got %d", len(bens))
	}
	if _, err := repo.FindUserByUsername(ctx, "john"); err != nil {
		t.Fatalf("john should be seeded on the second run: %v", err)
	}
}
