/**
 * @description
 * This file defines the repository interfaces for the ledger-service. Business logic in
 * `internal/app` depends only on these contracts; `PostgresRepository` and
 * `MemoryRepository` are the two implementations.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrAccountNotFound      = errors.New("account not found")
	ErrBeneficiaryNotFound  = errors.New("beneficiary not found")
	ErrTransferNotFound     = errors.New("transfer not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrDuplicateUsername    = errors.New("username already taken")
	ErrDuplicateEmail       = errors.New("email already registered")
	ErrIdempotencyKeyReused = errors.New("idempotency key reused with a different request")
	ErrInvalidTransferState = errors.New("transfer is not in a valid state for this operation")
)

// UserRepository is the User Directory.
type UserRepository interface {
	// CreateUserWithAccounts inserts the user and its opening accounts in one transaction.
	// Username and email are unique case-insensitively.
	CreateUserWithAccounts(ctx context.Context, user *domain.User, accounts []domain.Account) error
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	FindUserByUsername(ctx context.Context, username string) (*domain.User, error)
	UpdateUserProfile(ctx context.Context, user *domain.User) error
	UpdateBiometricEnrollment(ctx context.Context, userID uuid.UUID, enrolled bool, secret []byte) error
}

// AccountRepository is the read side of the Account Store. Balances only change through
// AppendEntry, ExecuteTransfer and ReverseTransfer.
type AccountRepository interface {
	FindAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error)
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
}

// TransactionRepository is the Transaction Log.
type TransactionRepository interface {
	// FindTransactionsByAccountID returns entries newest first.
	FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error)
	// AppendEntry appends one entry and applies it to the account balance atomically.
	// A debit that would take the balance below zero fails with ErrInsufficientFunds.
	AppendEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.Transaction, error)
}

// BeneficiaryRepository is the Beneficiary Directory.
type BeneficiaryRepository interface {
	CreateBeneficiary(ctx context.Context, beneficiary *domain.Beneficiary) error
	FindBeneficiaryByID(ctx context.Context, beneficiaryID uuid.UUID) (*domain.Beneficiary, error)
	FindBeneficiariesByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Beneficiary, error)
}

// TransferPlan is a validated transfer ready to be applied. Transfer carries the
// pre-assigned id, owner, idempotency key, request hash, kind and initial status.
type TransferPlan struct {
	Transfer          domain.Transfer
	DebitDescription  string
	CreditDescription string
	OccurredAt        time.Time
}

// LedgerRepository owns the atomic multi-row money movements and the transfer lifecycle.
type LedgerRepository interface {
	// ExecuteTransfer applies the plan as one unit: idempotency check, balance check under
	// lock, debit, optional credit and the transfer record. When a transfer with the same
	// (user, idempotency key) and request hash exists it is returned with replayed=true and
	// nothing changes.
	ExecuteTransfer(ctx context.Context, plan TransferPlan) (transfer *domain.Transfer, replayed bool, err error)
	FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error)
	FindTransferByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*domain.Transfer, error)
	FindTransfersByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Transfer, error)
	FindTransfersByStatus(ctx context.Context, status domain.TransferStatus, limit int) ([]domain.Transfer, error)

	// ClaimTransfersForDispatch leases pending beneficiary transfers that are due for
	// submission. Claims older than staleAfter are handed out again.
	ClaimTransfersForDispatch(ctx context.Context, limit int, staleAfter time.Duration) ([]domain.Transfer, error)
	MarkTransferSubmitted(ctx context.Context, transferID uuid.UUID, networkReference string) error
	MarkTransferDispatchFailed(ctx context.Context, transferID uuid.UUID, retryAfter time.Duration, reason string) error

	// MarkTransferSettled moves pending, submitted or failed_pending_reversal to settled.
	// Settling an already settled transfer is a no-op; a reversed one is ErrInvalidTransferState.
	MarkTransferSettled(ctx context.Context, transferID uuid.UUID, networkReference string) (*domain.Transfer, error)
	// MarkTransferFailed moves pending or submitted to failed_pending_reversal. Transfers
	// already failed or reversed are returned unchanged.
	MarkTransferFailed(ctx context.Context, transferID uuid.UUID, reason string) (*domain.Transfer, error)
	// ExpireStaleTransfers fails every pending or submitted transfer created before cutoff.
	ExpireStaleTransfers(ctx context.Context, cutoff time.Time, reason string) ([]domain.Transfer, error)
	// ReverseTransfer credits the source account back and marks the transfer reversed in
	// one transaction. Only failed_pending_reversal transfers can be reversed.
	ReverseTransfer(ctx context.Context, transferID uuid.UUID, occurredAt time.Time) (*domain.Transfer, error)
}

// Repository is everything the ledger-service persists.
type Repository interface {
	UserRepository
	AccountRepository
	TransactionRepository
	BeneficiaryRepository
	LedgerRepository
}
