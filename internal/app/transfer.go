package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

// Transfer validates and executes a transfer for callerID. Preconditions are checked in
// order and the first failure is returned; the source balance is checked again under lock
// by the repository.
func (s *Service) Transfer(ctx context.Context, callerID uuid.UUID, req domain.TransferRequest) (*domain.TransferResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if (req.DestinationAccountID == nil) == (req.BeneficiaryID == nil) {
		return nil, ErrInvalidDestination
	}
	req.Reference = strings.TrimSpace(req.Reference)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	fingerprint := req.Fingerprint()

	if req.IdempotencyKey != "" {
		existing, err := s.repo.FindTransferByIdempotencyKey(ctx, callerID, req.IdempotencyKey)
		switch {
		case err == nil:
			if existing.RequestHash != fingerprint {
				return nil, store.ErrIdempotencyKeyReused
			}
			return replayResult(existing), nil
		case !errors.Is(err, store.ErrTransferNotFound):
			return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
		}
	}

	source, err := s.ownedAccount(ctx, callerID, req.SourceAccountID)
	if err != nil {
		return nil, err
	}

	kind := domain.TransferKindOwnAccount
	status := domain.TransferStatusCompleted
	if req.DestinationAccountID != nil {
		if *req.DestinationAccountID == source.ID {
			return nil, ErrSameAccount
		}
		if _, err := s.ownedAccount(ctx, callerID, *req.DestinationAccountID); err != nil {
			return nil, err
		}
	} else {
		beneficiary, err := s.repo.FindBeneficiaryByID(ctx, *req.BeneficiaryID)
		if err != nil {
			return nil, fmt.Errorf("failed to find beneficiary: %w", err)
		}
		if beneficiary.UserID != callerID {
			return nil, fmt.Errorf("failed to find beneficiary: %w", store.ErrBeneficiaryNotFound)
		}
		kind = domain.TransferKindBeneficiary
		status = domain.TransferStatusPending
	}

	if source.Balance < req.Amount {
		return nil, store.ErrInsufficientFunds
	}

	plan := store.TransferPlan{
		Transfer: domain.Transfer{
			ID:                   uuid.New(),
			UserID:               callerID,
			RequestHash:          fingerprint,
			SourceAccountID:      source.ID,
			DestinationAccountID: req.DestinationAccountID,
			BeneficiaryID:        req.BeneficiaryID,
			Amount:               req.Amount,
			Reference:            req.Reference,
			Kind:                 kind,
			Status:               status,
		},
		DebitDescription:  req.DebitDescription(),
		CreditDescription: req.CreditDescription(),
		OccurredAt:        s.now(),
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		plan.Transfer.IdempotencyKey = &key
	}

	transfer, replayed, err := s.repo.ExecuteTransfer(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("failed to execute transfer: %w", err)
	}
	if replayed {
		return replayResult(transfer), nil
	}

	log.Printf("level=info component=transfer msg=\"transfer committed\" transfer_id=%s user_id=%s kind=%s status=%s amount=%d",
		transfer.ID, callerID, transfer.Kind, transfer.Status, transfer.Amount)
	if transfer.Status == domain.TransferStatusCompleted {
		s.publishTransferEvent(ctx, RoutingKeyTransferCompleted, transfer)
	}

	return &domain.TransferResult{
		TransferID:    transfer.ID,
		Status:        transfer.Status,
		SourceBalance: transfer.SourceBalanceAfter,
	}, nil
}

func replayResult(t *domain.Transfer) *domain.TransferResult {
	return &domain.TransferResult{
		TransferID:    t.ID,
		Status:        t.Status,
		SourceBalance: t.SourceBalanceAfter,
		Replayed:      true,
	}
}

// ownedAccount loads an account and hides accounts that belong to someone else.
func (s *Service) ownedAccount(ctx context.Context, callerID, accountID uuid.UUID) (*domain.Account, error) {
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account.UserID != callerID {
		return nil, fmt.Errorf("failed to find account: %w", store.ErrAccountNotFound)
	}
	return account, nil
}

// GetTransfer returns one of the caller's transfers.
func (s *Service) GetTransfer(ctx context.Context, callerID, transferID uuid.UUID) (*domain.Transfer, error) {
	t, err := s.repo.FindTransferByID(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.UserID != callerID {
		return nil, store.ErrTransferNotFound
	}
	return t, nil
}

// ListTransfers returns the caller's transfers, newest first.
func (s *Service) ListTransfers(ctx context.Context, callerID uuid.UUID) ([]domain.Transfer, error) {
	return s.repo.FindTransfersByUserID(ctx, callerID)
}
