package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/insights"
)

// TransactionQuery is the caller-facing history filter.
type TransactionQuery struct {
	Search    string
	Direction domain.Direction
	Range     domain.DateRange
}

// ListAccounts returns the caller's accounts for the dashboard.
func (s *Service) ListAccounts(ctx context.Context, callerID uuid.UUID) ([]domain.Account, error) {
	return s.repo.FindAccountsByUserID(ctx, callerID)
}

// GetAccount returns one of the caller's accounts.
func (s *Service) GetAccount(ctx context.Context, callerID, accountID uuid.UUID) (*domain.Account, error) {
	return s.ownedAccount(ctx, callerID, accountID)
}

// ListTransactions returns the account history, newest first, with all filters combined.
func (s *Service) ListTransactions(ctx context.Context, callerID, accountID uuid.UUID, q TransactionQuery) ([]domain.Transaction, error) {
	if _, err := s.ownedAccount(ctx, callerID, accountID); err != nil {
		return nil, err
	}
	txns, err := s.repo.FindTransactionsByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	return domain.FilterTransactions(txns, domain.TransactionFilter{
		Search:    q.Search,
		Direction: q.Direction,
		Range:     q.Range,
		Now:       s.now(),
		Location:  s.opts.DisplayLocation,
	}), nil
}

// AccountInsights summarizes spending for one of the caller's accounts.
func (s *Service) AccountInsights(ctx context.Context, callerID, accountID uuid.UUID, window insights.Window) (*insights.Summary, error) {
	if _, err := s.ownedAccount(ctx, callerID, accountID); err != nil {
		return nil, err
	}
	txns, err := s.repo.FindTransactionsByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	summary := insights.Summarize(txns, window, s.now(), s.opts.DisplayLocation)
	return &summary, nil
}

// PostEntry records an operator posting such as income or an expense against an account.
// The entry and the balance change are written together.
func (s *Service) PostEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.Transaction, error) {
	if entry.Amount == 0 {
		return nil, ErrInvalidAmount
	}
	if !entry.Category.Valid() {
		return nil, &ValidationError{Fields: map[string]string{"category": "is invalid"}}
	}
	entry.Description = strings.TrimSpace(entry.Description)
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now()
	}
	return s.repo.AppendEntry(ctx, entry)
}

// ListBeneficiaries returns the caller's saved payees.
func (s *Service) ListBeneficiaries(ctx context.Context, callerID uuid.UUID) ([]domain.Beneficiary, error) {
	return s.repo.FindBeneficiariesByUserID(ctx, callerID)
}

// AddBeneficiary saves a new payee for the caller.
func (s *Service) AddBeneficiary(ctx context.Context, callerID uuid.UUID, req domain.CreateBeneficiaryRequest) (*domain.Beneficiary, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.AccountNumber = strings.TrimSpace(req.AccountNumber)
	req.BankName = strings.TrimSpace(req.BankName)
	req.BranchCode = strings.TrimSpace(req.BranchCode)
	req.Reference = strings.TrimSpace(req.Reference)
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	b := &domain.Beneficiary{
		ID:            uuid.New(),
		UserID:        callerID,
		Name:          req.Name,
		AccountNumber: req.AccountNumber,
		BankName:      req.BankName,
		BranchCode:    req.BranchCode,
		Reference:     req.Reference,
	}
	if err := s.repo.CreateBeneficiary(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to create beneficiary: %w", err)
	}
	return b, nil
}
