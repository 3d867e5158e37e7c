package store

import (
	"fmt"
	"strings"

	"github.com/transfa/ledger-service/internal/domain"
)

func validateEntry(entry domain.LedgerEntry) error {
	tx := domain.Transaction{
		Amount:    entry.Amount,
		Direction: domain.DirectionFor(entry.Amount),
		Category:  entry.Category,
	}
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("invalid ledger entry: %w", err)
	}
	return nil
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}
