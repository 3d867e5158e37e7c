/**
 * @description
 * Core domain models for the ledger: accounts and the entries that move their balances.
 *
 * @notes
 * - Amounts are stored as `int64` minor units (cents); see money.go for the decimal edges.
 * - An account's Balance always equals InitialBalance plus the sum of its entries.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountType is the product an account belongs to.
type AccountType string

const (
	AccountTypeCurrent    AccountType = "current"
	AccountTypeSavings    AccountType = "savings"
	AccountTypeInvestment AccountType = "investment"
	AccountTypeCredit     AccountType = "credit"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeCurrent, AccountTypeSavings, AccountTypeInvestment, AccountTypeCredit:
		return true
	}
	return false
}

// Account is a money-bearing record owned by exactly one user.
type Account struct {
	ID             uuid.UUID   `json:"id"`
	UserID         uuid.UUID   `json:"user_id"`
	Name           string      `json:"name"`
	AccountNumber  string      `json:"account_number"`
	MaskedNumber   string      `json:"masked_number"`
	Balance        int64       `json:"balance"`         // in cents
	InitialBalance int64       `json:"initial_balance"` // in cents
	Type           AccountType `json:"type"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// MaskAccountNumber keeps the last four digits, e.g. "**** **** **** 4587".
func MaskAccountNumber(number string) string {
	last := number
	if len(number) > 4 {
		last = number[len(number)-4:]
	}
	return "**** **** **** " + last
}
