package domain

import (
	"time"

	"github.com/google/uuid"
)

// Beneficiary is an external payee saved by a user. Immutable once created.
type Beneficiary struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	Name          string    `json:"name"`
	AccountNumber string    `json:"account_number"`
	BankName      string    `json:"bank_name"`
	BranchCode    string    `json:"branch_code"`
	Reference     string    `json:"reference"`
	CreatedAt     time.Time `json:"created_at"`
}

// CreateBeneficiaryRequest is the DTO for adding a beneficiary.
type CreateBeneficiaryRequest struct {
	Name          string `json:"name" validate:"required,max=100"`
	AccountNumber string `json:"account_number" validate:"required,numeric,min=6,max=20"`
	BankName      string `json:"bank_name" validate:"required,max=100"`
	BranchCode    string `json:"branch_code" validate:"omitempty,alphanum,max=20"`
	Reference     string `json:"reference" validate:"max=140"`
}
