package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentInstruction is handed to the payment network for the external leg of a
// beneficiary transfer.
type PaymentInstruction struct {
	TransferID    uuid.UUID `json:"transfer_id"`
	UserID        uuid.UUID `json:"user_id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	AccountNumber string    `json:"account_number"`
	BankName      string    `json:"bank_name"`
	BranchCode    string    `json:"branch_code"`
	PayeeName     string    `json:"payee_name"`
	Reference     string    `json:"reference"`
}

// SettlementEvent is received from the payment network once the external leg resolves.
type SettlementEvent struct {
	TransferID       uuid.UUID `json:"transfer_id"`
	Status           string    `json:"status"`
	NetworkReference string    `json:"network_reference"`
	Reason           string    `json:"reason"`
}

// TransferEvent is published on the ledger exchange whenever a transfer changes state.
type TransferEvent struct {
	TransferID      uuid.UUID      `json:"transfer_id"`
	UserID          uuid.UUID      `json:"user_id"`
	SourceAccountID uuid.UUID      `json:"source_account_id"`
	Amount          int64          `json:"amount"`
	Kind            TransferKind   `json:"kind"`
	Status          TransferStatus `json:"status"`
	Timestamp       time.Time      `json:"timestamp"`
}

// NewTransferEvent builds the event body for t.
func NewTransferEvent(t *Transfer, at time.Time) TransferEvent {
	return TransferEvent{
		TransferID:      t.ID,
		UserID:          t.UserID,
		SourceAccountID: t.SourceAccountID,
		Amount:          t.Amount,
		Kind:            t.Kind,
		Status:          t.Status,
		Timestamp:       at,
	}
}
