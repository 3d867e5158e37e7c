/**
 * @description
 * Transfer audit records. One Transfer row is written for every successful engine call
 * and carries the idempotency key for that call.
 *
 * @notes
 * - Own-account transfers are `completed` on commit.
 * - Beneficiary transfers move pending -> submitted -> settled, or through
 *   failed_pending_reversal -> reversed when the network rejects or times out.
 */

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type TransferKind string

const (
	TransferKindOwnAccount  TransferKind = "own_account"
	TransferKindBeneficiary TransferKind = "beneficiary"
)

type TransferStatus string

const (
	TransferStatusCompleted             TransferStatus = "completed"
	TransferStatusPending               TransferStatus = "pending"
	TransferStatusSubmitted             TransferStatus = "submitted"
	TransferStatusSettled               TransferStatus = "settled"
	TransferStatusFailedPendingReversal TransferStatus = "failed_pending_reversal"
	TransferStatusReversed              TransferStatus = "reversed"
)

// Terminal reports whether no further transitions are expected.
func (s TransferStatus) Terminal() bool {
	switch s {
	case TransferStatusCompleted, TransferStatusSettled, TransferStatusReversed:
		return true
	}
	return false
}

const (
	DefaultDebitDescription  = "Transfer"
	DefaultCreditDescription = "Transfer received"
	ReversalDescription      = "Transfer reversal"
)

// TransferRequest is the engine input. Amount is in cents.
type TransferRequest struct {
	SourceAccountID      uuid.UUID
	DestinationAccountID *uuid.UUID
	BeneficiaryID        *uuid.UUID
	Amount               int64
	Reference            string
	IdempotencyKey       string
}

// Fingerprint hashes the fields that define the request so a replay with the same key can
// be told apart from a conflicting reuse.
func (r TransferRequest) Fingerprint() string {
	dest := ""
	if r.DestinationAccountID != nil {
		dest = r.DestinationAccountID.String()
	}
	ben := ""
	if r.BeneficiaryID != nil {
		ben = r.BeneficiaryID.String()
	}
	raw := fmt.Sprintf("%s|%s|%s|%d|%s", r.SourceAccountID, dest, ben, r.Amount, strings.TrimSpace(r.Reference))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// DebitDescription is the text of the source-side entry.
func (r TransferRequest) DebitDescription() string {
	if ref := strings.TrimSpace(r.Reference); ref != "" {
		return ref
	}
	return DefaultDebitDescription
}

// CreditDescription is the text of the destination-side entry.
func (r TransferRequest) CreditDescription() string {
	if ref := strings.TrimSpace(r.Reference); ref != "" {
		return ref
	}
	return DefaultCreditDescription
}

// Transfer maps to the `transfers` table.
type Transfer struct {
	ID                   uuid.UUID      `json:"id"`
	UserID               uuid.UUID      `json:"user_id"`
	IdempotencyKey       *string        `json:"idempotency_key,omitempty"`
	RequestHash          string         `json:"-"`
	SourceAccountID      uuid.UUID      `json:"source_account_id"`
	DestinationAccountID *uuid.UUID     `json:"destination_account_id,omitempty"`
	BeneficiaryID        *uuid.UUID     `json:"beneficiary_id,omitempty"`
	Amount               int64          `json:"amount"` // in cents
	Reference            string         `json:"reference"`
	Kind                 TransferKind   `json:"kind"`
	Status               TransferStatus `json:"status"`
	SourceBalanceAfter   int64          `json:"source_balance_after"`
	NetworkReference     *string        `json:"network_reference,omitempty"`
	FailureReason        *string        `json:"failure_reason,omitempty"`
	SubmittedAt          *time.Time     `json:"submitted_at,omitempty"`
	DispatchAttempts     int            `json:"-"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// TransferResult is returned to the caller of the engine.
type TransferResult struct {
	TransferID    uuid.UUID      `json:"transfer_id"`
	Status        TransferStatus `json:"status"`
	SourceBalance int64          `json:"source_balance"`
	Replayed      bool           `json:"replayed"`
}
