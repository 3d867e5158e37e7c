package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
)

const idempotencyHeader = "Idempotency-Key"

type transferRequest struct {
	SourceAccountID      uuid.UUID          `json:"source_account_id"`
	DestinationAccountID *uuid.UUID         `json:"destination_account_id,omitempty"`
	BeneficiaryID        *uuid.UUID         `json:"beneficiary_id,omitempty"`
	Amount               domain.AmountInput `json:"amount"`
	Reference            string             `json:"reference"`
}

type transferResponse struct {
	domain.TransferResult
	SourceBalanceFormatted string `json:"source_balance_formatted"`
	Message                string `json:"message"`
}

// TransferHandler moves money between the caller's accounts or to a saved beneficiary.
// Own-account transfers answer 201; beneficiary transfers answer 202 while the payment
// network settles them.
func (h *Handlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerFromContext(w, r)
	if !ok {
		return
	}
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key == "" {
		writeError(w, http.StatusBadRequest, "idempotency_key_required", "Idempotency-Key header is required")
		return
	}
	if len(key) > 128 {
		writeError(w, http.StatusBadRequest, "invalid_idempotency_key", "Idempotency-Key must be at most 128 characters")
		return
	}

	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := req.Amount.Minor()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_amount", "Amount must be a decimal with at most two places")
		return
	}

	result, err := h.service.Transfer(r.Context(), callerID, domain.TransferRequest{
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		BeneficiaryID:        req.BeneficiaryID,
		Amount:               amount,
		Reference:            req.Reference,
		IdempotencyKey:       key,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	status, message := http.StatusCreated, "Transfer completed"
	if !result.Status.Terminal() {
		status, message = http.StatusAccepted, "Transfer accepted and awaiting settlement"
	}
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, transferResponse{
		TransferResult:         *result,
		SourceBalanceFormatted: domain.FormatAmount(result.SourceBalance),
		Message:                message,
	})
}

func (h *Handlers) ListTransfersHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerFromContext(w, r)
	if !ok {
		return
	}
	transfers, err := h.service.ListTransfers(r.Context(), callerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if transfers == nil {
		transfers = []domain.Transfer{}
	}
	writeJSON(w, http.StatusOK, transfers)
}

func (h *Handlers) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerFromContext(w, r)
	if !ok {
		return
	}
	transferID, ok := uuidParam(w, r, "transferID")
	if !ok {
		return
	}
	transfer, err := h.service.GetTransfer(r.Context(), callerID, transferID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}
