package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

const (
	settlementSucceeded  = "succeeded"
	settlementFailed     = "failed"
	settlementProcessing = "processing"
)

// ApplySettlement records the network's outcome for a beneficiary transfer. A failure is
// reversed straight away when possible; otherwise the sweep picks it up.
func (s *Service) ApplySettlement(ctx context.Context, event domain.SettlementEvent) error {
	switch normalizeStatus(event.Status) {
	case settlementSucceeded:
		return s.settleTransfer(ctx, event)
	case settlementFailed:
		return s.failTransfer(ctx, event.TransferID, event.Reason)
	default:
		return nil
	}
}

func (s *Service) settleTransfer(ctx context.Context, event domain.SettlementEvent) error {
	current, err := s.repo.FindTransferByID(ctx, event.TransferID)
	if err != nil {
		return err
	}
	if current.Status == domain.TransferStatusSettled {
		return nil
	}
	t, err := s.repo.MarkTransferSettled(ctx, event.TransferID, event.NetworkReference)
	if err != nil {
		return fmt.Errorf("mark settled: %w", err)
	}
	log.Printf("level=info component=settlement msg=\"transfer settled\" transfer_id=%s previous_status=%s", t.ID, current.Status)
	s.publishTransferEvent(ctx, RoutingKeyTransferSettled, t)
	return nil
}

func (s *Service) failTransfer(ctx context.Context, transferID uuid.UUID, reason string) error {
	if strings.TrimSpace(reason) == "" {
		reason = "rejected by payment network"
	}
	t, err := s.repo.MarkTransferFailed(ctx, transferID, reason)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if t.Status != domain.TransferStatusFailedPendingReversal {
		return nil
	}
	if _, err := s.ReverseTransfer(ctx, t.ID); err != nil {
		log.Printf("level=warn component=settlement msg=\"immediate reversal failed; sweep will retry\" transfer_id=%s err=%v", t.ID, err)
	}
	return nil
}

// ReverseTransfer returns the funds of a failed beneficiary transfer to its source account.
func (s *Service) ReverseTransfer(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error) {
	t, err := s.repo.ReverseTransfer(ctx, transferID, s.now())
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=settlement msg=\"transfer reversed\" transfer_id=%s amount=%d", t.ID, t.Amount)
	s.publishTransferEvent(ctx, RoutingKeyTransferReversed, t)
	return t, nil
}

// SettlementConsumer applies settlement events delivered over RabbitMQ.
type SettlementConsumer struct {
	svc *Service
}

func NewSettlementConsumer(svc *Service) *SettlementConsumer {
	return &SettlementConsumer{svc: svc}
}

// HandleMessage returns false only when the event should be redelivered.
func (c *SettlementConsumer) HandleMessage(body []byte) bool {
	var event domain.SettlementEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=settlement_consumer msg=\"invalid payload; dropping\" err=%v", err)
		return true
	}
	if event.TransferID == uuid.Nil {
		log.Printf("level=warn component=settlement_consumer msg=\"missing transfer id; dropping\" status=%s", event.Status)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := c.svc.ApplySettlement(ctx, event)
	switch {
	case err == nil:
		return true
	case errors.Is(err, store.ErrTransferNotFound):
		log.Printf("level=warn component=settlement_consumer msg=\"unknown transfer; acknowledging\" transfer_id=%s", event.TransferID)
		return true
	case errors.Is(err, store.ErrInvalidTransferState):
		log.Printf("level=warn component=settlement_consumer msg=\"late settlement ignored\" transfer_id=%s status=%s err=%v", event.TransferID, event.Status, err)
		return true
	default:
		log.Printf("level=error component=settlement_consumer msg=\"processing error\" transfer_id=%s err=%v", event.TransferID, err)
		return false
	}
}

func normalizeStatus(status string) string {
	status = strings.TrimSpace(strings.ToLower(status))
	switch status {
	case "successful", "success", "succeeded", "completed", "settled":
		return settlementSucceeded
	case "failed", "failure", "rejected", "declined":
		return settlementFailed
	case "initiated", "processing", "pending", "submitted":
		return settlementProcessing
	default:
		return status
	}
}
