/**
 * @description
 * Scheduled settlement maintenance. Beneficiary transfers that never hear back from the
 * payment network are failed after the settlement timeout, and every failed transfer is
 * reversed back to its source account.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

const (
	DefaultSettlementTimeout = 30 * time.Minute
	settlementTimeoutReason  = "settlement timed out"
	reversalBatchSize        = 100
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	svc               *Service
	logger            *slog.Logger
	settlementTimeout time.Duration
}

// NewJobs creates a new Jobs runner.
func NewJobs(svc *Service, logger *slog.Logger, settlementTimeout time.Duration) *Jobs {
	if settlementTimeout <= 0 {
		settlementTimeout = DefaultSettlementTimeout
	}
	return &Jobs{
		svc:               svc,
		logger:            logger,
		settlementTimeout: settlementTimeout,
	}
}

// SweepSettlements expires overdue transfers and reverses failed ones.
func (j *Jobs) SweepSettlements() {
	j.logger.Info("starting settlement sweep job")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	expired, reversed, err := j.sweep(ctx)
	if err != nil {
		j.logger.Error("settlement sweep failed", "error", err, "expired", expired, "reversed", reversed)
		return
	}
	j.logger.Info("settlement sweep job finished", "expired", expired, "reversed", reversed)
}

func (j *Jobs) sweep(ctx context.Context) (expired int, reversed int, err error) {
	cutoff := j.svc.now().Add(-j.settlementTimeout)
	stale, err := j.svc.repo.ExpireStaleTransfers(ctx, cutoff, settlementTimeoutReason)
	if err != nil {
		return 0, 0, err
	}
	for _, t := range stale {
		j.logger.Warn("transfer settlement timed out", "transfer_id", t.ID, "created_at", t.CreatedAt)
	}

	failed, err := j.svc.repo.FindTransfersByStatus(ctx, domain.TransferStatusFailedPendingReversal, reversalBatchSize)
	if err != nil {
		return len(stale), 0, err
	}
	for _, t := range failed {
		if _, err := j.svc.ReverseTransfer(ctx, t.ID); err != nil {
			if errors.Is(err, store.ErrInvalidTransferState) {
				// settled or reversed since it was listed
				continue
			}
			j.logger.Error("failed to reverse transfer", "transfer_id", t.ID, "error", err)
			continue
		}
		reversed++
	}
	return len(stale), reversed, nil
}
