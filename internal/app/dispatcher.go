package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

const (
	defaultDispatchBatchSize = 50
	defaultDispatchInterval  = 1200 * time.Millisecond
	defaultStaleDispatch     = 2 * time.Minute
)

// PaymentDispatcher submits pending beneficiary transfers to the payment network.
type PaymentDispatcher struct {
	repo          store.Repository
	network       PaymentNetwork
	reject        SettlementFunc
	currency      string
	batchSize     int
	pollInterval  time.Duration
	staleDispatch time.Duration
}

// NewPaymentDispatcher builds a dispatcher. reject is called for instructions the
// network declines outright so they follow the normal failure path.
func NewPaymentDispatcher(repo store.Repository, network PaymentNetwork, reject SettlementFunc, pollInterval time.Duration) *PaymentDispatcher {
	if pollInterval <= 0 {
		pollInterval = defaultDispatchInterval
	}
	return &PaymentDispatcher{
		repo:          repo,
		network:       network,
		reject:        reject,
		currency:      DefaultCurrency,
		batchSize:     defaultDispatchBatchSize,
		pollInterval:  pollInterval,
		staleDispatch: defaultStaleDispatch,
	}
}

func (d *PaymentDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil {
				log.Printf("level=error component=payment_dispatcher msg=\"dispatch pass failed\" err=%v", err)
			}
		}
	}
}

// DispatchOnce claims one batch and submits it. It returns how many transfers were
// accepted by the network.
func (d *PaymentDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	transfers, err := d.repo.ClaimTransfersForDispatch(ctx, d.batchSize, d.staleDispatch)
	if err != nil {
		return 0, err
	}

	submitted := 0
	for i := range transfers {
		t := &transfers[i]
		reference, err := d.submit(ctx, t)
		if err != nil {
			d.handleFailure(ctx, t, err)
			continue
		}
		if err := d.repo.MarkTransferSubmitted(ctx, t.ID, reference); err != nil {
			log.Printf("level=error component=payment_dispatcher msg=\"mark submitted failed\" transfer_id=%s err=%v", t.ID, err)
			continue
		}
		submitted++
		log.Printf("level=info component=payment_dispatcher msg=\"transfer submitted\" transfer_id=%s network_reference=%s attempt=%d", t.ID, reference, t.DispatchAttempts)
	}
	return submitted, nil
}

func (d *PaymentDispatcher) submit(ctx context.Context, t *domain.Transfer) (string, error) {
	if t.BeneficiaryID == nil {
		return "", fmt.Errorf("%w: transfer has no beneficiary", ErrPaymentRejected)
	}
	beneficiary, err := d.repo.FindBeneficiaryByID(ctx, *t.BeneficiaryID)
	if err != nil {
		if errors.Is(err, store.ErrBeneficiaryNotFound) {
			return "", fmt.Errorf("%w: %v", ErrPaymentRejected, err)
		}
		return "", err
	}

	return d.network.SubmitPayment(ctx, domain.PaymentInstruction{
		TransferID:    t.ID,
		UserID:        t.UserID,
		Amount:        t.Amount,
		Currency:      d.currency,
		AccountNumber: beneficiary.AccountNumber,
		BankName:      beneficiary.BankName,
		BranchCode:    beneficiary.BranchCode,
		PayeeName:     beneficiary.Name,
		Reference:     t.Reference,
	})
}

func (d *PaymentDispatcher) handleFailure(ctx context.Context, t *domain.Transfer, cause error) {
	if errors.Is(cause, ErrPaymentRejected) && d.reject != nil {
		log.Printf("level=warn component=payment_dispatcher msg=\"transfer rejected by network\" transfer_id=%s err=%v", t.ID, cause)
		event := domain.SettlementEvent{TransferID: t.ID, Status: "failed", Reason: cause.Error()}
		if err := d.reject(ctx, event); err != nil {
			log.Printf("level=error component=payment_dispatcher msg=\"apply rejection failed\" transfer_id=%s err=%v", t.ID, err)
		}
		return
	}

	retryAfter := retryDelay(t.DispatchAttempts)
	log.Printf("level=warn component=payment_dispatcher msg=\"submit failed; will retry\" transfer_id=%s attempt=%d retry_after=%s err=%v", t.ID, t.DispatchAttempts, retryAfter, cause)
	if err := d.repo.MarkTransferDispatchFailed(ctx, t.ID, retryAfter, cause.Error()); err != nil {
		log.Printf("level=error component=payment_dispatcher msg=\"mark dispatch failed errored\" transfer_id=%s err=%v", t.ID, err)
	}
}

func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		return time.Second
	}
	delay := 1 << min(attempt, 8)
	if delay > 300 {
		delay = 300
	}
	return time.Duration(delay) * time.Second
}
