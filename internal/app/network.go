package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/pkg/paynetclient"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
)

const (
	RoutingKeyPaymentRequested = "payments.transfer.requested"
	SettlementRoutingPattern   = "payments.settlement.*"

	DefaultCurrency = "USD"
)

// PaymentNetwork carries the external leg of a beneficiary transfer. An error wrapping
// ErrPaymentRejected is final; anything else is retried by the dispatcher.
type PaymentNetwork interface {
	SubmitPayment(ctx context.Context, instruction domain.PaymentInstruction) (networkReference string, err error)
}

// AMQPPaymentNetwork hands instructions to the network over the ledger exchange. The
// outcome comes back later as a settlement event.
type AMQPPaymentNetwork struct {
	producer rabbitmq.Publisher
	exchange string
}

func NewAMQPPaymentNetwork(producer rabbitmq.Publisher, exchange string) *AMQPPaymentNetwork {
	if exchange == "" {
		exchange = DefaultLedgerExchange
	}
	return &AMQPPaymentNetwork{producer: producer, exchange: exchange}
}

func (n *AMQPPaymentNetwork) SubmitPayment(ctx context.Context, instruction domain.PaymentInstruction) (string, error) {
	if err := n.producer.Publish(ctx, n.exchange, RoutingKeyPaymentRequested, instruction); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPaymentNetwork, err)
	}
	return instruction.TransferID.String(), nil
}

// HTTPPaymentNetwork submits instructions synchronously to the payment network API.
type HTTPPaymentNetwork struct {
	client *paynetclient.Client
}

func NewHTTPPaymentNetwork(client *paynetclient.Client) *HTTPPaymentNetwork {
	return &HTTPPaymentNetwork{client: client}
}

func (n *HTTPPaymentNetwork) SubmitPayment(ctx context.Context, instruction domain.PaymentInstruction) (string, error) {
	resp, err := n.client.InitiateTransfer(ctx,
		instruction.TransferID.String(),
		instruction.Amount,
		instruction.Currency,
		instruction.Reference,
		paynetclient.Payee{
			Name:          instruction.PayeeName,
			AccountNumber: instruction.AccountNumber,
			BankName:      instruction.BankName,
			BranchCode:    instruction.BranchCode,
		},
	)
	if err != nil {
		var apiErr *paynetclient.ErrorResponse
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return "", fmt.Errorf("%w: %v", ErrPaymentRejected, err)
		}
		return "", fmt.Errorf("%w: %v", ErrPaymentNetwork, err)
	}
	return resp.Data.ID, nil
}

// SettlementFunc applies a settlement outcome to the ledger.
type SettlementFunc func(ctx context.Context, event domain.SettlementEvent) error

const defaultRejectPrefix = "999"

// SimulatedPaymentNetwork settles every instruction in-process as soon as it is submitted.
// Payees whose account number starts with the reject prefix are declined.
type SimulatedPaymentNetwork struct {
	settle       SettlementFunc
	rejectPrefix string
}

func NewSimulatedPaymentNetwork(settle SettlementFunc) *SimulatedPaymentNetwork {
	return &SimulatedPaymentNetwork{settle: settle, rejectPrefix: defaultRejectPrefix}
}

func (n *SimulatedPaymentNetwork) SubmitPayment(ctx context.Context, instruction domain.PaymentInstruction) (string, error) {
	reference := "SIM-" + strings.ToUpper(strings.ReplaceAll(instruction.TransferID.String(), "-", "")[:12])
	event := domain.SettlementEvent{
		TransferID:       instruction.TransferID,
		Status:           "successful",
		NetworkReference: reference,
	}
	if n.rejectPrefix != "" && strings.HasPrefix(instruction.AccountNumber, n.rejectPrefix) {
		event.Status = "failed"
		event.Reason = "payee account rejected by network"
	}
	if n.settle != nil {
		if err := n.settle(ctx, event); err != nil {
			log.Printf("level=warn component=payment_network mode=simulated msg=\"settlement callback failed\" transfer_id=%s err=%v", instruction.TransferID, err)
		}
	}
	return reference, nil
}
