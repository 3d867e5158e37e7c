package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/pkg/paynetclient"
)

func testInstruction() domain.PaymentInstruction {
	return domain.PaymentInstruction{
		TransferID:    uuid.New(),
		UserID:        uuid.New(),
		Amount:        25050,
		Currency:      DefaultCurrency,
		AccountNumber: "5678901234",
		BankName:      "FNB",
		PayeeName:     "John Smith",
		Reference:     "rent",
	}
}

func TestAMQPPaymentNetwork_PublishesInstruction(t *testing.T) {
	publisher := &recordingPublisher{}
	instruction := testInstruction()
	ref, err := NewAMQPPaymentNetwork(publisher, "").SubmitPayment(context.Background(), instruction)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ref != instruction.TransferID.String() {
		t.Fatalf("expected transfer id as reference, got %q", ref)
	}
	if publisher.count(RoutingKeyPaymentRequested) != 1 {
		t.Fatalf("expected one payment request, got %v", publisher.events)
	}
}

func TestHTTPPaymentNetwork_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantRef      string
		wantRejected bool
		wantErr      bool
	}{
		{name: "accepted", status: http.StatusCreated, body: `{"data":{"id":"NET-1"}}`, wantRef: "NET-1"},
		{name: "rejected", status: http.StatusUnprocessableEntity, body: `{"errors":[{"title":"Invalid payee"}]}`, wantRejected: true, wantErr: true},
		{name: "unavailable", status: http.StatusServiceUnavailable, body: `oops`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			network := NewHTTPPaymentNetwork(paynetclient.NewClient(server.URL, "key"))
			ref, err := network.SubmitPayment(context.Background(), testInstruction())
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if errors.Is(err, ErrPaymentRejected) != tt.wantRejected {
				t.Fatalf("rejected = %v, want %v (err=%v)", errors.Is(err, ErrPaymentRejected), tt.wantRejected, err)
			}
			if err != nil && !errors.Is(err, ErrPaymentNetwork) {
				t.Fatalf("expected ErrPaymentNetwork, got %v", err)
			}
			if ref != tt.wantRef {
				t.Fatalf("expected reference %q, got %q", tt.wantRef, ref)
			}
		})
	}
}
