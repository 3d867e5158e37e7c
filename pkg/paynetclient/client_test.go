package paynetclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInitiateTransferSendsPayloadAndParsesResponse(t *testing.T) {
	var received OutboundTransferRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/transfers" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "secret" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":"NET-42","type":"OutboundTransfer","attributes":{"status":"PENDING"}}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret")
	resp, err := client.InitiateTransfer(context.Background(), "tr-1", 25050, "USD", "rent", Payee{Name: "Landlord", AccountNumber: "123456", BankName: "First Bank"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Data.ID != "NET-42" {
		t.Fatalf("expected network id NET-42, got %q", resp.Data.ID)
	}
	if received.Data.Attributes.Amount != 25050 || received.Data.Attributes.IdempotencyKey != "tr-1" || received.Data.Attributes.Payee.AccountNumber != "123456" {
		t.Fatalf("unexpected payload %+v", received.Data.Attributes)
	}
}

func TestInitiateTransferReturnsErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":[{"title":"Invalid payee","detail":"account closed","status":"422"}]}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "secret").InitiateTransfer(context.Background(), "tr-1", 100, "USD", "", Payee{})
	var apiErr *ErrorResponse
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected ErrorResponse, got %v", err)
	}
	if apiErr.Temporary() {
		t.Fatalf("422 must not be treated as temporary")
	}
	if apiErr.Error() != "payment network error: Invalid payee - account closed" {
		t.Fatalf("unexpected message %q", apiErr.Error())
	}
}

func TestInitiateTransferServerErrorIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html>bad gateway</html>`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "secret").InitiateTransfer(context.Background(), "tr-1", 100, "USD", "", Payee{})
	var apiErr *ErrorResponse
	if !errors.As(err, &apiErr) || !apiErr.Temporary() {
		t.Fatalf("expected temporary ErrorResponse, got %v", err)
	}
}
