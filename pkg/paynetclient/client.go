/**
 * @description
 * This package provides a client for an external payment network's transfer API.
 * It builds the JSON:API style payloads the network expects, authenticates each request
 * with an API key, and parses success and error bodies.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, net/http, time: Standard Go libraries.
 */
package paynetclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the payment network API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new payment network client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Payee identifies the external account that receives the funds.
type Payee struct {
	Name          string `json:"name"`
	AccountNumber string `json:"accountNumber"`
	BankName      string `json:"bankName"`
	BranchCode    string `json:"branchCode,omitempty"`
}

// OutboundTransferRequest is the payload for an outbound transfer.
type OutboundTransferRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			Currency       string `json:"currency"`
			Amount         int64  `json:"amount"`
			Reason         string `json:"reason"`
			Reference      string `json:"reference"`
			IdempotencyKey string `json:"idempotencyKey"`
			Payee          Payee  `json:"payee"`
		} `json:"attributes"`
	} `json:"data"`
}

// TransferResponse is the expected response from the transfer endpoint.
type TransferResponse struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Status string `json:"status"`
		} `json:"attributes"`
	} `json:"data"`
}

// ErrorResponse represents an error from the payment network API.
type ErrorResponse struct {
	StatusCode int `json:"-"`
	Errors     []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("payment network error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return fmt.Sprintf("payment network error (status %d)", e.StatusCode)
}

// Temporary reports whether retrying the same request may succeed.
func (e *ErrorResponse) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// InitiateTransfer submits an outbound transfer. The reference doubles as the network's
// idempotency key so a resubmission after a timeout is not paid twice.
func (c *Client) InitiateTransfer(ctx context.Context, reference string, amount int64, currency, reason string, payee Payee) (*TransferResponse, error) {
	payload := OutboundTransferRequest{}
	payload.Data.Type = "OutboundTransfer"
	payload.Data.Attributes.Currency = currency
	payload.Data.Attributes.Amount = amount
	payload.Data.Attributes.Reason = reason
	payload.Data.Attributes.Reference = reference
	payload.Data.Attributes.IdempotencyKey = reference
	payload.Data.Attributes.Payee = payee

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/transfers", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute transfer request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read transfer response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=paynet_client op=transfer status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return nil, &ErrorResponse{StatusCode: resp.StatusCode}
		}
		log.Printf("level=warn component=paynet_client op=transfer status=%d title=%q detail=%q", resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return nil, &errResp
	}

	var successResp TransferResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode success response: %w", err)
	}
	return &successResp, nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}

func firstErrorDetail(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Detail
}
