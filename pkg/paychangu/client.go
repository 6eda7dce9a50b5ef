/**
 * @description
 * This package provides a client for the PayChangu payment gateway. It
 * encapsulates authenticated HTTP calls for hosted-checkout payment
 * initiation and mobile-money payouts, request body construction and
 * response parsing.
 *
 * The billing engine treats the gateway as an opaque capability: the raw
 * response body is always preserved on errors so callers can persist it
 * against the transaction for diagnostics.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, net/http, time: Standard Go libraries.
 */
package paychangu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a client for the PayChangu API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewClient creates a new PayChangu API client.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PaymentRequest is the payload for initiating a hosted-checkout payment.
type PaymentRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Email       string            `json:"email"`
	FirstName   string            `json:"first_name"`
	LastName    string            `json:"last_name"`
	CallbackURL string            `json:"callback_url"`
	ReturnURL   string            `json:"return_url"`
	TxRef       string            `json:"tx_ref"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// PaymentResponse is the expected response from the payment endpoint.
type PaymentResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Data    struct {
		CheckoutURL string `json:"checkout_url"`
	} `json:"data"`
	// Raw holds the unparsed response body for diagnostics.
	Raw []byte `json:"-"`
}

// PayoutRequest is the payload for initiating a mobile-money payout.
type PayoutRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Mobile      string `json:"mobile"`
	PayoutRef   string `json:"charge_id"`
	Description string `json:"description,omitempty"`
}

// PayoutResponse is the expected response from the payout endpoint.
type PayoutResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Data    struct {
		TransactionID string `json:"transaction_id"`
	} `json:"data"`
	Raw []byte `json:"-"`
}

// APIError represents a rejected or malformed gateway response. RawBody is
// the verbatim payload the gateway returned.
type APIError struct {
	StatusCode int
	Message    string
	RawBody    []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("paychangu api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("paychangu api error (status %d)", e.StatusCode)
}

// InitiatePayment requests a hosted checkout session and returns its URL.
func (c *Client) InitiatePayment(ctx context.Context, payment PaymentRequest) (*PaymentResponse, error) {
	bodyBytes, err := c.do(ctx, "POST", "/payment", payment)
	if err != nil {
		return nil, err
	}

	var resp PaymentResponse
	if err := json.Unmarshal(bodyBytes, &resp); err != nil {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "unparsable success response", RawBody: bodyBytes}
	}
	resp.Raw = bodyBytes

	if resp.Status != "success" || resp.Data.CheckoutURL == "" {
		return nil, &APIError{StatusCode: http.StatusOK, Message: resp.Message, RawBody: bodyBytes}
	}
	return &resp, nil
}

// InitiatePayout requests a mobile-money payout to a coach.
func (c *Client) InitiatePayout(ctx context.Context, payout PayoutRequest) (*PayoutResponse, error) {
	bodyBytes, err := c.do(ctx, "POST", "/mobile-money/payouts/initialize", payout)
	if err != nil {
		return nil, err
	}

	var resp PayoutResponse
	if err := json.Unmarshal(bodyBytes, &resp); err != nil {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "unparsable success response", RawBody: bodyBytes}
	}
	resp.Raw = bodyBytes

	if resp.Status != "success" {
		return nil, &APIError{StatusCode: http.StatusOK, Message: resp.Message, RawBody: bodyBytes}
	}
	return &resp, nil
}

// do executes an authenticated request and returns the raw body of a 2xx
// response. Non-2xx responses come back as *APIError with the body attached.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(bodyBytes, &errResp)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errResp.Message, RawBody: bodyBytes}
	}

	return bodyBytes, nil
}
