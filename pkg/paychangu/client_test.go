package paychangu

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInitiatePayment_Success(t *testing.T) {
	var gotAuth string
	var gotPayload PaymentRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payment" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","message":"created","data":{"checkout_url":"https://checkout.paychangu.test/abc"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test_123")
	resp, err := client.InitiatePayment(context.Background(), PaymentRequest{
		Amount:   50000,
		Currency: "MWK",
		Email:    "coach@example.com",
		TxRef:    "pay-abc",
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if resp.Data.CheckoutURL != "https://checkout.paychangu.test/abc" {
		t.Fatalf("unexpected checkout URL %q", resp.Data.CheckoutURL)
	}
	if len(resp.Raw) == 0 {
		t.Fatal("expected raw body to be preserved")
	}
	if gotAuth != "Bearer sk_test_123" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotPayload.TxRef != "pay-abc" || gotPayload.Amount != 50000 {
		t.Fatalf("unexpected payload: %+v", gotPayload)
	}
}

func TestInitiatePayment_HTTPErrorCarriesRawBody(t *testing.T) {
	rawBody := `{"status":"failed","message":"Invalid currency supplied"}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(rawBody))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test_123")
	_, err := client.InitiatePayment(context.Background(), PaymentRequest{TxRef: "pay-abc"})
	if err == nil {
		t.Fatal("expected an error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", apiErr.StatusCode)
	}
	if apiErr.Message != "Invalid currency supplied" {
		t.Fatalf("expected gateway message, got %q", apiErr.Message)
	}
	if string(apiErr.RawBody) != rawBody {
		t.Fatalf("expected verbatim raw body, got %s", apiErr.RawBody)
	}
}

func TestInitiatePayment_DeclaredFailureInOKResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"failed","message":"amount below minimum"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test_123")
	_, err := client.InitiatePayment(context.Background(), PaymentRequest{TxRef: "pay-abc"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Message != "amount below minimum" {
		t.Fatalf("unexpected message %q", apiErr.Message)
	}
}

func TestInitiatePayment_MissingCheckoutURLIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":{}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test_123")
	if _, err := client.InitiatePayment(context.Background(), PaymentRequest{TxRef: "pay-abc"}); err == nil {
		t.Fatal("expected an error for a success response without a checkout URL")
	}
}

func TestInitiatePayout_Success(t *testing.T) {
	var gotPayload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mobile-money/payouts/initialize" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.Write([]byte(`{"status":"success","data":{"transaction_id":"ptx_99"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test_123")
	resp, err := client.InitiatePayout(context.Background(), PayoutRequest{
		Amount:    50000,
		Currency:  "MWK",
		Mobile:    "265999000111",
		PayoutRef: "wd-abc",
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if resp.Data.TransactionID != "ptx_99" {
		t.Fatalf("unexpected transaction ID %q", resp.Data.TransactionID)
	}
	// The payout reference travels as charge_id on the wire.
	if gotPayload["charge_id"] != "wd-abc" {
		t.Fatalf("expected charge_id wd-abc, got %v", gotPayload["charge_id"])
	}
}

func TestInitiatePayout_FailureStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"failed","message":"operator unavailable"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test_123")
	_, err := client.InitiatePayout(context.Background(), PayoutRequest{PayoutRef: "wd-abc"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Message != "operator unavailable" {
		t.Fatalf("unexpected message %q", apiErr.Message)
	}
}
