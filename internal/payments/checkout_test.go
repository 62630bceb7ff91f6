package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStripeClient(srv *httptest.Server, now time.Time) *StripeClient {
	client := newStripeClient("sk_test_123", srv.URL, "https://example.com/success", "https://example.com/cancel", srv.Client())
	client.now = func() time.Time { return now }
	return client
}

func TestCreateCheckoutSessionSendsCorrelationMetadata(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	leadID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_123" {
			t.Errorf("expected bearer secret key, got %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		checks := map[string]string{
			"mode":                    "payment",
			"line_items[0][price]":    "price_abc",
			"line_items[0][quantity]": "1",
			"client_reference_id":     leadID.String(),
			"metadata[lead_id]":       leadID.String(),
			"metadata[buyer_index]":   "2",
			"expires_at":              strconv.FormatInt(now.Add(45*time.Minute).Unix(), 10),
			"success_url":             "https://example.com/success",
			"cancel_url":              "https://example.com/cancel",
		}
		for key, want := range checks {
			if got := r.PostForm.Get(key); got != want {
				t.Errorf("%s = %q, want %q", key, got, want)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.example.com/cs_test_1","expires_at":1772447100}`))
	}))
	defer srv.Close()

	session, err := newTestStripeClient(srv, now).CreateCheckoutSession(context.Background(), CheckoutRequest{
		LeadID:     leadID,
		BuyerIndex: 2,
		PriceID:    "price_abc",
		ExpiresAt:  now.Add(45 * time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if session.ID != "cs_test_1" || session.URL != "https://checkout.example.com/cs_test_1" {
		t.Fatalf("unexpected session %+v", session)
	}
	if !session.ExpiresAt.Equal(time.Unix(1772447100, 0)) {
		t.Fatalf("unexpected expiry %s", session.ExpiresAt)
	}
}

func TestCreateCheckoutSessionRaisesExpiryToProviderMinimum(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	var gotExpiry string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotExpiry = r.PostForm.Get("expires_at")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_1","object":"checkout.session","url":"https://checkout.example.com/cs_1"}`))
	}))
	defer srv.Close()

	_, err := newTestStripeClient(srv, now).CreateCheckoutSession(context.Background(), CheckoutRequest{
		LeadID:    uuid.New(),
		PriceID:   "price_abc",
		ExpiresAt: now.Add(10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if want := strconv.FormatInt(now.Add(30*time.Minute).Unix(), 10); gotExpiry != want {
		t.Fatalf("expires_at = %s, want %s", gotExpiry, want)
	}
}

func TestCreateCheckoutSessionSurfacesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such price"}}`))
	}))
	defer srv.Close()

	_, err := newTestStripeClient(srv, time.Now()).CreateCheckoutSession(context.Background(), CheckoutRequest{LeadID: uuid.New(), PriceID: "price_missing"})
	if err == nil {
		t.Fatal("expected provider error")
	}
}

func TestCreateCheckoutSessionRequiresPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without a price")
	}))
	defer srv.Close()

	if _, err := newTestStripeClient(srv, time.Now()).CreateCheckoutSession(context.Background(), CheckoutRequest{LeadID: uuid.New()}); err == nil {
		t.Fatal("expected error for missing price id")
	}
}
