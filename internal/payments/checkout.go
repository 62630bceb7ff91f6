package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lead_waterfall_backend/platform/config"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
)

// Stripe rejects checkout sessions that expire sooner than this.
const minCheckoutExpiry = config.MinExclusivityWindow

// CheckoutRequest scopes a payment link to one lead and one buyer.
type CheckoutRequest struct {
	LeadID     uuid.UUID
	BuyerIndex int
	PriceID    string
	ExpiresAt  time.Time
}

// CheckoutSession is the provider's answer to a CheckoutRequest.
type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// StripeClient creates hosted checkout sessions through stripe-go.
type StripeClient struct {
	sessions   session.Client
	successURL string
	cancelURL  string
	now        func() time.Time
}

// NewStripeClient builds a client from payment config.
func NewStripeClient(cfg config.PaymentConfig) *StripeClient {
	return newStripeClient(cfg.GetStripeSecretKey(), cfg.GetStripeAPIURL(),
		cfg.GetCheckoutSuccessURL(), cfg.GetCheckoutCancelURL(), &http.Client{Timeout: 15 * time.Second})
}

// newStripeClient points the SDK at apiURL. Network retries are off because
// the waterfall retries a failed offer on its own schedule.
func newStripeClient(secretKey, apiURL, successURL, cancelURL string, httpClient *http.Client) *StripeClient {
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if apiURL = strings.TrimRight(apiURL, "/"); apiURL != "" {
		backendCfg.URL = stripe.String(apiURL)
	}
	return &StripeClient{
		sessions: session.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: secretKey,
		},
		successURL: successURL,
		cancelURL:  cancelURL,
		now:        time.Now,
	}
}

// CreateCheckoutSession opens a one-item payment session carrying the lead id
// and buyer index as metadata so the webhook can correlate the payment.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if req.PriceID == "" {
		return CheckoutSession{}, fmt.Errorf("checkout: price id is required")
	}
	expiresAt := req.ExpiresAt
	if floor := c.now().Add(minCheckoutExpiry); expiresAt.Before(floor) {
		expiresAt = floor
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(c.successURL),
		CancelURL:         stripe.String(c.cancelURL),
		ClientReferenceID: stripe.String(req.LeadID.String()),
		ExpiresAt:         stripe.Int64(expiresAt.Unix()),
	}
	params.Context = ctx
	params.AddMetadata(metadataLeadID, req.LeadID.String())
	params.AddMetadata(metadataBuyerIndex, strconv.Itoa(req.BuyerIndex))

	sess, err := c.sessions.New(params)
	if err != nil {
		var apiErr *stripe.Error
		if errors.As(err, &apiErr) {
			return CheckoutSession{}, fmt.Errorf("checkout failed: status %d: %s: %s", apiErr.HTTPStatusCode, apiErr.Type, apiErr.Msg)
		}
		return CheckoutSession{}, fmt.Errorf("checkout request: %w", err)
	}
	if sess.URL == "" {
		return CheckoutSession{}, fmt.Errorf("checkout session %s has no url", sess.ID)
	}

	return CheckoutSession{
		ID:        sess.ID,
		URL:       sess.URL,
		ExpiresAt: time.Unix(sess.ExpiresAt, 0).UTC(),
	}, nil
}
