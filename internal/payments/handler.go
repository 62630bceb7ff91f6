package payments

import (
	"errors"
	"io"
	"net/http"

	"lead_waterfall_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

const (
	maxWebhookBytes = 64 << 10
	signatureHeader = "Stripe-Signature"
)

// Handler handles payment provider callbacks.
type Handler struct {
	settlement *Settlement
}

// NewHandler creates a new payments handler.
func NewHandler(settlement *Settlement) *Handler {
	return &Handler{settlement: settlement}
}

// WebhookResponse acknowledges a processed callback.
type WebhookResponse struct {
	Received bool    `json:"received"`
	Outcome  Outcome `json:"outcome"`
}

// HandleWebhook applies a signed payment callback.
// POST /api/v1/payments/webhook
func (h *Handler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpkit.Error(c, http.StatusRequestEntityTooLarge, "payload too large", nil)
			return
		}
		httpkit.Error(c, http.StatusBadRequest, "unreadable body", nil)
		return
	}

	outcome, err := h.settlement.HandleWebhook(c.Request.Context(), body, c.GetHeader(signatureHeader))
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, WebhookResponse{Received: true, Outcome: outcome})
}
