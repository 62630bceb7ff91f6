package payments

import (
	apphttp "lead_waterfall_backend/internal/http"
)

// Module is the payments bounded context implementing http.Module.
type Module struct {
	handler *Handler
}

// NewModule creates the payments module around a settlement service.
func NewModule(settlement *Settlement) *Module {
	return &Module{handler: NewHandler(settlement)}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "payments"
}

// RegisterRoutes mounts the webhook endpoint. It is authenticated by signature, not by session.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.POST("/payments/webhook", m.handler.HandleWebhook)
}

var _ apphttp.Module = (*Module)(nil)
