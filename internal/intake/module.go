package intake

import (
	apphttp "lead_waterfall_backend/internal/http"
)

// Module is the intake bounded context implementing http.Module.
type Module struct {
	handler *Handler
}

func NewModule(handler *Handler) *Module {
	return &Module{handler: handler}
}

func (m *Module) Name() string {
	return "intake"
}

// RegisterRoutes mounts the telephony webhooks under /voice and the form under /api/v1.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	voice := ctx.Voice.Group("", m.handler.VerifyTwilio())
	voice.POST("/incoming", m.handler.Incoming)
	voice.POST("/handle", m.handler.Turn)
	voice.POST("/status", m.handler.Status)

	ctx.Voice.GET("/tts", m.handler.Speech)

	if ctx.FormRateLimiter != nil {
		ctx.V1.POST("/leads/form", ctx.FormRateLimiter.RateLimit(), m.handler.SubmitForm)
	} else {
		ctx.V1.POST("/leads/form", m.handler.SubmitForm)
	}
}

var _ apphttp.Module = (*Module)(nil)
