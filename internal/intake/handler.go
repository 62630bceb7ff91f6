package intake

import (
	"context"
	"net/http"
	"strings"
	"time"

	"lead_waterfall_backend/platform/httpkit"
	"lead_waterfall_backend/platform/logger"
	"lead_waterfall_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"
)

const ttsTimeout = 20 * time.Second

// Call statuses after which Twilio sends no further turns.
var finishedCallStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"failed":    true,
	"no-answer": true,
	"canceled":  true,
}

// Handler serves the telephony gateway and the landing form.
type Handler struct {
	service     *Service
	signer      *TTSSigner
	tts         Synthesizer
	val         *validator.Validator
	language    string
	baseURL     string
	requests    *client.RequestValidator
	unavailable string
	log         *logger.Logger
}

// HandlerOptions configures a Handler. Signer and TTS are nil when prompts are spoken with <Say>.
type HandlerOptions struct {
	Signer          *TTSSigner
	TTS             Synthesizer
	Language        string
	PublicBaseURL   string
	TwilioAuthToken string
}

func NewHandler(service *Service, val *validator.Validator, opts HandlerOptions, log *logger.Logger) *Handler {
	language := opts.Language
	if language == "" {
		language = "it-IT"
	}
	var requests *client.RequestValidator
	if opts.TwilioAuthToken != "" {
		rv := client.NewRequestValidator(opts.TwilioAuthToken)
		requests = &rv
	}
	return &Handler{
		service:     service,
		signer:      opts.Signer,
		tts:         opts.TTS,
		val:         val,
		language:    language,
		baseURL:     strings.TrimRight(opts.PublicBaseURL, "/"),
		requests:    requests,
		unavailable: service.dialog.prompts.Unavailable,
		log:         log,
	}
}

// VerifyTwilio rejects gateway requests without a valid signature.
// It is a no-op when no auth token is configured.
func (h *Handler) VerifyTwilio() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.requests == nil {
			c.Next()
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			httpkit.Error(c, http.StatusBadRequest, "unreadable form", nil)
			c.Abort()
			return
		}
		fullURL := h.baseURL + c.Request.URL.RequestURI()
		if !h.requests.Validate(fullURL, formParams(c.Request.PostForm), c.GetHeader(twilioSignatureHeader)) {
			h.log.Warn("rejected unsigned voice request", "path", c.Request.URL.Path, "client_ip", c.ClientIP())
			httpkit.Error(c, http.StatusForbidden, "invalid signature", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

// Incoming answers a new call with the greeting.
// POST /voice/incoming
func (h *Handler) Incoming(c *gin.Context) {
	callID := c.PostForm("CallSid")
	if callID == "" {
		httpkit.Error(c, http.StatusBadRequest, "CallSid is required", nil)
		return
	}

	reply, err := h.service.StartCall(c.Request.Context(), callID)
	if err != nil {
		h.log.WithContext(c.Request.Context()).WithCallID(callID).Error("call start failed", "error", err)
		h.respond(c, Reply{Prompt: h.unavailable, Hangup: true})
		return
	}
	h.respond(c, reply)
}

// Turn applies one speech result.
// POST /voice/handle
func (h *Handler) Turn(c *gin.Context) {
	callID := c.PostForm("CallSid")
	if callID == "" {
		httpkit.Error(c, http.StatusBadRequest, "CallSid is required", nil)
		return
	}

	reply, err := h.service.HandleTurn(c.Request.Context(), callID, c.PostForm("SpeechResult"))
	if err != nil {
		h.log.WithContext(c.Request.Context()).WithCallID(callID).Error("dialog turn failed", "error", err)
		h.respond(c, Reply{Prompt: h.unavailable, Hangup: true})
		return
	}
	h.respond(c, reply)
}

// Status releases the session when the call ends.
// POST /voice/status
func (h *Handler) Status(c *gin.Context) {
	callID := c.PostForm("CallSid")
	status := strings.ToLower(c.PostForm("CallStatus"))
	if callID == "" {
		httpkit.Error(c, http.StatusBadRequest, "CallSid is required", nil)
		return
	}

	if finishedCallStatuses[status] {
		if err := h.service.EndCall(c.Request.Context(), callID, status); err != nil {
			h.log.WithCallID(callID).Warn("session release failed, TTL will expire it", "error", err)
		}
	}
	c.Status(http.StatusNoContent)
}

// Speech proxies a signed prompt to the TTS provider.
// GET /voice/tts?token=...
func (h *Handler) Speech(c *gin.Context) {
	if h.signer == nil || h.tts == nil {
		httpkit.Error(c, http.StatusNotFound, "tts disabled", nil)
		return
	}

	text, err := h.signer.Parse(c.Query("token"))
	if err != nil {
		httpkit.Error(c, http.StatusForbidden, "invalid token", nil)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), ttsTimeout)
	defer cancel()
	audio, err := h.tts.Synthesize(ctx, text)
	if err != nil {
		h.log.WithContext(c.Request.Context()).Error("tts synthesis failed", "error", err)
		httpkit.Error(c, http.StatusBadGateway, "tts unavailable", nil)
		return
	}
	c.Header("Cache-Control", "private, max-age=600")
	c.Data(http.StatusOK, "audio/mpeg", audio)
}

// FormRequest is the landing-page payload.
type FormRequest struct {
	Service string `json:"service" validate:"required,max=100"`
	Zone    string `json:"zone" validate:"required,max=200"`
	Urgency string `json:"urgency" validate:"max=100"`
	Phone   string `json:"phone" validate:"required,max=40"`
	Consent *bool  `json:"consent"`
}

// FormResponse acknowledges a recorded lead.
type FormResponse struct {
	Success bool   `json:"success"`
	LeadID  string `json:"leadId"`
	Queued  bool   `json:"queued,omitempty"`
}

// SubmitForm records a landing-page lead.
// POST /api/v1/leads/form
func (h *Handler) SubmitForm(c *gin.Context) {
	var req FormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation failed", validator.FieldErrors(err))
		return
	}

	result, err := h.service.SubmitForm(c.Request.Context(), FormInput{
		Service: req.Service,
		Zone:    req.Zone,
		Urgency: req.Urgency,
		Phone:   req.Phone,
		Consent: req.Consent,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	status := http.StatusCreated
	if result.Queued {
		status = http.StatusAccepted
	}
	httpkit.JSON(c, status, FormResponse{Success: true, LeadID: result.LeadID.String(), Queued: result.Queued})
}

func (h *Handler) respond(c *gin.Context, reply Reply) {
	prompt := h.speech(reply.Prompt)

	var (
		body []byte
		err  error
	)
	if reply.Hangup {
		body, err = hangupTwiML(prompt)
	} else {
		body, err = gatherTwiML(prompt, h.baseURL+"/voice/handle", h.language)
	}
	if err != nil {
		h.log.Error("twiml render failed", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	httpkit.XML(c, http.StatusOK, body)
}

// speech is a Play of synthesized audio, or a Say when TTS is off.
func (h *Handler) speech(text string) twiml.Element {
	if h.signer != nil {
		audioURL, err := h.signer.URL(text)
		if err == nil {
			return &twiml.VoicePlay{Url: audioURL}
		}
		h.log.Warn("tts url signing failed, using <Say>", "error", err)
	}
	return &twiml.VoiceSay{Message: text, Language: h.language}
}
