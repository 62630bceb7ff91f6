// Package intake turns an inbound call (or a landing-page form) into a lead.
//
// A call is a sequence of transcript turns. Each turn loads the call's
// DialogSession, advances the state machine one step and stores the session
// again, so any API instance can serve the next turn when sessions live in Redis.
package intake

import (
	"time"

	"lead_waterfall_backend/internal/leads/domain"
)

// Step is the slot a session is currently asking for.
type Step string

const (
	StepService Step = "service"
	StepZone    Step = "zone"
	StepTiming  Step = "timing"
	StepPhone   Step = "phone"
	StepConsent Step = "consent"
	StepDone    Step = "done"
)

// Slots are the answers collected so far.
type Slots struct {
	Service domain.Service `json:"service,omitempty"`
	Zone    string         `json:"zone,omitempty"`
	Timing  domain.Timing  `json:"timing,omitempty"`
	Phone   string         `json:"phone,omitempty"`
	Consent bool           `json:"consent"`
}

// Session is the conversational state of one call.
type Session struct {
	CallID    string    `json:"callId"`
	Step      Step      `json:"step"`
	Slots     Slots     `json:"slots"`
	Attempts  int       `json:"attempts"`
	StartedAt time.Time `json:"startedAt"`
	TouchedAt time.Time `json:"touchedAt"`
}

// NewSession starts a call at the service question.
func NewSession(callID string, now time.Time) *Session {
	return &Session{
		CallID:    callID,
		Step:      StepService,
		StartedAt: now.UTC(),
		TouchedAt: now.UTC(),
	}
}

func (s *Session) advance(next Step) {
	s.Step = next
	s.Attempts = 0
}

// LeadParams maps a completed session to lead fields.
func (s *Session) LeadParams(vertical, city string) domain.NewLeadParams {
	return domain.NewLeadParams{
		Vertical: vertical,
		City:     city,
		Service:  s.Slots.Service,
		Zone:     s.Slots.Zone,
		Timing:   s.Slots.Timing,
		Phone:    s.Slots.Phone,
		Consent:  s.Slots.Consent,
		Source:   domain.SourceVoice,
	}
}
