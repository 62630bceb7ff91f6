package intake

import (
	"lead_waterfall_backend/platform/phone"
	"lead_waterfall_backend/platform/sanitize"
)

// Reply is what the caller hears after a turn.
type Reply struct {
	Prompt string
	// Hangup ends the call after the prompt.
	Hangup bool
	// Completed is set once, on the turn where the caller consents.
	Completed bool
}

// Dialog is the intake state machine. It holds no per-call state.
type Dialog struct {
	prompts     Prompts
	region      string
	maxAttempts int
}

// NewDialog builds a dialog. maxAttempts is the number of invalid answers
// tolerated per step before the call is closed.
func NewDialog(prompts Prompts, region string, maxAttempts int) Dialog {
	if region == "" {
		region = phone.DefaultRegion
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return Dialog{prompts: prompts, region: region, maxAttempts: maxAttempts}
}

// Start is the greeting for a new call.
func (d Dialog) Start() Reply {
	return Reply{Prompt: d.prompts.Greeting}
}

// Handle consumes one transcript turn and advances the session.
func (d Dialog) Handle(s *Session, text string) Reply {
	switch s.Step {
	case StepService:
		service, ok := ClassifyService(text)
		if !ok {
			return d.retry(s, d.prompts.ServiceRetry)
		}
		s.Slots.Service = service
		s.advance(StepZone)
		return Reply{Prompt: d.prompts.Zone}

	case StepZone:
		zone := sanitize.Text(text)
		if zone == "" {
			return d.retry(s, d.prompts.ZoneRetry)
		}
		s.Slots.Zone = zone
		s.advance(StepTiming)
		return Reply{Prompt: d.prompts.Timing}

	case StepTiming:
		s.Slots.Timing = ClassifyTiming(text)
		s.advance(StepPhone)
		return Reply{Prompt: d.prompts.Phone}

	case StepPhone:
		normalized := phone.Normalize(text, d.region)
		if !phone.IsPlausible(normalized) {
			return d.retry(s, d.prompts.PhoneRetry)
		}
		s.Slots.Phone = normalized
		s.advance(StepConsent)
		return Reply{Prompt: d.prompts.Consent}

	case StepConsent:
		s.Slots.Consent = ClassifyConsent(text)
		s.advance(StepDone)
		if !s.Slots.Consent {
			return Reply{Prompt: d.prompts.Declined, Hangup: true}
		}
		return Reply{Prompt: d.prompts.ThankYou, Hangup: true, Completed: true}
	}

	s.Step = StepDone
	return Reply{Prompt: d.prompts.Goodbye, Hangup: true}
}

func (d Dialog) retry(s *Session, prompt string) Reply {
	s.Attempts++
	if s.Attempts > d.maxAttempts {
		s.Step = StepDone
		return Reply{Prompt: d.prompts.GiveUp, Hangup: true}
	}
	return Reply{Prompt: prompt}
}
