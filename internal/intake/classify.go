package intake

import (
	"strings"
	"unicode"

	"lead_waterfall_backend/internal/leads/domain"
)

// ClassifyService maps free speech to a service. Cremation is tested first
// because callers often say "funerale con cremazione".
func ClassifyService(text string) (domain.Service, bool) {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "cremaz"), strings.Contains(t, "cremat"):
		return domain.ServiceCremation, true
	case strings.Contains(t, "funeral"):
		return domain.ServiceFuneral, true
	case strings.Contains(t, "trasfer"), strings.Contains(t, "transfer"), strings.Contains(t, "salma"):
		return domain.ServiceTransfer, true
	}
	return "", false
}

// ClassifyTiming always yields a tier; anything unrecognised is within_days.
func ClassifyTiming(text string) domain.Timing {
	return classifyTiming(text, false)
}

// ClassifyFormTiming also accepts the landing page's "prima possibile".
func ClassifyFormTiming(text string) domain.Timing {
	return classifyTiming(text, true)
}

func classifyTiming(text string, form bool) domain.Timing {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "subito"), strings.Contains(t, "immediat"), strings.Contains(t, "adesso"),
		form && strings.Contains(t, "prima"):
		return domain.TimingImmediate
	case strings.Contains(t, "24"), strings.Contains(t, "ventiquattro"), strings.Contains(t, "domani"),
		strings.Contains(t, "tomorrow"):
		return domain.TimingWithin24h
	}
	return domain.TimingWithinDays
}

var (
	affirmativeTokens = map[string]bool{"si": true, "sì": true, "ok": true, "yes": true, "certo": true, "confermo": true}
	negativeTokens    = map[string]bool{"no": true, "non": true}
)

// ClassifyConsent reports an explicit yes. A negative word anywhere wins,
// so "non confermo" is a refusal.
func ClassifyConsent(text string) bool {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	affirmative := false
	for _, tok := range tokens {
		if negativeTokens[tok] {
			return false
		}
		if affirmativeTokens[tok] {
			affirmative = true
		}
	}
	if affirmative {
		return true
	}
	return strings.Contains(strings.Join(tokens, " "), "va bene")
}
