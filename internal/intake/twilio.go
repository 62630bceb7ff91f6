package intake

import (
	"net/url"
)

const twilioSignatureHeader = "X-Twilio-Signature"

// formParams flattens a gateway form POST for signature validation.
// Twilio never repeats a parameter in its webhooks.
func formParams(form url.Values) map[string]string {
	params := make(map[string]string, len(form))
	for k, values := range form {
		if len(values) > 0 {
			params[k] = values[0]
		}
	}
	return params
}
