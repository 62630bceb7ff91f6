package intake

import (
	"github.com/twilio/twilio-go/twiml"
)

// gatherTwiML asks a question and listens. If the caller stays silent,
// Twilio falls through to the Redirect and the turn arrives with no speech.
func gatherTwiML(prompt twiml.Element, action, language string) ([]byte, error) {
	return renderTwiML(
		&twiml.VoiceGather{
			Input:         "speech",
			Action:        action,
			Method:        "POST",
			SpeechTimeout: "auto",
			Language:      language,
			InnerElements: []twiml.Element{prompt},
		},
		&twiml.VoiceRedirect{Url: action, Method: "POST"},
	)
}

// hangupTwiML speaks a closing line and ends the call.
func hangupTwiML(prompt twiml.Element) ([]byte, error) {
	return renderTwiML(prompt, &twiml.VoiceHangup{})
}

func renderTwiML(verbs ...twiml.Element) ([]byte, error) {
	doc, err := twiml.Voice(verbs)
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}
