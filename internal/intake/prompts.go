package intake

import "fmt"

// Prompts is the caller-facing script.
type Prompts struct {
	Greeting     string
	ServiceRetry string
	Zone         string
	ZoneRetry    string
	Timing       string
	Phone        string
	PhoneRetry   string
	Consent      string
	ThankYou     string
	Declined     string
	GiveUp       string
	Goodbye      string
	Unavailable  string
}

// ItalianPrompts returns the script for a city.
func ItalianPrompts(city string) Prompts {
	return Prompts{
		Greeting: fmt.Sprintf("Buongiorno. Ti aiuto a ricevere un preventivo gratuito e discreto per un'agenzia funebre a %s. "+
			"Ti farò poche domande. Di cosa hai bisogno: funerale completo, cremazione o trasferimento salma?", city),
		ServiceRetry: "Non ho capito bene. Ti serve un funerale, una cremazione o un trasferimento salma?",
		Zone:         fmt.Sprintf("In quale zona o quartiere di %s serve il servizio?", city),
		ZoneRetry:    fmt.Sprintf("Puoi ripetere la zona di %s?", city),
		Timing:       "Serve subito, entro ventiquattro ore, oppure nei prossimi giorni?",
		Phone:        "Perfetto. Mi lasci un numero di telefono per l'invio della stima e la chiamata di conferma?",
		PhoneRetry:   "Il numero non sembra valido. Potresti ripeterlo lentamente, per favore?",
		Consent: "Confermi che possiamo far contattare il tuo numero da un'agenzia autorizzata della tua zona, " +
			"solo per confermare il preventivo?",
		ThankYou: "Grazie. Riceverai a breve una stima indicativa e la chiamata di conferma. " +
			"Siamo a disposizione ventiquattro ore su ventiquattro.",
		Declined:    "Capito. Non procederò con il contatto. Se cambi idea, puoi richiamarci quando vuoi. Un caro saluto.",
		GiveUp:      "Purtroppo non riesco a capirti bene. Ti invitiamo a richiamarci quando vuoi. Un caro saluto.",
		Goodbye:     "Grazie per la chiamata. Un saluto.",
		Unavailable: "Ci scusiamo, al momento non riusciamo a completare la richiesta. Ti invitiamo a richiamarci tra poco.",
	}
}
