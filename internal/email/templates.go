package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

type baseEmailData struct {
	Title      string
	Heading    string
	Subheading string
	CTALabel   string
	CTAURL     string
}

type leadOfferEmailData struct {
	baseEmailData
	BuyerName     string
	Service       string
	Zone          string
	Timing        string
	MaskedPhone   string
	Price         string
	WindowMinutes int
	HasQRCode     bool
}

type leadDetailsEmailData struct {
	baseEmailData
	BuyerName string
	Service   string
	Zone      string
	Timing    string
	Phone     string
	City      string
	Price     string
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}

func renderLeadOffer(msg LeadOffer) (string, string, error) {
	content, err := renderEmailTemplate("lead_offer.html", leadOfferEmailData{
		baseEmailData: baseEmailData{
			Title:    "Nuovo lead disponibile",
			Heading:  "Nuovo lead disponibile",
			CTALabel: "Acquista il lead",
			CTAURL:   msg.CheckoutURL,
		},
		BuyerName:     msg.BuyerName,
		Service:       msg.Service,
		Zone:          msg.Zone,
		Timing:        msg.Timing,
		MaskedPhone:   msg.MaskedPhone,
		Price:         msg.Price,
		WindowMinutes: msg.WindowMinutes,
		HasQRCode:     msg.QRCodePNG != nil,
	})
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf(subjectLeadOfferFmt, msg.Service), content, nil
}

func renderLeadDetails(msg LeadDetails) (string, string, error) {
	content, err := renderEmailTemplate("lead_details.html", leadDetailsEmailData{
		baseEmailData: baseEmailData{
			Title:   "Dettagli lead sbloccati",
			Heading: "Pagamento ricevuto",
		},
		BuyerName: msg.BuyerName,
		Service:   msg.Service,
		Zone:      msg.Zone,
		Timing:    msg.Timing,
		Phone:     msg.Phone,
		City:      msg.City,
		Price:     msg.Price,
	})
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf(subjectLeadDetailsFmt, msg.Service), content, nil
}
