// Package email delivers buyer notifications over SMTP or the Brevo API.
package email

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"lead_waterfall_backend/platform/config"
)

// Attachment represents a file attachment for an email.
type Attachment struct {
	Content  []byte
	FileName string
	MIMEType string
}

// LeadOffer is the pre-sale message. It never carries the full phone number.
type LeadOffer struct {
	BuyerName     string
	Service       string
	Zone          string
	Timing        string
	MaskedPhone   string
	Price         string
	CheckoutURL   string
	WindowMinutes int
	QRCodePNG     []byte
}

// LeadDetails is the post-sale message with the unmasked phone number.
type LeadDetails struct {
	BuyerName string
	Service   string
	City      string
	Zone      string
	Timing    string
	Phone     string
	Price     string
}

type Sender interface {
	SendLeadOfferEmail(ctx context.Context, toEmail string, msg LeadOffer) error
	SendLeadDetailsEmail(ctx context.Context, toEmail string, msg LeadDetails) error
}

type NoopSender struct{}

func (NoopSender) SendLeadOfferEmail(ctx context.Context, toEmail string, msg LeadOffer) error {
	return nil
}

func (NoopSender) SendLeadDetailsEmail(ctx context.Context, toEmail string, msg LeadDetails) error {
	return nil
}

// NewSender picks Brevo when an API key is configured and SMTP otherwise.
func NewSender(cfg config.EmailConfig) (Sender, error) {
	if !cfg.GetEmailEnabled() {
		return NoopSender{}, nil
	}

	if cfg.GetBrevoAPIKey() != "" {
		return &BrevoSender{
			apiKey:    cfg.GetBrevoAPIKey(),
			fromName:  cfg.GetEmailFromName(),
			fromEmail: cfg.GetEmailFromAddress(),
			endpoint:  brevoEndpoint,
			client:    &http.Client{Timeout: 10 * time.Second},
		}, nil
	}

	if cfg.GetSMTPHost() == "" {
		return nil, fmt.Errorf("smtp host not configured")
	}
	return NewSMTPSender(
		cfg.GetSMTPHost(),
		cfg.GetSMTPPort(),
		cfg.GetSMTPUsername(),
		cfg.GetSMTPPassword(),
		cfg.GetEmailFromAddress(),
		cfg.GetEmailFromName(),
	), nil
}

func qrAttachment(png []byte) []Attachment {
	if png == nil {
		return nil
	}
	return []Attachment{{Content: png, FileName: "pagamento-qr.png", MIMEType: "image/png"}}
}
