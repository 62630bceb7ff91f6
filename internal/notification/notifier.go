// Package notification turns ledger events into buyer emails.
//
// Offers always carry a masked phone number. The full number is only sent
// by NotifySold, which callers invoke after a committed sold transition.
package notification

import (
	"context"
	"fmt"
	"time"

	"lead_waterfall_backend/internal/buyers"
	"lead_waterfall_backend/internal/email"
	"lead_waterfall_backend/internal/leads/domain"
	"lead_waterfall_backend/platform/logger"
	"lead_waterfall_backend/platform/phone"

	qrcode "github.com/skip2/go-qrcode"
)

const qrCodeSize = 256

type Notifier struct {
	sender email.Sender
	window time.Duration
	log    *logger.Logger
}

func New(sender email.Sender, window time.Duration, log *logger.Logger) *Notifier {
	return &Notifier{sender: sender, window: window, log: log}
}

// NotifyOffer sends the masked offer with a checkout link and its QR code.
func (n *Notifier) NotifyOffer(ctx context.Context, buyer buyers.Buyer, lead domain.Lead, checkoutURL string) error {
	png, err := qrcode.Encode(checkoutURL, qrcode.Medium, qrCodeSize)
	if err != nil {
		n.log.Warn("checkout qr code generation failed", "lead_id", lead.ID.String(), "error", err)
		png = nil
	}

	msg := email.LeadOffer{
		BuyerName:     buyer.Name,
		Service:       lead.Service.Label(),
		Zone:          lead.Zone,
		Timing:        lead.Timing.Label(),
		MaskedPhone:   phone.Mask(lead.Phone),
		Price:         lead.DisplayPrice(),
		CheckoutURL:   checkoutURL,
		WindowMinutes: int(n.window / time.Minute),
		QRCodePNG:     png,
	}
	if err := n.sender.SendLeadOfferEmail(ctx, buyer.Email, msg); err != nil {
		return fmt.Errorf("send offer to %s: %w", buyer.Email, err)
	}
	return nil
}

// NotifySold sends the winning buyer the unmasked lead.
func (n *Notifier) NotifySold(ctx context.Context, buyer buyers.Buyer, lead domain.Lead) error {
	if lead.Status.Kind != domain.KindSold {
		return fmt.Errorf("lead %s is %s, details are only released after sale", lead.ID, lead.Status)
	}
	msg := email.LeadDetails{
		BuyerName: buyer.Name,
		Service:   lead.Service.Label(),
		City:      lead.City,
		Zone:      lead.Zone,
		Timing:    lead.Timing.Label(),
		Phone:     lead.Phone,
		Price:     lead.DisplayPrice(),
	}
	if err := n.sender.SendLeadDetailsEmail(ctx, buyer.Email, msg); err != nil {
		return fmt.Errorf("send details to %s: %w", buyer.Email, err)
	}
	return nil
}
