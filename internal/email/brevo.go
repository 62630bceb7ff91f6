package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

type BrevoSender struct {
	apiKey    string
	fromName  string
	fromEmail string
	endpoint  string
	client    *http.Client
}

type brevoAttachment struct {
	Content string `json:"content"`
	Name    string `json:"name"`
}

type brevoEmailRequest struct {
	Sender struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"sender"`
	To []struct {
		Email string `json:"email"`
	} `json:"to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"htmlContent"`
	Attachment  []brevoAttachment `json:"attachment,omitempty"`
}

func (b *BrevoSender) SendLeadOfferEmail(ctx context.Context, toEmail string, msg LeadOffer) error {
	subject, content, err := renderLeadOffer(msg)
	if err != nil {
		return err
	}
	return b.sendWithAttachments(ctx, toEmail, subject, content, qrAttachment(msg.QRCodePNG)...)
}

func (b *BrevoSender) SendLeadDetailsEmail(ctx context.Context, toEmail string, msg LeadDetails) error {
	subject, content, err := renderLeadDetails(msg)
	if err != nil {
		return err
	}
	return b.sendWithAttachments(ctx, toEmail, subject, content)
}

func (b *BrevoSender) sendWithAttachments(ctx context.Context, toEmail, subject, htmlContent string, attachments ...Attachment) error {
	payload := brevoEmailRequest{
		Subject:     subject,
		HTMLContent: htmlContent,
	}
	payload.Sender.Name = b.fromName
	payload.Sender.Email = b.fromEmail
	payload.To = []struct {
		Email string `json:"email"`
	}{{Email: toEmail}}

	for _, att := range attachments {
		payload.Attachment = append(payload.Attachment, brevoAttachment{
			Content: base64.StdEncoding.EncodeToString(att.Content),
			Name:    att.FileName,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("api-key", b.apiKey)
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("brevo send failed: status %d: %s", resp.StatusCode, string(data))
	}

	return nil
}
