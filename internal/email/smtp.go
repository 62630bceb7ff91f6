package email

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// SMTPSender delivers mail over a direct SMTP connection via go-mail.
// Port 465 uses implicit TLS; any other port upgrades with STARTTLS when offered.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
}

// NewSMTPSender creates a new SMTPSender with the given SMTP credentials.
func NewSMTPSender(host string, port int, username, password, fromEmail, fromName string) *SMTPSender {
	return &SMTPSender{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		fromName:  fromName,
		fromEmail: fromEmail,
	}
}

func (s *SMTPSender) SendLeadOfferEmail(ctx context.Context, toEmail string, msg LeadOffer) error {
	subject, content, err := renderLeadOffer(msg)
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subject, content, qrAttachment(msg.QRCodePNG)...)
}

func (s *SMTPSender) SendLeadDetailsEmail(ctx context.Context, toEmail string, msg LeadDetails) error {
	subject, content, err := renderLeadDetails(msg)
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subject, content)
}

func (s *SMTPSender) send(ctx context.Context, toEmail, subject, htmlContent string, attachments ...Attachment) error {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)

	for _, att := range attachments {
		if err := msg.AttachReader(att.FileName, bytes.NewReader(att.Content)); err != nil {
			return fmt.Errorf("smtp attach %s: %w", att.FileName, err)
		}
	}

	opts := []gomail.Option{
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTimeout(15 * time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	}
	if s.port == 465 {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPortPolicy(gomail.TLSOpportunistic))
	}

	client, err := gomail.NewClient(s.host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return nil
}
