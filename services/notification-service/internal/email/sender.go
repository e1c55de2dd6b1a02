package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/bookwiselabs/bookwise/services/notification-service/internal/dispatch"
)

// SMTPSender delivers email via unauthenticated SMTP (Mailpit-compatible).
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(host, port, from string) *SMTPSender {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@bookwise.local"
	}
	return &SMTPSender{
		addr: fmt.Sprintf("%s:%s", host, port),
		from: from,
	}
}

func (s *SMTPSender) Send(_ context.Context, msg dispatch.Message) error {
	raw := buildMessage(s.from, msg.Recipient, msg.Subject, msg.Body)
	return smtp.SendMail(s.addr, nil, s.from, []string{msg.Recipient}, []byte(raw))
}

func buildMessage(from, to, subject, body string) string {
	// Minimal RFC 5322 message; enough for Mailpit and most SMTP relays.
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from,
		to,
		subject,
		body,
	)
}
