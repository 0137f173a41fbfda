// Package notify sends the customer and merchant emails triggered by
// webhook events.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"sort"
	"strings"
)

// Email kinds sent by the event handlers.
const (
	KindPaymentConfirmation = "payment_confirmation"
	KindPaymentFailed       = "payment_failed"
	KindRefundConfirmation  = "refund_confirmation"
	KindMerchantCreated     = "merchant_created"
	KindMerchantApproved    = "merchant_approved"
	KindMerchantSuspended   = "merchant_suspended"
)

var subjects = map[string]string{
	KindPaymentConfirmation: "Payment received",
	KindPaymentFailed:       "Payment failed",
	KindRefundConfirmation:  "Refund processed",
	KindMerchantCreated:     "Merchant account created",
	KindMerchantApproved:    "Merchant account approved",
	KindMerchantSuspended:   "Merchant account suspended",
}

// Mailer delivers one notification. Implementations may be called more than
// once for the same event when a handler is retried.
type Mailer interface {
	SendEmail(ctx context.Context, kind, recipient string, data map[string]any) error
}

// LogMailer only logs what it would send.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendEmail(_ context.Context, kind, recipient string, data map[string]any) error {
	m.logger.Info("sending email",
		"kind", kind,
		"recipient", recipient,
		"fields", len(data),
	)
	return nil
}

// SMTPMailer sends plain-text mail through an SMTP relay.
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer returns a mailer for addr (host:port). auth may be nil for
// unauthenticated relays.
func NewSMTPMailer(addr, from string, auth smtp.Auth) *SMTPMailer {
	return &SMTPMailer{addr: addr, from: from, auth: auth, send: smtp.SendMail}
}

func (m *SMTPMailer) SendEmail(ctx context.Context, kind, recipient string, data map[string]any) error {
	if recipient == "" {
		return fmt.Errorf("sending %s email: recipient is required", kind)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := buildMessage(m.from, recipient, kind, data)
	if err := m.send(m.addr, m.auth, m.from, []string{recipient}, msg); err != nil {
		return fmt.Errorf("sending %s email to %s: %w", kind, recipient, err)
	}
	return nil
}

func buildMessage(from, to, kind string, data map[string]any) []byte {
	subject, ok := subjects[kind]
	if !ok {
		subject = kind
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\r\n", k, data[k])
	}
	return []byte(b.String())
}
