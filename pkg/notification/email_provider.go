package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// EmailProvider delivers notifications over SMTP. There is no third-party
// mail library in this stack's dependency set, so this uses net/smtp
// directly — the one ambient concern in this package built on the
// standard library rather than an ecosystem client.
type EmailProvider struct {
	addr   string
	from   string
	auth   smtp.Auth
	logger *slog.Logger
}

// NewEmailProvider builds an EmailProvider. If addr is empty the provider
// is a no-op.
func NewEmailProvider(addr, from, username, password string, logger *slog.Logger) *EmailProvider {
	var auth smtp.Auth
	if username != "" {
		host := addr
		if idx := strings.IndexByte(addr, ':'); idx >= 0 {
			host = addr[:idx]
		}
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &EmailProvider{addr: addr, from: from, auth: auth, logger: logger}
}

func (p *EmailProvider) Channel() Channel { return ChannelEmail }

func (p *EmailProvider) Send(_ context.Context, recipient Recipient, event NetworkEvent) error {
	if p.addr == "" {
		p.logger.Debug("email provider disabled, skipping", "event_type", event.EventType)
		return nil
	}
	if recipient.Email == "" {
		return nil
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		p.from, recipient.Email, event.Title, event.Message)

	if err := smtp.SendMail(p.addr, p.auth, p.from, []string{recipient.Email}, []byte(msg)); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	return nil
}

