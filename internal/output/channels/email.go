package channels

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/lueurxax/hotspot-engine/internal/core/ports"
	"github.com/lueurxax/hotspot-engine/internal/platform/config"
)

// mailSender is the subset of *gomail.Dialer the channel uses.
type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Email sends payloads over SMTP.
type Email struct {
	from   string
	to     []string
	dialer mailSender
}

// NewEmail creates an SMTP channel.
func NewEmail(cfg config.EmailConfig) *Email {
	return &Email{
		from:   cfg.From,
		to:     cfg.To,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

// Name returns the channel name.
func (e *Email) Name() string { return NameEmail }

// Send delivers one message to every recipient.
func (e *Email) Send(ctx context.Context, payload ports.PushPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := e.dialer.DialAndSend(e.message(payload)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

func (e *Email) message(payload ports.PushPayload) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", e.to...)
	m.SetHeader("Subject", Title(payload))
	m.SetBody("text/plain", RenderText(payload))
	m.AddAlternative("text/html", "<pre>"+RenderHTML(payload)+"</pre>")

	return m
}
