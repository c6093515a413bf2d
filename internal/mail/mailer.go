package mail

import (
	"context"
	"errors"
	"strings"

	"github.com/solarshop/api/internal/services"
)

// Mailer renders order emails and hands them to a Sender.
type Mailer struct {
	renderer *Renderer
	sender   Sender
	from     string
	fromName string
}

// MailerDeps wires a Mailer.
type MailerDeps struct {
	Renderer *Renderer
	Sender   Sender
	From     string
	FromName string
}

var _ services.OrderMailer = (*Mailer)(nil)

// NewMailer validates deps and constructs a Mailer.
func NewMailer(deps MailerDeps) (*Mailer, error) {
	if deps.Renderer == nil {
		return nil, errors.New("mail: renderer is required")
	}
	if deps.Sender == nil {
		return nil, errors.New("mail: sender is required")
	}
	return &Mailer{
		renderer: deps.Renderer,
		sender:   deps.Sender,
		from:     strings.TrimSpace(deps.From),
		fromName: strings.TrimSpace(deps.FromName),
	}, nil
}

// SendOrderEmail implements services.OrderMailer.
func (m *Mailer) SendOrderEmail(ctx context.Context, email services.OrderEmail) error {
	rendered, err := m.renderer.Render(email.Template, email.Subject, email.Data)
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, Message{
		From:     m.from,
		FromName: m.fromName,
		To:       email.To,
		Subject:  rendered.Subject,
		Text:     rendered.Text,
		HTML:     rendered.HTML,
	})
}
