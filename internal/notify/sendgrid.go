package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

var _ Sender = (*SendGridSender)(nil)

// SendGridSender delivers mail through the SendGrid v3 API.
type SendGridSender struct {
	client  *sendgrid.Client
	from    *mail.Email
	replyTo *mail.Email
}

func NewSendGridSender(apiKey, fromEmail, fromName, replyTo string) *SendGridSender {
	s := &SendGridSender{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(fromName, fromEmail),
	}
	if replyTo != "" {
		s.replyTo = mail.NewEmail("", replyTo)
	}
	return s
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	to := mail.NewEmail(msg.ToName, msg.To)

	var m *mail.SGMailV3
	if msg.TemplateID != "" {
		m = mail.NewV3Mail()
		m.SetFrom(s.from)
		m.SetTemplateID(msg.TemplateID)

		p := mail.NewPersonalization()
		p.AddTos(to)
		for k, v := range msg.TemplateData {
			p.SetDynamicTemplateData(k, v)
		}
		m.AddPersonalizations(p)
	} else {
		m = mail.NewSingleEmail(s.from, msg.Subject, to, msg.Text, msg.HTML)
	}
	if s.replyTo != nil {
		m.SetReplyTo(s.replyTo)
	}

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("sendgrid: send to %s: %w", msg.To, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("sendgrid: send to %s: status %d: %s", msg.To, resp.StatusCode, resp.Body)
	}
	return nil
}
