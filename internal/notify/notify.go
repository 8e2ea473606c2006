// Package notify delivers the storefront's transactional email.
//
// A Sender moves one Message to a provider. The Mailer on top of it knows
// which messages the storefront sends and how they are worded.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// ErrNoRecipient is returned for a message without a To address.
var ErrNoRecipient = errors.New("notify: message has no recipient")

// Message is a single outbound email. When TemplateID is set the provider
// renders the body from TemplateData and HTML/Text are ignored.
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
	Text    string

	TemplateID   string
	TemplateData map[string]any
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var _ Sender = (*LogSender)(nil)

// LogSender writes messages to the log instead of sending them. It is used
// when no email provider is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	s.logger.Info("email not sent, no provider configured",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("template_id", msg.TemplateID),
	)
	return nil
}
