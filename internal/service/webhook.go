package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sakif/ebook-storefront/internal/apperror"
	"github.com/sakif/ebook-storefront/internal/payment"
)

// WebhookService handles payment processor events.
type WebhookService struct {
	gateway payment.Gateway
	access  *AccessService
	logger  *slog.Logger
}

func NewWebhookService(gateway payment.Gateway, access *AccessService, logger *slog.Logger) *WebhookService {
	return &WebhookService{gateway: gateway, access: access, logger: logger}
}

// Handle authenticates and processes one webhook delivery.
//
// Only a bad signature and infrastructure failures are returned as errors.
// Events that cannot be acted on (no customer email, unpaid session) are
// logged and acknowledged, since the processor would otherwise redeliver
// them forever.
func (s *WebhookService) Handle(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, apperror.ErrInvalidSignature) {
			s.logger.Warn("webhook signature rejected",
				slog.String("event", "security"),
				slog.String("error", err.Error()),
			)
		}
		return err
	}

	switch ev.Kind {
	case payment.EventCheckoutCompleted:
		return s.checkoutCompleted(ctx, ev)
	case payment.EventPaymentSucceeded:
		s.logger.Info("payment succeeded", slog.String("payment_intent", ev.PaymentIntentID))
	default:
		s.logger.Debug("unhandled webhook event", slog.String("type", ev.Type))
	}
	return nil
}

func (s *WebhookService) checkoutCompleted(ctx context.Context, ev *payment.Event) error {
	if ev.Session == nil || ev.Session.CustomerEmail == "" {
		s.logger.Error("checkout completed without customer email", slog.String("event_id", ev.ID))
		return nil
	}

	grant, err := s.access.ReconcileCompletedSession(ctx, *ev.Session)
	switch {
	case err == nil:
		s.logger.Info("checkout reconciled",
			slog.String("session_id", ev.Session.SessionID),
			slog.String("purchase_id", grant.PurchaseID),
			slog.Bool("created", grant.Created),
		)
		return nil
	case errors.Is(err, apperror.ErrAccessDenied), errors.Is(err, apperror.ErrValidation):
		s.logger.Warn("checkout not reconciled",
			slog.String("session_id", ev.Session.SessionID),
			slog.String("reason", string(apperror.Reason(err))),
			slog.String("error", err.Error()),
		)
		return nil
	default:
		return err
	}
}
