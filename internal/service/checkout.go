package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sakif/ebook-storefront/internal/apperror"
	"github.com/sakif/ebook-storefront/internal/model"
	"github.com/sakif/ebook-storefront/internal/payment"
	"github.com/sakif/ebook-storefront/internal/repository"
)

// CheckoutService opens hosted checkouts for the ebook.
type CheckoutService struct {
	gateway payment.Gateway
	logger  *slog.Logger
}

func NewCheckoutService(gateway payment.Gateway, logger *slog.Logger) *CheckoutService {
	return &CheckoutService{gateway: gateway, logger: logger}
}

// Create opens a checkout for email. origin is the storefront's public
// origin; the buyer returns to {origin}/ebook on success and to
// {origin}/buy on cancel.
func (s *CheckoutService) Create(ctx context.Context, email, origin string) (*payment.CheckoutSession, error) {
	email = repository.NormalizeEmail(email)
	if !model.ValidEmail(email) {
		return nil, apperror.ValidationFailed("email", "Valid email is required")
	}
	origin = strings.TrimRight(origin, "/")

	session, err := s.gateway.CreateSession(ctx, payment.CheckoutRequest{
		Email:      email,
		SuccessURL: origin + "/ebook?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  origin + "/buy",
	})
	if err != nil {
		s.logger.Error("checkout session failed", slog.String("error", err.Error()))
		return nil, err
	}

	s.logger.Info("checkout session created", slog.String("session_id", session.ID))
	return session, nil
}
