package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/ebook-storefront/internal/apperror"
)

// maxWebhookBytes caps webhook payloads. Stripe events are well below it.
const maxWebhookBytes = 64 << 10

// WebhookProcessor authenticates and applies one delivery.
// *service.WebhookService implements it.
type WebhookProcessor interface {
	Handle(ctx context.Context, payload []byte, signature string) error
}

// WebhookHandler receives payment processor events.
type WebhookHandler struct {
	webhooks WebhookProcessor
	logger   *slog.Logger
}

func NewWebhookHandler(webhooks WebhookProcessor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, logger: logger}
}

// HandleStripe processes a Stripe webhook.
//
// HTTP: POST /api/webhook
// Header: Stripe-Signature
//
// The raw body must reach the signature check byte for byte, so it is
// read whole and never decoded here. A 2xx tells Stripe to stop
// redelivering; store and gateway failures answer 503 so it retries.
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		h.logger.Warn("webhook body unreadable", slog.String("error", err.Error()))
		writeError(w, apperror.ValidationFailed("body", "Unreadable webhook body"))
		return
	}

	if err := h.webhooks.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
