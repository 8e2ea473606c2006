package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/ebook-storefront/internal/payment"
)

// CheckoutCreator opens checkouts. *service.CheckoutService implements it.
type CheckoutCreator interface {
	Create(ctx context.Context, email, origin string) (*payment.CheckoutSession, error)
}

// CheckoutHandler starts a purchase.
type CheckoutHandler struct {
	checkout CheckoutCreator
	baseURL  string
	logger   *slog.Logger
}

// NewCheckoutHandler creates a CheckoutHandler. baseURL is the public
// origin buyers are sent back to after paying.
func NewCheckoutHandler(checkout CheckoutCreator, baseURL string, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, baseURL: baseURL, logger: logger}
}

type checkoutRequest struct {
	Email string `json:"email"`
}

// CheckoutResponse identifies the hosted checkout to redirect to.
type CheckoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// HandleCreate opens a hosted checkout for one copy of the ebook.
//
// HTTP: POST /api/create-checkout-session
// REQUEST BODY: {"email": "buyer@example.com"}
//
// Return URLs always use the configured origin, never the request's
// Origin header, so a forged header cannot send buyers elsewhere.
func (h *CheckoutHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var body checkoutRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.checkout.Create(r.Context(), body.Email, h.baseURL)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CheckoutResponse{SessionID: session.ID, URL: session.URL})
}
