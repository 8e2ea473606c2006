package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/ebook-storefront/internal/apperror"
	"github.com/sakif/ebook-storefront/internal/auth"
	"github.com/sakif/ebook-storefront/internal/model"
)

// PurchaseLister lists a user's purchases. *service.PurchaseService
// implements it.
type PurchaseLister interface {
	ListForUser(ctx context.Context, userID string) ([]model.Purchase, error)
}

// PurchasesHandler serves the signed-in user's purchase history.
type PurchasesHandler struct {
	purchases PurchaseLister
	logger    *slog.Logger
}

func NewPurchasesHandler(purchases PurchaseLister, logger *slog.Logger) *PurchasesHandler {
	return &PurchasesHandler{purchases: purchases, logger: logger}
}

// PurchasesResponse is the purchase history, newest first.
type PurchasesResponse struct {
	Purchases []model.Purchase `json:"purchases"`
	Total     int              `json:"total"`
}

// HandleList returns the caller's purchases, including guest purchases
// made with their verified email.
//
// HTTP: GET /api/user/purchases
// Auth: Required
func (h *PurchasesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required", ""))
		return
	}

	ps, err := h.purchases.ListForUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if ps == nil {
		ps = []model.Purchase{}
	}

	writeJSON(w, http.StatusOK, PurchasesResponse{Purchases: ps, Total: len(ps)})
}
