// Package handler contains the storefront's HTTP handlers.
//
// HANDLER RESPONSIBILITIES:
// 1. Parse the incoming HTTP request (query params, body, headers)
// 2. Call the service layer
// 3. Write the HTTP response (status code, headers, body)
//
// Handlers hold no business rules. Every access decision, for instance,
// is made by service.AccessService; the verify and download endpoints only
// differ in what they write once access is granted.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/ebook-storefront/internal/auth"
	"github.com/sakif/ebook-storefront/internal/service"
)

// AccessVerifier makes the access decision. *service.AccessService
// implements it.
type AccessVerifier interface {
	Verify(ctx context.Context, req service.AccessRequest) (*service.AccessGrant, error)
}

// AccessHandler serves POST /api/verify-access.
type AccessHandler struct {
	access AccessVerifier
	logger *slog.Logger
}

func NewAccessHandler(access AccessVerifier, logger *slog.Logger) *AccessHandler {
	return &AccessHandler{access: access, logger: logger}
}

// accessRequest is the body of verify-access and download requests.
type accessRequest struct {
	SessionID   string `json:"session_id"`
	AccessToken string `json:"access_token"`
}

// AccessResponse is a granted access check.
type AccessResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	IsAdmin       bool   `json:"isAdmin,omitempty"`
	PurchaseID    string `json:"purchaseId,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
}

// HandleVerifyAccess runs the access decision for the ebook page.
//
// HTTP: POST /api/verify-access
// REQUEST BODY: {"session_id": "cs_..."} or {"access_token": "eyJ..."}
// Auth: Optional. An admin login token grants access on its own.
//
// The session path returns the access credential so the page can swap the
// session id in its URL for ?token=. Every denial is the same 403 body.
func (h *AccessHandler) HandleVerifyAccess(w http.ResponseWriter, r *http.Request) {
	var body accessRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}

	grant, err := h.access.Verify(r.Context(), accessRequestFrom(r, body))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, accessResponse(grant))
}

func accessResponse(g *service.AccessGrant) AccessResponse {
	switch g.Via {
	case service.ViaAdmin:
		return AccessResponse{Success: true, Message: "Admin access granted", IsAdmin: true}
	case service.ViaCredential:
		return AccessResponse{Success: true, Message: "Access granted via token", PurchaseID: g.PurchaseID}
	default:
		msg := "Access granted"
		if g.Created {
			msg = "Access granted and purchase recorded"
		}
		return AccessResponse{
			Success:       true,
			Message:       msg,
			PurchaseID:    g.PurchaseID,
			CustomerEmail: g.CustomerEmail,
			AccessToken:   g.AccessToken,
		}
	}
}

// accessRequestFrom attaches the caller's login claims, if OptionalAuth
// found any.
func accessRequestFrom(r *http.Request, body accessRequest) service.AccessRequest {
	req := service.AccessRequest{
		SessionID:   body.SessionID,
		AccessToken: body.AccessToken,
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		req.Login = claims
	}
	return req
}
