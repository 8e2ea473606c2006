// Package service contains the storefront's business logic.
//
// The layers are the usual three:
//
//	Handler (HTTP)      → parses requests, writes responses
//	Service (business)  → validates, enforces rules, orchestrates
//	Repository (data)   → reads/writes the ledger and accounts
//
// Services take plain Go values and return apperror values. They know
// nothing about HTTP, so the webhook, the download endpoint and the admin
// CLI all share the same rules.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/ebook-storefront/internal/apperror"
	"github.com/sakif/ebook-storefront/internal/auth"
	"github.com/sakif/ebook-storefront/internal/model"
	"github.com/sakif/ebook-storefront/internal/notify"
	"github.com/sakif/ebook-storefront/internal/payment"
	"github.com/sakif/ebook-storefront/internal/repository"
)

// PurchaseNotifier is told about purchases the moment they are recorded.
// *notify.Mailer implements it.
type PurchaseNotifier interface {
	NotifyPurchase(ctx context.Context, n notify.PurchaseNotice) error
}

// GrantPath says which branch of Verify granted access.
type GrantPath int

const (
	// ViaAdmin is the administrator bypass.
	ViaAdmin GrantPath = iota + 1
	// ViaCredential is a repeat visit with an access credential.
	ViaCredential
	// ViaSession is a first visit with a checkout session id.
	ViaSession
)

func (p GrantPath) String() string {
	switch p {
	case ViaAdmin:
		return "admin"
	case ViaCredential:
		return "credential"
	case ViaSession:
		return "session"
	default:
		return "unknown"
	}
}

// AccessRequest is one access check. Login carries the caller's verified
// login claims, if any.
type AccessRequest struct {
	SessionID   string
	AccessToken string
	Login       *auth.LoginClaims
}

// AccessGrant is a positive access decision.
type AccessGrant struct {
	PurchaseID    string
	AccessToken   string
	CustomerEmail string
	IsAdmin       bool
	Via           GrantPath

	// Created is true only for the call that recorded the purchase.
	Created bool
	// NotifyErr is the confirmation email's failure, if it failed. It
	// never affects the decision.
	NotifyErr error
}

// AccessService decides whether a caller may read the ebook and records
// purchases the first time a paid session is seen.
type AccessService struct {
	purchases repository.PurchaseRepository
	users     repository.UserRepository
	gateway   payment.Gateway
	tokens    *auth.TokenService
	notifier  PurchaseNotifier
	product   string
	logger    *slog.Logger
	now       func() time.Time
}

func NewAccessService(
	purchases repository.PurchaseRepository,
	users repository.UserRepository,
	gateway payment.Gateway,
	tokens *auth.TokenService,
	notifier PurchaseNotifier,
	productName string,
	logger *slog.Logger,
) *AccessService {
	return &AccessService{
		purchases: purchases,
		users:     users,
		gateway:   gateway,
		tokens:    tokens,
		notifier:  notifier,
		product:   productName,
		logger:    logger,
		now:       time.Now,
	}
}

// Verify runs the access decision: admin bypass first, then the
// credential path, then the session path.
//
// Denials are apperror.AccessDenied with the reason in Detail; callers must
// not echo the reason. Gateway and store failures come back as
// GatewayUnavailable / StoreUnavailable and are safe to retry.
func (s *AccessService) Verify(ctx context.Context, req AccessRequest) (*AccessGrant, error) {
	if req.Login != nil && req.Login.IsAdmin {
		s.logger.Info("access granted",
			slog.String("via", ViaAdmin.String()),
			slog.String("user_id", req.Login.UserID),
		)
		return &AccessGrant{IsAdmin: true, Via: ViaAdmin}, nil
	}

	token := strings.TrimSpace(req.AccessToken)
	sessionID := strings.TrimSpace(req.SessionID)

	switch {
	case token != "":
		return s.verifyCredential(ctx, token)
	case sessionID != "":
		return s.verifySession(ctx, sessionID)
	default:
		return nil, apperror.ValidationFailed("session_id", "Session ID or access token is required")
	}
}

// verifyCredential is the repeat-visit path. It never calls the gateway.
func (s *AccessService) verifyCredential(ctx context.Context, token string) (*AccessGrant, error) {
	claims, ok := s.tokens.VerifyAccess(token)
	if !ok {
		return nil, s.deny(apperror.DenyInvalidToken, slog.String("via", ViaCredential.String()))
	}

	p, err := s.purchases.GetByID(ctx, claims.PurchaseID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, s.deny(apperror.DenyStaleToken, slog.String("purchase_id", claims.PurchaseID))
		}
		return nil, err
	}
	if !ownedBy(p, claims, token) {
		return nil, s.deny(apperror.DenyStaleToken,
			slog.String("purchase_id", p.ID),
			slog.String("subject", claims.SubjectID),
		)
	}

	s.logger.Info("access granted",
		slog.String("via", ViaCredential.String()),
		slog.String("purchase_id", p.ID),
	)
	return &AccessGrant{
		PurchaseID:    p.ID,
		AccessToken:   token,
		CustomerEmail: p.CustomerEmail,
		Via:           ViaCredential,
	}, nil
}

// ownedBy reports whether the credential's subject owns p. A guest
// credential keeps working after its purchase is merged into an account,
// but only if it is the credential stored on the purchase.
func ownedBy(p *model.Purchase, claims *auth.AccessClaims, token string) bool {
	if claims.SubjectID == p.Subject() {
		return true
	}
	return claims.SubjectID == model.GuestSubject && token == p.AccessCredential
}

// verifySession is the first-visit path.
func (s *AccessService) verifySession(ctx context.Context, sessionID string) (*AccessGrant, error) {
	p, err := s.purchases.GetBySessionID(ctx, sessionID)
	switch {
	case err == nil:
		return s.replay(ctx, p)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, err
	}

	status, err := s.gateway.GetSessionStatus(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, s.deny(apperror.DenyPaymentIncomplete, slog.String("session_id", sessionID))
		}
		return nil, err
	}
	return s.reconcile(ctx, status)
}

// ReconcileCompletedSession records a session the payment processor has
// reported as completed. It is the webhook's way into the session path and
// skips the gateway round trip.
func (s *AccessService) ReconcileCompletedSession(ctx context.Context, status payment.SessionStatus) (*AccessGrant, error) {
	if status.SessionID == "" {
		return nil, apperror.ValidationFailed("session_id", "Session ID is required")
	}

	p, err := s.purchases.GetBySessionID(ctx, status.SessionID)
	switch {
	case err == nil:
		return s.replay(ctx, p)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, err
	}
	return s.reconcile(ctx, &status)
}

// replay grants access for a purchase that is already recorded. It never
// notifies. A row left without a credential is repaired here.
func (s *AccessService) replay(ctx context.Context, p *model.Purchase) (*AccessGrant, error) {
	token := p.AccessCredential
	if token == "" {
		var err error
		if token, err = s.attach(ctx, p); err != nil {
			return nil, err
		}
	}

	s.logger.Info("access granted",
		slog.String("via", ViaSession.String()),
		slog.String("purchase_id", p.ID),
		slog.Bool("replay", true),
	)
	return &AccessGrant{
		PurchaseID:    p.ID,
		AccessToken:   token,
		CustomerEmail: p.CustomerEmail,
		Via:           ViaSession,
	}, nil
}

// reconcile records a paid session, mints its credential and, if this call
// created the row, sends the confirmation.
func (s *AccessService) reconcile(ctx context.Context, status *payment.SessionStatus) (*AccessGrant, error) {
	if !status.Paid {
		return nil, s.deny(apperror.DenyPaymentIncomplete, slog.String("session_id", status.SessionID))
	}

	email := repository.NormalizeEmail(status.CustomerEmail)
	if email == "" {
		return nil, apperror.ValidationFailed("customer_email", "Payment session has no customer email")
	}

	owner, err := s.ownerFor(ctx, email)
	if err != nil {
		return nil, err
	}

	p, created, err := s.purchases.CreateIfAbsent(ctx, repository.NewPurchase{
		UserID:        owner,
		CustomerEmail: email,
		CustomerName:  status.CustomerName,
		SessionID:     status.SessionID,
		Amount:        status.Amount,
		Currency:      status.Currency,
		ProductName:   s.product,
		PurchasedAt:   s.now(),
	})
	if err != nil {
		return nil, err
	}

	token := p.AccessCredential
	if token == "" {
		if token, err = s.attach(ctx, p); err != nil {
			return nil, err
		}
	}

	grant := &AccessGrant{
		PurchaseID:    p.ID,
		AccessToken:   token,
		CustomerEmail: p.CustomerEmail,
		Via:           ViaSession,
		Created:       created,
	}

	if created {
		grant.NotifyErr = s.notifier.NotifyPurchase(ctx, notify.PurchaseNotice{
			Email:        p.CustomerEmail,
			CustomerName: p.CustomerName,
			AccessToken:  token,
			SessionID:    p.SessionID,
			Amount:       p.Amount,
			Currency:     p.Currency,
			PurchasedAt:  p.PurchasedAt,
		})
		if grant.NotifyErr != nil {
			s.logger.Error("purchase confirmation failed",
				slog.String("purchase_id", p.ID),
				slog.String("error", grant.NotifyErr.Error()),
			)
		}
	}

	s.logger.Info("access granted",
		slog.String("via", ViaSession.String()),
		slog.String("purchase_id", p.ID),
		slog.Bool("created", created),
		slog.Bool("guest", !p.Claimed()),
	)
	return grant, nil
}

// ownerFor returns the id of the account registered under email, or nil
// for a guest purchase.
func (s *AccessService) ownerFor(ctx context.Context, email string) (*string, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u.ID, nil
}

// attach mints the purchase's credential, stores it and returns the stored
// value. The store keeps the first credential attached, so every caller
// racing on one purchase returns the same string.
func (s *AccessService) attach(ctx context.Context, p *model.Purchase) (string, error) {
	token, err := s.tokens.IssueAccess(p.Subject(), p.ID, p.PurchasedAt)
	if err != nil {
		return "", err
	}
	if err := s.purchases.AttachCredential(ctx, p.ID, token); err != nil {
		return "", err
	}

	stored, err := s.purchases.GetByID(ctx, p.ID)
	if err != nil {
		return "", err
	}
	return stored.AccessCredential, nil
}

func (s *AccessService) deny(reason apperror.DenyReason, attrs ...any) error {
	s.logger.Info("access denied", append([]any{slog.String("reason", string(reason))}, attrs...)...)
	return apperror.AccessDenied(reason)
}
