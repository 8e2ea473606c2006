package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sakif/ebook-storefront/internal/apperror"
	"github.com/sakif/ebook-storefront/internal/auth"
	"github.com/sakif/ebook-storefront/internal/model"
	"github.com/sakif/ebook-storefront/internal/notify"
	"github.com/sakif/ebook-storefront/internal/payment"
	"github.com/sakif/ebook-storefront/internal/repository"
	"github.com/sakif/ebook-storefront/internal/repository/memory"
)

// =========================================================================
// FAKES
// =========================================================================
//
// The ledger and account store are the real in-memory backend, wrapped to
// count calls. Everything that leaves the process (processor, email) is a
// hand-written fake.

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testSecret = "test-secret-0123456789"

func newTestTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService(testSecret)
	require.NoError(t, err)
	return ts
}

// fakeGateway serves canned session statuses.
type fakeGateway struct {
	mu       sync.Mutex
	sessions map[string]payment.SessionStatus
	err      error

	statusCalls atomic.Int32
	created     []payment.CheckoutRequest
	createErr   error

	event     *payment.Event
	verifyErr error
}

var _ payment.Gateway = (*fakeGateway)(nil)

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: map[string]payment.SessionStatus{}}
}

func (g *fakeGateway) paid(sessionID, email, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[sessionID] = payment.SessionStatus{
		SessionID:     sessionID,
		Paid:          true,
		CustomerEmail: email,
		CustomerName:  name,
		Amount:        300,
		Currency:      "usd",
	}
}

func (g *fakeGateway) CreateSession(_ context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, req)
	return &payment.CheckoutSession{ID: "cs_new", URL: "https://checkout.example/cs_new"}, nil
}

func (g *fakeGateway) GetSessionStatus(_ context.Context, sessionID string) (*payment.SessionStatus, error) {
	g.statusCalls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	st, ok := g.sessions[sessionID]
	if !ok {
		return nil, apperror.NotFound("checkout session", sessionID)
	}
	return &st, nil
}

func (g *fakeGateway) VerifyWebhook(_ []byte, _ string) (*payment.Event, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return g.event, nil
}

// fakeNotifier records purchase notices.
type fakeNotifier struct {
	mu      sync.Mutex
	notices []notify.PurchaseNotice
	err     error
}

func (n *fakeNotifier) NotifyPurchase(_ context.Context, notice notify.PurchaseNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

// fakeAccountMailer records the last token mailed to each address.
type fakeAccountMailer struct {
	mu            sync.Mutex
	verifications map[string]string
	resets        map[string]string
	err           error
}

func newFakeAccountMailer() *fakeAccountMailer {
	return &fakeAccountMailer{verifications: map[string]string{}, resets: map[string]string{}}
}

func (m *fakeAccountMailer) SendVerification(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications[email] = token
	return m.err
}

func (m *fakeAccountMailer) SendPasswordReset(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[email] = token
	return m.err
}

// countingPurchases counts every ledger call.
type countingPurchases struct {
	inner repository.PurchaseRepository
	calls atomic.Int32
	claim func(ctx context.Context, email, userID string) (int, error)
}

var _ repository.PurchaseRepository = (*countingPurchases)(nil)

func (c *countingPurchases) GetBySessionID(ctx context.Context, id string) (*model.Purchase, error) {
	c.calls.Add(1)
	return c.inner.GetBySessionID(ctx, id)
}

func (c *countingPurchases) GetByID(ctx context.Context, id string) (*model.Purchase, error) {
	c.calls.Add(1)
	return c.inner.GetByID(ctx, id)
}

func (c *countingPurchases) CreateIfAbsent(ctx context.Context, p repository.NewPurchase) (*model.Purchase, bool, error) {
	c.calls.Add(1)
	return c.inner.CreateIfAbsent(ctx, p)
}

func (c *countingPurchases) ListUnclaimedByEmail(ctx context.Context, email string) ([]model.Purchase, error) {
	c.calls.Add(1)
	return c.inner.ListUnclaimedByEmail(ctx, email)
}

func (c *countingPurchases) ClaimForUser(ctx context.Context, email, userID string) (int, error) {
	c.calls.Add(1)
	if c.claim != nil {
		return c.claim(ctx, email, userID)
	}
	return c.inner.ClaimForUser(ctx, email, userID)
}

func (c *countingPurchases) ListByUser(ctx context.Context, userID string) ([]model.Purchase, error) {
	c.calls.Add(1)
	return c.inner.ListByUser(ctx, userID)
}

func (c *countingPurchases) AttachCredential(ctx context.Context, id, credential string) error {
	c.calls.Add(1)
	return c.inner.AttachCredential(ctx, id, credential)
}

// accessFixture wires an AccessService over the in-memory store.
type accessFixture struct {
	svc       *AccessService
	store     *memory.Store
	purchases *countingPurchases
	gateway   *fakeGateway
	notifier  *fakeNotifier
	tokens    *auth.TokenService
}

func newAccessFixture(t *testing.T) *accessFixture {
	t.Helper()
	f := &accessFixture{
		store:    memory.New(),
		gateway:  newFakeGateway(),
		notifier: &fakeNotifier{},
		tokens:   newTestTokens(t),
	}
	f.purchases = &countingPurchases{inner: f.store.Purchases()}
	f.svc = NewAccessService(f.purchases, f.store.Users(), f.gateway, f.tokens, f.notifier, "AI Prompts Guide", discardLogger())
	return f
}

// addUser stores a verified account and returns it.
func addUser(t *testing.T, users repository.UserRepository, email string) *model.User {
	t.Helper()
	u := &model.User{Email: email, Name: "Reader", EmailVerified: true}
	require.NoError(t, users.Create(context.Background(), u))
	return u
}
