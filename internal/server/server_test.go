package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"

	"github.com/sakif/ebook-storefront/internal/auth"
	"github.com/sakif/ebook-storefront/internal/config"
	"github.com/sakif/ebook-storefront/internal/content"
	"github.com/sakif/ebook-storefront/internal/notify"
	"github.com/sakif/ebook-storefront/internal/payment"
	"github.com/sakif/ebook-storefront/internal/ratelimit"
	"github.com/sakif/ebook-storefront/internal/repository/memory"
)

const (
	testJWTSecret     = "server-test-secret-0123"
	testWebhookSecret = "whsec_server_test"
)

// stripeSessions fakes the one Stripe endpoint the storefront reads.
type stripeSessions struct {
	paid  map[string]string // session id → customer email
	calls atomic.Int32
}

func (s *stripeSessions) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.calls.Add(1)
	id := strings.TrimPrefix(r.URL.Path, "/v1/checkout/sessions/")
	email, ok := s.paid[id]
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such checkout.session"}}`)
		return
	}
	fmt.Fprintf(w, `{"id":%q,"object":"checkout.session","payment_status":"paid","amount_total":300,"currency":"usd",
		"customer_details":{"email":%q,"name":"Ada"}}`, id, email)
}

// slowContent hands out its body in chunks, failing once the Open context ends.
type slowContent struct {
	chunks []string
	delay  time.Duration
}

func (c *slowContent) Open(ctx context.Context) (io.ReadCloser, int64, error) {
	var size int64
	for _, chunk := range c.chunks {
		size += int64(len(chunk))
	}
	return io.NopCloser(&slowReader{ctx: ctx, chunks: c.chunks, delay: c.delay}), size, nil
}

type slowReader struct {
	ctx    context.Context
	chunks []string
	delay  time.Duration
}

func (r *slowReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	time.Sleep(r.delay)
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

// recordingSender keeps every email instead of sending it.
type recordingSender struct {
	sent []notify.Message
}

func (s *recordingSender) Send(_ context.Context, msg notify.Message) error {
	s.sent = append(s.sent, msg)
	return nil
}

type testEnv struct {
	srv    *httptest.Server
	stripe *stripeSessions
	mail   *recordingSender
	tokens *auth.TokenService
}

func newTestEnv(t *testing.T, limiter ratelimit.Limiter, opts ...func(*config.Config, *Deps)) *testEnv {
	t.Helper()

	sessions := &stripeSessions{paid: map[string]string{}}
	stripeSrv := httptest.NewServer(sessions)
	t.Cleanup(stripeSrv.Close)
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(stripeSrv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	gateway := payment.NewStripeGateway(payment.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		Product:       payment.Product{Name: "Guide", UnitAmount: 300, Currency: "usd"},
		Backends:      &stripe.Backends{API: backend, Connect: backend, Uploads: backend},
	})

	cfg := &config.Config{
		BaseURL: "http://shop.test",
		HTTP:    config.HTTP{UpstreamTimeout: 5 * time.Second},
		JWT:     config.JWT{Secret: testJWTSecret},
		Product: config.Product{Name: "Guide", FileName: "Guide"},
	}
	mail := &recordingSender{}
	deps := Deps{
		Store:   memory.New(),
		Gateway: gateway,
		Content: content.NewEmbeddedStore(),
		Sender:  mail,
		Limiter: limiter,
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}

	s, err := New(cfg, deps, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	tokens, err := auth.NewTokenService(testJWTSecret)
	require.NoError(t, err)
	return &testEnv{srv: srv, stripe: sessions, mail: mail, tokens: tokens}
}

func (e *testEnv) post(t *testing.T, path, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func (e *testEnv) get(t *testing.T, path string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.srv.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

// =========================================================================
// End to end
// =========================================================================

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.get(t, "/healthz", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", decodeBody(t, res)["status"])
}

func TestFirstVisitThenEmailedLink(t *testing.T) {
	env := newTestEnv(t, nil)
	env.stripe.paid["cs_paid"] = "buyer@x.com"

	res := env.post(t, "/api/verify-access", `{"session_id":"cs_paid"}`, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	first := decodeBody(t, res)
	token, _ := first["accessToken"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, "Access granted and purchase recorded", first["message"])

	// The confirmation email carries the same credential.
	require.NotEmpty(t, env.mail.sent)
	assert.Equal(t, "buyer@x.com", env.mail.sent[0].To)
	assert.Contains(t, env.mail.sent[0].HTML, "/ebook?token="+token)

	// A reload replays from the ledger.
	res = env.post(t, "/api/verify-access", `{"session_id":"cs_paid"}`, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, token, decodeBody(t, res)["accessToken"])
	assert.Equal(t, int32(1), env.stripe.calls.Load())

	// The emailed link downloads the PDF.
	res = env.get(t, "/api/download?token="+token, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/pdf", res.Header.Get("Content-Type"))
	pdf, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
}

func TestUnpaidSessionIsDenied(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.post(t, "/api/verify-access", `{"session_id":"cs_unknown"}`, nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "access_denied", decodeBody(t, res)["error"])

	res = env.post(t, "/api/download", `{"session_id":"cs_unknown"}`, nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestAdminBypass(t *testing.T) {
	env := newTestEnv(t, nil)
	login, err := env.tokens.IssueLogin("admin-1", "admin@x.com", "Admin", true)
	require.NoError(t, err)

	res := env.post(t, "/api/verify-access", `{}`, bearer(login))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, decodeBody(t, res)["isAdmin"])

	res = env.post(t, "/api/download", `{}`, bearer(login))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Header.Get("Content-Disposition"), "Guide-Admin.pdf")
	assert.Zero(t, env.stripe.calls.Load())
}

func TestWebhookRecordsPurchase(t *testing.T) {
	env := newTestEnv(t, nil)
	payload := []byte(`{"id":"evt_1","object":"event","api_version":"2020-08-27","type":"checkout.session.completed",
		"data":{"object":{"id":"cs_hook","object":"checkout.session","payment_status":"paid","amount_total":300,
		"currency":"usd","customer_details":{"email":"hook@x.com","name":"Hook"}}}}`)

	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	sig := fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))

	res := env.post(t, "/api/webhook", string(payload), http.Header{"Stripe-Signature": []string{sig}})
	require.Equal(t, http.StatusOK, res.StatusCode)

	// The buyer's redirect lands after the webhook and never reaches Stripe.
	res = env.post(t, "/api/verify-access", `{"session_id":"cs_hook"}`, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Access granted", decodeBody(t, res)["message"])
	assert.Zero(t, env.stripe.calls.Load())

	res = env.post(t, "/api/webhook", string(payload), http.Header{"Stripe-Signature": []string{"t=1,v1=00"}})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestAccountFlowMergesGuestPurchase(t *testing.T) {
	env := newTestEnv(t, nil)
	env.stripe.paid["cs_guest"] = "reader@x.com"

	res := env.post(t, "/api/verify-access", `{"session_id":"cs_guest"}`, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	guestToken := decodeBody(t, res)["accessToken"].(string)

	res = env.post(t, "/api/auth/register", `{"email":"reader@x.com","password":"correct-horse","name":"Reader"}`, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var verifyLink string
	for _, m := range env.mail.sent {
		if i := strings.Index(m.HTML, "/verify-email?token="); i >= 0 {
			verifyLink = m.HTML[i+len("/verify-email?token="):]
			verifyLink = verifyLink[:strings.IndexAny(verifyLink, `"<&`)]
		}
	}
	require.NotEmpty(t, verifyLink)
	res = env.get(t, "/api/auth/verify-email?token="+verifyLink, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = env.post(t, "/api/auth/login", `{"email":"reader@x.com","password":"correct-horse"}`, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	login := decodeBody(t, res)["token"].(string)

	res = env.get(t, "/api/user/purchases", bearer(login))
	require.Equal(t, http.StatusOK, res.StatusCode)
	list := decodeBody(t, res)
	assert.Equal(t, float64(1), list["total"])

	// The guest link still works after the merge.
	res = env.post(t, "/api/verify-access", `{"access_token":"`+guestToken+`"}`, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestProtectedRoutesNeedLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/api/me", "/api/user/purchases"} {
		res := env.get(t, path, nil)
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode, path)
	}

	// An access credential is not a login.
	env.stripe.paid["cs_1"] = "a@x.com"
	res := env.post(t, "/api/verify-access", `{"session_id":"cs_1"}`, nil)
	access := decodeBody(t, res)["accessToken"].(string)
	res = env.get(t, "/api/me", bearer(access))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestRateLimitedRoutes(t *testing.T) {
	env := newTestEnv(t, ratelimit.NewMemoryLimiter(2, time.Minute))

	var codes []int
	var last *http.Response
	for i := 0; i < 3; i++ {
		last = env.post(t, "/api/verify-access", `{}`, nil)
		codes = append(codes, last.StatusCode)
	}
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "rate_limited", decodeBody(t, last)["error"])

	// Webhooks are never throttled.
	res := env.post(t, "/api/webhook", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestDownloadOutlivesUpstreamTimeout(t *testing.T) {
	env := newTestEnv(t, nil, func(cfg *config.Config, deps *Deps) {
		cfg.HTTP.UpstreamTimeout = 50 * time.Millisecond
		deps.Content = &slowContent{
			chunks: []string{"%PDF-1.4 ", "page one ", "page two ", "%%EOF"},
			delay:  30 * time.Millisecond,
		}
	})
	env.stripe.paid["cs_paid"] = "buyer@x.com"

	res := env.post(t, "/api/download", `{"session_id":"cs_paid"}`, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	pdf, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 page one page two %%EOF", string(pdf))
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(&config.Config{JWT: config.JWT{Secret: testJWTSecret}}, Deps{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
