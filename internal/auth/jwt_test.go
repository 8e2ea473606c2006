package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestTokenService creates a TokenService with a fixed, known secret.
func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// =========================================================================
// TOKEN SERVICE CONSTRUCTION TESTS
// =========================================================================

func TestNewTokenService_ShortSecret(t *testing.T) {
	_, err := NewTokenService("short")
	if err == nil {
		t.Fatal("NewTokenService() should reject secrets shorter than 16 chars")
	}
}

func TestNewTokenService_ValidSecret(t *testing.T) {
	_, err := NewTokenService("this-is-16-chars")
	if err != nil {
		t.Fatalf("NewTokenService() unexpected error for valid secret: %v", err)
	}
}

// =========================================================================
// ACCESS CREDENTIAL TESTS
// =========================================================================

func TestIssueAccess_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)
	issuedAt := time.Now().UTC().Truncate(time.Second)

	token, err := ts.IssueAccess("user-1", "purchase-1", issuedAt)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."), "token should be a JWT")

	claims, ok := ts.VerifyAccess(token)
	require.True(t, ok)
	assert.Equal(t, "user-1", claims.SubjectID)
	assert.Equal(t, "purchase-1", claims.PurchaseID)
	assert.True(t, issuedAt.Equal(claims.IssuedAt))
}

func TestIssueAccess_GuestSubject(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.IssueAccess("guest", "purchase-9", time.Now())
	require.NoError(t, err)

	claims, ok := ts.VerifyAccess(token)
	require.True(t, ok)
	assert.Equal(t, "guest", claims.SubjectID)
}

func TestIssueAccess_Deterministic(t *testing.T) {
	ts := newTestTokenService(t)
	issuedAt := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)

	a, err := ts.IssueAccess("guest", "p1", issuedAt)
	require.NoError(t, err)
	b, err := ts.IssueAccess("guest", "p1", issuedAt.Add(300*time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, a, b, "same subject, purchase and second should encode identically")

	c, err := ts.IssueAccess("guest", "p2", issuedAt)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestIssueAccess_RejectsEmptyInputs(t *testing.T) {
	ts := newTestTokenService(t)

	_, err := ts.IssueAccess("", "p1", time.Now())
	assert.Error(t, err)
	_, err = ts.IssueAccess("u1", "", time.Now())
	assert.Error(t, err)
}

func TestVerifyAccess_Expired(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.IssueAccess("u1", "p1", time.Now().Add(-AccessTokenTTL-time.Hour))
	require.NoError(t, err)

	claims, ok := ts.VerifyAccess(token)
	assert.False(t, ok)
	assert.Nil(t, claims)
}

func TestVerifyAccess_StillValidNearEndOfLife(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.IssueAccess("u1", "p1", time.Now().Add(-AccessTokenTTL+time.Hour))
	require.NoError(t, err)

	_, ok := ts.VerifyAccess(token)
	assert.True(t, ok)
}

// =========================================================================
// LOGIN TOKEN TESTS
// =========================================================================

func TestIssueLogin_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.IssueLogin("user-7", "a@b.com", "Ada", true)
	require.NoError(t, err)

	claims, ok := ts.VerifyLogin(token)
	require.True(t, ok)
	assert.Equal(t, "user-7", claims.UserID)
	assert.Equal(t, "a@b.com", claims.Email)
	assert.Equal(t, "Ada", claims.Name)
	assert.True(t, claims.IsAdmin)
	assert.WithinDuration(t, time.Now().Add(LoginTokenTTL), claims.ExpiresAt, time.Minute)
}

func TestVerifyLogin_Expired(t *testing.T) {
	ts := newTestTokenService(t)
	ts.now = func() time.Time { return time.Now().Add(-LoginTokenTTL - time.Minute) }

	token, err := ts.IssueLogin("user-7", "a@b.com", "Ada", false)
	require.NoError(t, err)

	ts.now = time.Now
	_, ok := ts.VerifyLogin(token)
	assert.False(t, ok)
}

// =========================================================================
// KIND ISOLATION
// =========================================================================

func TestKindIsolation(t *testing.T) {
	ts := newTestTokenService(t)

	login, err := ts.IssueLogin("user-1", "a@b.com", "A", true)
	require.NoError(t, err)
	access, err := ts.IssueAccess("user-1", "p1", time.Now())
	require.NoError(t, err)

	_, ok := ts.VerifyAccess(login)
	assert.False(t, ok, "login token must not verify as an access credential")

	_, ok = ts.VerifyLogin(access)
	assert.False(t, ok, "access credential must not verify as a login token")
}

// =========================================================================
// SOFT FAILURE
// =========================================================================

func TestVerify_NeverFailsHard(t *testing.T) {
	ts := newTestTokenService(t)
	other, err := NewTokenService("a-completely-different-secret")
	require.NoError(t, err)

	foreignAccess, err := other.IssueAccess("u1", "p1", time.Now())
	require.NoError(t, err)
	foreignLogin, err := other.IssueLogin("u1", "a@b.com", "A", true)
	require.NoError(t, err)

	valid, err := ts.IssueAccess("u1", "p1", time.Now())
	require.NoError(t, err)
	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	none := jwt.NewWithClaims(jwt.SigningMethodNone, accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Kind:       KindEbookAccess,
		PurchaseID: "p1",
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	inputs := map[string]string{
		"empty":            "",
		"garbage":          "not-a-jwt",
		"binary":           "\x00\xff\xfe.\x01.\x02",
		"three dots":       "a.b.c",
		"wrong secret":     foreignAccess,
		"wrong secret (2)": foreignLogin,
		"tampered payload": tampered,
		"alg none":         unsigned,
	}

	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				a, ok := ts.VerifyAccess(in)
				assert.False(t, ok)
				assert.Nil(t, a)

				l, ok := ts.VerifyLogin(in)
				assert.False(t, ok)
				assert.Nil(t, l)
			})
		})
	}
}
