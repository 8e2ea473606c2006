// Package auth issues and verifies the storefront's bearer tokens and hashes
// account passwords.
//
// TWO TOKEN KINDS, ONE SECRET:
// Both kinds are HS256 JWTs signed with the same secret, so the "type" claim
// is what keeps them apart:
//
//	login         short-lived (7 days), identifies a user account
//	ebook_access  long-lived (365 days), binds a subject to one purchase
//
// Each verifier rejects the other kind. Without that check a buyer's access
// link could be replayed as a login session, or the reverse.
//
// SOFT FAILURE:
// VerifyAccess and VerifyLogin return (nil, false) for anything that is not a
// valid token of their kind. Callers treat a bad token exactly like a missing
// one and never see the parser's error.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind discriminates access credentials from login tokens.
type TokenKind string

const (
	KindLogin       TokenKind = "login"
	KindEbookAccess TokenKind = "ebook_access"
)

const (
	tokenIssuer = "ebook-storefront"

	// AccessTokenTTL is how long an ebook access credential stays valid.
	AccessTokenTTL = 365 * 24 * time.Hour
	// LoginTokenTTL is how long a login session stays valid.
	LoginTokenTTL = 7 * 24 * time.Hour
)

// TokenService handles JWT creation and validation for both token kinds.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

// NewTokenService creates a TokenService with the given secret.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), now: time.Now}, nil
}

// AccessClaims is what a verified access credential says.
type AccessClaims struct {
	SubjectID  string // user id, or model.GuestSubject
	PurchaseID string
	IssuedAt   time.Time
}

// LoginClaims is what a verified login token says.
type LoginClaims struct {
	UserID    string
	Email     string
	Name      string
	IsAdmin   bool
	ExpiresAt time.Time
}

// accessClaims is the JWT payload of an access credential.
type accessClaims struct {
	jwt.RegisteredClaims
	Kind       TokenKind `json:"type"`
	PurchaseID string    `json:"purchaseId"`
}

// loginClaims is the JWT payload of a login token.
type loginClaims struct {
	jwt.RegisteredClaims
	Kind    TokenKind `json:"type"`
	Email   string    `json:"email"`
	Name    string    `json:"name"`
	IsAdmin bool      `json:"isAdmin"`
}

// IssueAccess mints an access credential for (subjectID, purchaseID).
//
// The output depends only on its arguments: issuing twice with the same
// issuedAt yields the same string. The reconciliation service passes the
// purchase time, so racing requests for one purchase agree on the credential.
func (s *TokenService) IssueAccess(subjectID, purchaseID string, issuedAt time.Time) (string, error) {
	if subjectID == "" || purchaseID == "" {
		return "", errors.New("auth: access token needs a subject and a purchase id")
	}
	issuedAt = issuedAt.UTC().Truncate(time.Second)

	c := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(AccessTokenTTL)),
			Issuer:    tokenIssuer,
		},
		Kind:       KindEbookAccess,
		PurchaseID: purchaseID,
	}
	return s.sign(c)
}

// VerifyAccess returns the claims of a valid access credential. Any other
// input, including a login token, yields (nil, false).
func (s *TokenService) VerifyAccess(tokenStr string) (*AccessClaims, bool) {
	var c accessClaims
	if !s.parse(tokenStr, &c) {
		return nil, false
	}
	if c.Kind != KindEbookAccess || c.Subject == "" || c.PurchaseID == "" {
		return nil, false
	}

	out := &AccessClaims{SubjectID: c.Subject, PurchaseID: c.PurchaseID}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	return out, true
}

// IssueLogin mints a login token for a user account.
func (s *TokenService) IssueLogin(userID, email, name string, isAdmin bool) (string, error) {
	if userID == "" {
		return "", errors.New("auth: login token needs a user id")
	}
	now := s.now()

	c := loginClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(LoginTokenTTL)),
			Issuer:    tokenIssuer,
		},
		Kind:    KindLogin,
		Email:   email,
		Name:    name,
		IsAdmin: isAdmin,
	}
	return s.sign(c)
}

// VerifyLogin returns the claims of a valid login token. Any other input,
// including an access credential, yields (nil, false).
func (s *TokenService) VerifyLogin(tokenStr string) (*LoginClaims, bool) {
	var c loginClaims
	if !s.parse(tokenStr, &c) {
		return nil, false
	}
	if c.Kind != KindLogin || c.Subject == "" {
		return nil, false
	}

	out := &LoginClaims{
		UserID:  c.Subject,
		Email:   c.Email,
		Name:    c.Name,
		IsAdmin: c.IsAdmin,
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, true
}

func (s *TokenService) sign(c jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// parse verifies signature, algorithm, issuer and expiry. It reports only
// success: the reason a token was rejected is of no use to callers.
//
// jwt.WithValidMethods pins HS256 so a token claiming alg "none" or an
// asymmetric algorithm is refused before the key is used.
func (s *TokenService) parse(tokenStr string, c jwt.Claims) bool {
	if tokenStr == "" {
		return false
	}
	token, err := jwt.ParseWithClaims(
		tokenStr,
		c,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	return err == nil && token.Valid
}
