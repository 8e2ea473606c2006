package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rs/xid"

	"github.com/sakif/ebook-storefront/internal/apperror"
	"github.com/sakif/ebook-storefront/internal/auth"
	"github.com/sakif/ebook-storefront/internal/model"
	"github.com/sakif/ebook-storefront/internal/service"
)

const stateCookie = "oauth_state"

// GitHubAuthenticator runs the GitHub OAuth exchange.
// *auth.GitHubProvider implements it.
type GitHubAuthenticator interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GitHubUser, error)
}

// AuthHandler serves account registration, login and session endpoints.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister / HandleVerifyEmail      → create and confirm an account
//   - HandleLogin / HandleLogout / HandleMe   → password sessions
//   - HandleResendVerification          → new verification link
//   - HandleForgotPassword / HandleResetPassword
//   - HandleGitHubLogin / HandleGitHubCallback → optional GitHub sign-in
//
// DEPENDENCY CHAIN:
//   - accounts *service.AuthService  → every account rule
//   - github   GitHubAuthenticator   → nil when GitHub sign-in is off
type AuthHandler struct {
	accounts      *service.AuthService
	github        GitHubAuthenticator
	secureCookies bool
	logger        *slog.Logger
}

// NewAuthHandler creates an AuthHandler. github may be nil. secureCookies
// marks cookies Secure and should be true behind HTTPS.
func NewAuthHandler(
	accounts *service.AuthService,
	github GitHubAuthenticator,
	secureCookies bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		accounts:      accounts,
		github:        github,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type tokenRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	EmailVerified bool   `json:"emailVerified"`
	IsAdmin       bool   `json:"isAdmin"`
}

func userResponse(u *model.User) UserResponse {
	return UserResponse{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		EmailVerified: u.EmailVerified,
		IsAdmin:       u.IsAdmin,
	}
}

// LoginResponse carries the login token for API clients.
type LoginResponse struct {
	Message string       `json:"message"`
	Token   string       `json:"token"`
	User    UserResponse `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// HandleRegister creates an unverified account and mails its verification link.
//
// HTTP: POST /api/auth/register
// REQUEST BODY: {"email": "...", "password": "...", "name": "..."}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}

	u, err := h.accounts.Register(r.Context(), body.Email, body.Password, body.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Message string       `json:"message"`
		User    UserResponse `json:"user"`
	}{
		Message: "Registration successful. Please check your email to verify your account.",
		User:    userResponse(u),
	})
}

// HandleVerifyEmail confirms an address from the emailed link.
//
// HTTP: POST /api/auth/verify-email  {"token": "..."}
//
//	GET  /api/auth/verify-email?token=...
func (h *AuthHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if r.Method == http.MethodPost {
		var body tokenRequest
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, err)
			return
		}
		token = body.Token
	}

	already, err := h.accounts.VerifyEmail(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}

	msg := "Email verified successfully. You can now log in."
	if already {
		msg = "Email already verified"
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

// HandleLogin checks a password and returns a login token. The token is
// also set as an HttpOnly cookie for the browser.
//
// HTTP: POST /api/auth/login
// REQUEST BODY: {"email": "...", "password": "..."}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.accounts.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setSessionCookie(w, res.Token)
	writeJSON(w, http.StatusOK, LoginResponse{
		Message: "Login successful",
		Token:   res.Token,
		User:    userResponse(res.User),
	})
}

// HandleResendVerification mails a new verification link to an unverified
// account. The response never reveals whether the account exists.
//
// HTTP: POST /api/auth/resend-verification  {"email": "..."}
func (h *AuthHandler) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}

	if err := h.accounts.ResendVerification(r.Context(), body.Email); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Message: "If an unverified account with that email exists, a new verification link has been sent.",
	})
}

// HandleForgotPassword mails a reset link. The response is the same
// whether or not the account exists.
//
// HTTP: POST /api/auth/forgot-password  {"email": "..."}
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}

	if err := h.accounts.ForgotPassword(r.Context(), body.Email); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Message: "If an account with that email exists, a password reset link has been sent.",
	})
}

// HandleResetPassword sets a new password from an emailed reset token.
//
// HTTP: POST /api/auth/reset-password  {"token": "...", "password": "..."}
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var body tokenRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}

	if err := h.accounts.ResetPassword(r.Context(), body.Token, body.Password); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Password reset successfully. You can now log in."})
}

// HandleGitHubLogin redirects the user to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// CSRF PROTECTION VIA STATE:
// A random state goes into a short-lived HttpOnly cookie and into the
// authorization URL. The callback only proceeds if the two match, which
// proves this server started the flow.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeError(w, apperror.NotFound("sign-in provider", "github"))
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth flow.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for a GitHub profile with a verified email
//  3. Sign in the account with that email, creating it if needed
//  4. Set the login cookie and redirect to the dashboard
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeError(w, apperror.NotFound("sign-in provider", "github"))
		return
	}

	// --- Step 1: Validate CSRF state ---
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || r.URL.Query().Get("state") != cookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// The state cookie is single-use.
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/login?auth=denied", http.StatusSeeOther)
		return
	}

	// --- Step 2: Exchange code for GitHub profile ---
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusBadGateway)
		return
	}

	// --- Step 3: Sign in ---
	res, err := h.accounts.LoginWithGitHub(r.Context(), ghUser)
	if err != nil {
		h.logger.Error("auth callback: sign-in failed",
			slog.Int64("github_id", ghUser.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	// --- Step 4: Cookie and redirect ---
	h.setSessionCookie(w, res.Token)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// HandleLogout clears the login cookie.
//
// HTTP: POST /api/auth/logout
//
// Tokens are stateless, so this only deletes the browser's copy; the token
// itself stays valid until it expires.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

// HandleMe returns the signed-in user's profile.
//
// HTTP: GET /api/me
// Auth: Required
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required", ""))
		return
	}

	u, err := h.accounts.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse(u))
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(auth.LoginTokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
