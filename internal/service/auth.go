package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/ebook-storefront/internal/apperror"
	"github.com/sakif/ebook-storefront/internal/auth"
	"github.com/sakif/ebook-storefront/internal/model"
	"github.com/sakif/ebook-storefront/internal/repository"
)

const (
	// VerificationTTL is how long an email verification link works.
	VerificationTTL = 24 * time.Hour
	// ResetTTL is how long a password reset link works.
	ResetTTL = time.Hour

	// DetailNeedsVerification marks a login refused because the account's
	// email is not verified yet.
	DetailNeedsVerification = "needs_verification"

	msgInvalidCredentials = "Invalid email or password"
)

// AccountMailer sends the account emails. *notify.Mailer implements it.
type AccountMailer interface {
	SendVerification(ctx context.Context, email, token string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}

// AuthService owns storefront accounts: registration, email verification,
// password login and reset, GitHub sign-in and admin bootstrap.
//
//	AuthHandler (HTTP) → AuthService → UserRepository
//	                                 ↘ TokenService, PasswordService, AccountMailer
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	mailer    AccountMailer
	logger    *slog.Logger
	now       func() time.Time
}

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	mailer AccountMailer,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		mailer:    mailer,
		logger:    logger,
		now:       time.Now,
	}
}

// AuthResult is a signed-in user and their login token.
type AuthResult struct {
	User  *model.User
	Token string
}

// Register creates an unverified account and mails its verification link.
// A mail failure is logged; ResendVerification or a password reset recovers
// the account.
func (s *AuthService) Register(ctx context.Context, email, password, name string) (*model.User, error) {
	email = repository.NormalizeEmail(email)
	name = strings.TrimSpace(name)

	if email == "" || password == "" || name == "" {
		return nil, apperror.ValidationFailed("email", "Email, password, and name are required")
	}
	if !model.ValidEmail(email) {
		return nil, apperror.ValidationFailed("email", "Valid email is required")
	}
	if err := auth.CheckStrength(password); err != nil {
		return nil, apperror.ValidationFailed("password", err.Error())
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	expires := s.now().Add(VerificationTTL)
	u := &model.User{
		Email:               email,
		Name:                name,
		PasswordHash:        hash,
		VerificationToken:   uuid.NewString(),
		VerificationExpires: &expires,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, &apperror.AppError{
				Err:     apperror.ErrConflict,
				Message: "User already exists with this email",
				Field:   "email",
			}
		}
		return nil, err
	}

	if err := s.mailer.SendVerification(ctx, u.Email, u.VerificationToken); err != nil {
		s.logger.Error("verification email failed",
			slog.String("user_id", u.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("user registered", slog.String("user_id", u.ID))
	return u, nil
}

// VerifyEmail marks the account holding token as verified. It reports
// whether the account was already verified.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (alreadyVerified bool, err error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, apperror.ValidationFailed("token", "Verification token is required")
	}

	u, err := s.users.GetByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return false, apperror.ValidationFailed("token", "Invalid or expired verification token")
		}
		return false, err
	}
	if u.VerificationExpires != nil && s.now().After(*u.VerificationExpires) {
		return false, apperror.ValidationFailed("token", "Verification token has expired")
	}
	if u.EmailVerified {
		return true, nil
	}

	u.EmailVerified = true
	u.VerificationToken = ""
	u.VerificationExpires = nil
	if err := s.users.Update(ctx, u); err != nil {
		return false, err
	}

	s.logger.Info("email verified", slog.String("user_id", u.ID))
	return false, nil
}

// ResendVerification mails a fresh verification link to an unverified
// account. Like ForgotPassword it never reports whether the account exists.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	email = repository.NormalizeEmail(email)
	if email == "" {
		return apperror.ValidationFailed("email", "Email is required")
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			s.logger.Error("verification resend lookup failed", slog.String("error", err.Error()))
		}
		return nil
	}
	if u.EmailVerified {
		return nil
	}

	expires := s.now().Add(VerificationTTL)
	u.VerificationToken = uuid.NewString()
	u.VerificationExpires = &expires
	if err := s.users.Update(ctx, u); err != nil {
		s.logger.Error("saving verification token failed",
			slog.String("user_id", u.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if err := s.mailer.SendVerification(ctx, u.Email, u.VerificationToken); err != nil {
		s.logger.Error("verification email failed",
			slog.String("user_id", u.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// ForgotPassword mails a reset link if an account exists for email. The
// outcome is never reported, so the endpoint cannot be used to discover
// accounts; only a missing email is an error.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = repository.NormalizeEmail(email)
	if email == "" {
		return apperror.ValidationFailed("email", "Email is required")
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			s.logger.Error("password reset lookup failed", slog.String("error", err.Error()))
		}
		return nil
	}

	expires := s.now().Add(ResetTTL)
	u.ResetToken = uuid.NewString()
	u.ResetExpires = &expires
	if err := s.users.Update(ctx, u); err != nil {
		s.logger.Error("saving reset token failed",
			slog.String("user_id", u.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if err := s.mailer.SendPasswordReset(ctx, u.Email, u.ResetToken); err != nil {
		s.logger.Error("password reset email failed",
			slog.String("user_id", u.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// ResetPassword sets a new password for the account holding token and
// consumes the token. The reset link was delivered to the account's inbox,
// so using it also verifies the address.
func (s *AuthService) ResetPassword(ctx context.Context, token, password string) error {
	token = strings.TrimSpace(token)
	if token == "" || password == "" {
		return apperror.ValidationFailed("token", "Token and new password are required")
	}
	if err := auth.CheckStrength(password); err != nil {
		return apperror.ValidationFailed("password", err.Error())
	}

	u, err := s.users.GetByResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.ValidationFailed("token", "Invalid or expired reset token")
		}
		return err
	}
	if u.ResetExpires != nil && s.now().After(*u.ResetExpires) {
		return apperror.ValidationFailed("token", "Reset token has expired")
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return fmt.Errorf("service/auth: %w", err)
	}
	u.PasswordHash = hash
	u.ResetToken = ""
	u.ResetExpires = nil
	u.EmailVerified = true
	u.VerificationToken = ""
	u.VerificationExpires = nil
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}

	s.logger.Info("password reset", slog.String("user_id", u.ID))
	return nil
}

// Login checks an email and password and issues a login token. Unknown
// email and wrong password give the same error.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = repository.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperror.ValidationFailed("email", "Email and password are required")
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(msgInvalidCredentials, "")
		}
		return nil, err
	}

	if err := s.passwords.Verify(u.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.Unauthorized(msgInvalidCredentials, "")
		}
		return nil, fmt.Errorf("service/auth: %w", err)
	}
	if !u.EmailVerified {
		return nil, apperror.Unauthorized("Please verify your email before logging in", DetailNeedsVerification)
	}

	return s.signIn(ctx, u, "password")
}

// LoginWithGitHub signs in the account whose email matches the GitHub
// profile's verified email, creating a verified account if there is none.
func (s *AuthService) LoginWithGitHub(ctx context.Context, gh *auth.GitHubUser) (*AuthResult, error) {
	if gh == nil || gh.Email == "" {
		return nil, apperror.ValidationFailed("email", "GitHub account has no verified email")
	}
	email := repository.NormalizeEmail(gh.Email)

	u, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if !u.EmailVerified {
			// GitHub has verified the address for us.
			u.EmailVerified = true
			u.VerificationToken = ""
			u.VerificationExpires = nil
		}
	case errors.Is(err, apperror.ErrNotFound):
		u = &model.User{
			Email:         email,
			Name:          gh.DisplayName(),
			EmailVerified: true,
		}
		if err := s.users.Create(ctx, u); err != nil {
			return nil, err
		}
		s.logger.Info("user registered via GitHub",
			slog.String("user_id", u.ID),
			slog.String("login", gh.Login),
		)
	default:
		return nil, err
	}

	return s.signIn(ctx, u, "github")
}

// BootstrapAdmin creates a verified administrator, or promotes the existing
// account for email and sets its password.
func (s *AuthService) BootstrapAdmin(ctx context.Context, email, name, password string) (*model.User, error) {
	email = repository.NormalizeEmail(email)
	if !model.ValidEmail(email) {
		return nil, apperror.ValidationFailed("email", "Valid email is required")
	}
	if err := auth.CheckStrength(password); err != nil {
		return nil, apperror.ValidationFailed("password", err.Error())
	}
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	u, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		u.IsAdmin = true
		u.EmailVerified = true
		u.PasswordHash = hash
		u.VerificationToken = ""
		u.VerificationExpires = nil
		if name = strings.TrimSpace(name); name != "" {
			u.Name = name
		}
		if err := s.users.Update(ctx, u); err != nil {
			return nil, err
		}
		s.logger.Info("user promoted to admin", slog.String("user_id", u.ID))
	case errors.Is(err, apperror.ErrNotFound):
		if name = strings.TrimSpace(name); name == "" {
			name = "Admin"
		}
		u = &model.User{
			Email:         email,
			Name:          name,
			PasswordHash:  hash,
			EmailVerified: true,
			IsAdmin:       true,
		}
		if err := s.users.Create(ctx, u); err != nil {
			return nil, err
		}
		s.logger.Info("admin created", slog.String("user_id", u.ID))
	default:
		return nil, err
	}
	return u, nil
}

// GetUserByID returns the account for id.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.ValidationFailed("id", "user ID is required")
	}
	return s.users.GetByID(ctx, id)
}

func (s *AuthService) signIn(ctx context.Context, u *model.User, method string) (*AuthResult, error) {
	now := s.now()
	u.LastLoginAt = &now
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}

	token, err := s.tokens.IssueLogin(u.ID, u.Email, u.Name, u.IsAdmin)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing login token for %s: %w", u.ID, err)
	}

	s.logger.Info("user signed in",
		slog.String("user_id", u.ID),
		slog.String("method", method),
		slog.Bool("admin", u.IsAdmin),
	)
	return &AuthResult{User: u, Token: token}, nil
}
