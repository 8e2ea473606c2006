package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/ebook-storefront/internal/apperror"
	"github.com/sakif/ebook-storefront/internal/model"
	"github.com/sakif/ebook-storefront/internal/repository"
)

var _ repository.UserRepository = (*UserStore)(nil)

// UserStore is the SQLite account store.
type UserStore struct {
	conn *sql.DB
}

const userColumns = `id, email, name, password_hash, email_verified, is_admin, last_login_at,
	verification_token, verification_expires, reset_token, reset_expires, created_at, updated_at`

// Create inserts a new user. A taken email returns apperror.Conflict.
func (s *UserStore) Create(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	u.ID = xid.New().String()
	u.Email = repository.NormalizeEmail(u.Email)
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, email_verified, is_admin, last_login_at,
			verification_token, verification_expires, reset_token, reset_expires, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID,
		u.Email,
		u.Name,
		u.PasswordHash,
		u.EmailVerified,
		u.IsAdmin,
		nullTime(u.LastLoginAt),
		nullToken(u.VerificationToken),
		nullTime(u.VerificationExpires),
		nullToken(u.ResetToken),
		nullTime(u.ResetExpires),
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", u.Email)
		}
		return apperror.StoreUnavailable("sqlite: inserting user", err)
	}
	return nil
}

// GetByID retrieves a user by their internal ID.
func (s *UserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	return s.getOne(ctx, "id", id)
}

// GetByEmail retrieves a user by email, case-insensitively.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getOne(ctx, "email", repository.NormalizeEmail(email))
}

// GetByVerificationToken retrieves the user holding an email verification token.
func (s *UserStore) GetByVerificationToken(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, apperror.NotFound("user", "verification token")
	}
	return s.getOne(ctx, "verification_token", token)
}

// GetByResetToken retrieves the user holding a password reset token.
func (s *UserStore) GetByResetToken(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, apperror.NotFound("user", "reset token")
	}
	return s.getOne(ctx, "reset_token", token)
}

// Update writes every mutable field of u.
func (s *UserStore) Update(ctx context.Context, u *model.User) error {
	u.UpdatedAt = time.Now().UTC()
	u.Email = repository.NormalizeEmail(u.Email)

	res, err := s.conn.ExecContext(ctx,
		`UPDATE users SET email = ?, name = ?, password_hash = ?, email_verified = ?, is_admin = ?,
			last_login_at = ?, verification_token = ?, verification_expires = ?,
			reset_token = ?, reset_expires = ?, updated_at = ?
		 WHERE id = ?`,
		u.Email,
		u.Name,
		u.PasswordHash,
		u.EmailVerified,
		u.IsAdmin,
		nullTime(u.LastLoginAt),
		nullToken(u.VerificationToken),
		nullTime(u.VerificationExpires),
		nullToken(u.ResetToken),
		nullTime(u.ResetExpires),
		u.UpdatedAt,
		u.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", u.Email)
		}
		return apperror.StoreUnavailable("sqlite: updating user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperror.StoreUnavailable("sqlite: updating user", err)
	}
	if n == 0 {
		return apperror.NotFound("user", u.ID)
	}
	return nil
}

// getOne looks a user up by a single column. column is always a constant
// from this file, never user input.
func (s *UserStore) getOne(ctx context.Context, column, value string) (*model.User, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`,
		value,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", value)
		}
		return nil, apperror.StoreUnavailable("sqlite: getting user by "+column, err)
	}
	return u, nil
}

func scanUser(row scanner) (*model.User, error) {
	var (
		u                   model.User
		lastLogin           sql.NullTime
		verificationToken   sql.NullString
		verificationExpires sql.NullTime
		resetToken          sql.NullString
		resetExpires        sql.NullTime
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.PasswordHash,
		&u.EmailVerified,
		&u.IsAdmin,
		&lastLogin,
		&verificationToken,
		&verificationExpires,
		&resetToken,
		&resetExpires,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.LastLoginAt = timePtr(lastLogin)
	u.VerificationToken = verificationToken.String
	u.VerificationExpires = timePtr(verificationExpires)
	u.ResetToken = resetToken.String
	u.ResetExpires = timePtr(resetExpires)
	return &u, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// nullToken stores an empty token as NULL so the token indexes stay sparse.
func nullToken(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
