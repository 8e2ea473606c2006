// Package model defines the data structures used throughout the application.
package model

import "time"

// User is an optional storefront account. Purchases never require one.
//
// Email is stored lower-cased and is unique. PasswordHash is empty for
// accounts created through GitHub sign-in, which means password login is
// impossible for them until a reset sets one.
type User struct {
	ID            string     `json:"id"            db:"id"`
	Email         string     `json:"email"         db:"email"`
	Name          string     `json:"name"          db:"name"`
	PasswordHash  string     `json:"-"             db:"password_hash"`
	EmailVerified bool       `json:"emailVerified" db:"email_verified"`
	IsAdmin       bool       `json:"isAdmin"       db:"is_admin"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty" db:"last_login_at"`
	CreatedAt     time.Time  `json:"createdAt"     db:"created_at"`
	UpdatedAt     time.Time  `json:"updatedAt"     db:"updated_at"`

	// One-time email tokens. Cleared once used.
	VerificationToken   string     `json:"-" db:"verification_token"`
	VerificationExpires *time.Time `json:"-" db:"verification_expires"`
	ResetToken          string     `json:"-" db:"reset_token"`
	ResetExpires        *time.Time `json:"-" db:"reset_expires"`
}
