// Package repository declares the storage contracts. Implementations live in
// the sqlite, postgres and memory subpackages.
//
// Lookups that find nothing return apperror.NotFound. Infrastructure failures
// are returned as apperror.StoreUnavailable so callers can tell "no row" from
// "no database" with errors.Is.
package repository

import (
	"context"
	"strings"
	"time"

	"github.com/sakif/ebook-storefront/internal/model"
)

// NormalizeEmail lower-cases and trims an address. Stores keep emails in
// this form so equality is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewPurchase carries the fields of a purchase being recorded. The store
// assigns the id.
type NewPurchase struct {
	UserID        *string
	CustomerEmail string
	CustomerName  string
	SessionID     string
	Amount        int64
	Currency      string
	ProductName   string
	PurchasedAt   time.Time
}

// PurchaseRepository is the purchase ledger.
type PurchaseRepository interface {
	GetBySessionID(ctx context.Context, sessionID string) (*model.Purchase, error)
	GetByID(ctx context.Context, id string) (*model.Purchase, error)

	// CreateIfAbsent records a purchase for p.SessionID unless one exists.
	// It returns the row that is stored afterwards and whether this call
	// created it. Under concurrent calls for one session exactly one caller
	// sees created == true; the rest get the winner's row.
	CreateIfAbsent(ctx context.Context, p NewPurchase) (*model.Purchase, bool, error)

	// ListUnclaimedByEmail returns purchases with no owner whose customer
	// email matches case-insensitively.
	ListUnclaimedByEmail(ctx context.Context, email string) ([]model.Purchase, error)

	// ClaimForUser assigns every unclaimed purchase matching email to
	// userID and returns how many rows changed. Claimed rows are never
	// touched, so repeating the call is a no-op.
	ClaimForUser(ctx context.Context, email, userID string) (int, error)

	// ListByUser returns the user's purchases, newest first.
	ListByUser(ctx context.Context, userID string) ([]model.Purchase, error)

	AttachCredential(ctx context.Context, purchaseID, credential string) error
}

// UserRepository stores storefront accounts.
type UserRepository interface {
	// Create inserts u, assigning ID and timestamps. A taken email is
	// apperror.Conflict.
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByVerificationToken(ctx context.Context, token string) (*model.User, error)
	GetByResetToken(ctx context.Context, token string) (*model.User, error)
	// Update writes every mutable field of u and refreshes UpdatedAt.
	Update(ctx context.Context, u *model.User) error
}

// Store is a storage backend: one ledger and one account table sharing a
// connection.
type Store interface {
	Purchases() PurchaseRepository
	Users() UserRepository
	Ping(ctx context.Context) error
	Close() error
}
