package model

import "time"

// PurchaseStatus is the lifecycle state of a purchase row.
type PurchaseStatus string

// StatusCompleted is the only status the storefront writes today.
const StatusCompleted PurchaseStatus = "completed"

// GuestSubject is the credential subject used for purchases without an owner.
const GuestSubject = "guest"

// Purchase is the durable record of one completed checkout session.
//
// UserID is nil while the purchase is unclaimed (a guest purchase). Once set
// it is never cleared. SessionID is unique: one row per checkout session.
type Purchase struct {
	ID               string         `json:"id"               db:"id"`
	UserID           *string        `json:"userId,omitempty" db:"user_id"`
	CustomerEmail    string         `json:"customerEmail"    db:"customer_email"`
	CustomerName     string         `json:"customerName"     db:"customer_name"`
	SessionID        string         `json:"sessionId"        db:"stripe_session_id"`
	Amount           int64          `json:"amount"           db:"amount"`
	Currency         string         `json:"currency"         db:"currency"`
	ProductName      string         `json:"productName"      db:"product_name"`
	Status           PurchaseStatus `json:"status"           db:"status"`
	AccessCredential string         `json:"-"                db:"access_token"`
	PurchasedAt      time.Time      `json:"purchasedAt"      db:"purchased_at"`
}

// Claimed reports whether the purchase is bound to a user account.
func (p *Purchase) Claimed() bool {
	return p.UserID != nil && *p.UserID != ""
}

// Subject returns the credential subject for this purchase: the owner's
// user id, or GuestSubject when unclaimed.
func (p *Purchase) Subject() string {
	if p.Claimed() {
		return *p.UserID
	}
	return GuestSubject
}
