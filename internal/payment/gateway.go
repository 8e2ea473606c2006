// Package payment talks to the payment processor: it opens checkout
// sessions, reads their payment state and authenticates webhook deliveries.
package payment

import "context"

// Gateway is the storefront's view of the payment processor.
type Gateway interface {
	// CreateSession opens a hosted checkout for one copy of the product.
	CreateSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	// GetSessionStatus reports whether a session has been paid and who paid.
	// An unknown session id is apperror.NotFound.
	GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error)
	// VerifyWebhook authenticates a raw webhook body against its signature
	// header and decodes it. A bad signature is apperror.InvalidSignature.
	VerifyWebhook(payload []byte, signatureHeader string) (*Event, error)
}

// Product is the single item for sale.
type Product struct {
	Name        string
	Description string
	ImageURL    string
	UnitAmount  int64 // minor currency units
	Currency    string
	Slug        string
}

// CheckoutRequest describes a checkout to open.
type CheckoutRequest struct {
	Email      string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is an opened checkout.
type CheckoutSession struct {
	ID  string
	URL string
}

// SessionStatus is the payment state of a checkout session.
type SessionStatus struct {
	SessionID     string
	Paid          bool
	CustomerEmail string
	CustomerName  string
	Amount        int64
	Currency      string
}

// EventKind classifies a webhook event.
type EventKind int

const (
	// EventIgnored is any event type the storefront does not act on.
	EventIgnored EventKind = iota
	// EventCheckoutCompleted carries the completed session in Event.Session.
	EventCheckoutCompleted
	// EventPaymentSucceeded is logged only.
	EventPaymentSucceeded
)

func (k EventKind) String() string {
	switch k {
	case EventCheckoutCompleted:
		return "checkout_completed"
	case EventPaymentSucceeded:
		return "payment_succeeded"
	default:
		return "ignored"
	}
}

// Event is a verified webhook delivery.
type Event struct {
	ID      string
	Type    string // processor event type, e.g. "checkout.session.completed"
	Kind    EventKind
	Session *SessionStatus // set for EventCheckoutCompleted

	// PaymentIntentID is set for EventPaymentSucceeded.
	PaymentIntentID string
}
