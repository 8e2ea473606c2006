package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/sakif/ebook-storefront/internal/apperror"
	"github.com/sakif/ebook-storefront/internal/model"
)

const (
	eventCheckoutCompleted = "checkout.session.completed"
	eventPaymentSucceeded  = "payment_intent.succeeded"

	metadataEmail   = "customer_email"
	metadataProduct = "product"

	// defaultCustomerName is recorded when the processor has no name.
	defaultCustomerName = "Customer"
)

var _ Gateway = (*StripeGateway)(nil)

// StripeConfig configures a StripeGateway.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Product       Product

	// Backends overrides the API endpoint. Tests point it at httptest.
	Backends *stripe.Backends
}

// StripeGateway is the Gateway backed by Stripe Checkout.
type StripeGateway struct {
	sc            *client.API
	webhookSecret string
	product       Product
}

// NewStripeGateway builds a gateway with its own API client; no package
// globals are touched.
func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	sc := &client.API{}
	sc.Init(cfg.SecretKey, cfg.Backends)

	return &StripeGateway{
		sc:            sc,
		webhookSecret: cfg.WebhookSecret,
		product:       cfg.Product,
	}
}

func (g *StripeGateway) CreateSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if !model.ValidEmail(req.Email) {
		return nil, apperror.ValidationFailed("email", "valid email is required")
	}

	productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name:        stripe.String(g.product.Name),
		Description: stripe.String(g.product.Description),
	}
	if g.product.ImageURL != "" {
		productData.Images = stripe.StringSlice([]string{g.product.ImageURL})
	}

	params := &stripe.CheckoutSessionParams{
		CustomerEmail:      stripe.String(req.Email),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String(g.product.Currency),
					ProductData: productData,
					UnitAmount:  stripe.Int64(g.product.UnitAmount),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata(metadataEmail, req.Email)
	params.AddMetadata(metadataProduct, g.product.Slug)

	s, err := g.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, classify("create checkout session", "", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	if sessionID == "" {
		return nil, apperror.ValidationFailed("session_id", "session id is required")
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := g.sc.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, classify("get checkout session", sessionID, err)
	}
	return statusFromSession(s), nil
}

// VerifyWebhook checks the Stripe-Signature header (HMAC and timestamp
// tolerance) before decoding anything.
func (g *StripeGateway) VerifyWebhook(payload []byte, signatureHeader string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, apperror.InvalidSignature(err)
	}

	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	switch out.Type {
	case eventCheckoutCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return nil, apperror.ValidationFailed("payload", fmt.Sprintf("decoding checkout session: %v", err))
		}
		out.Kind = EventCheckoutCompleted
		out.Session = statusFromSession(&s)
	case eventPaymentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, apperror.ValidationFailed("payload", fmt.Sprintf("decoding payment intent: %v", err))
		}
		out.Kind = EventPaymentSucceeded
		out.PaymentIntentID = pi.ID
	default:
		out.Kind = EventIgnored
	}
	return out, nil
}

// statusFromSession reads the payer's email from the customer details,
// then the prefilled customer_email, then our own metadata.
func statusFromSession(s *stripe.CheckoutSession) *SessionStatus {
	st := &SessionStatus{
		SessionID: s.ID,
		Paid:      s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Amount:    s.AmountTotal,
		Currency:  string(s.Currency),
	}
	if s.CustomerDetails != nil {
		st.CustomerEmail = s.CustomerDetails.Email
		st.CustomerName = s.CustomerDetails.Name
	}
	if st.CustomerEmail == "" {
		st.CustomerEmail = s.CustomerEmail
	}
	if st.CustomerEmail == "" && s.Metadata != nil {
		st.CustomerEmail = s.Metadata[metadataEmail]
	}
	if st.CustomerName == "" {
		st.CustomerName = defaultCustomerName
	}
	return st
}

// classify maps a Stripe client error onto the storefront's error taxonomy.
func classify(op, sessionID string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.Code == stripe.ErrorCodeResourceMissing, se.HTTPStatusCode == http.StatusNotFound:
			return apperror.NotFound("checkout session", sessionID)
		case se.Type == stripe.ErrorTypeInvalidRequest && se.HTTPStatusCode == http.StatusBadRequest:
			return apperror.ValidationFailed(se.Param, se.Msg)
		}
	}
	return apperror.GatewayUnavailable(op, err)
}
