package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const (
	subjectVerify   = "Verify Your Email - AI Prompts That Make You Money"
	subjectReset    = "Reset Your Password - AI Prompts That Make You Money"
	subjectPurchase = "Your AI Prompts Guide is Ready! Start Earning Today"
)

// MailerConfig holds the values the storefront's emails are built from.
type MailerConfig struct {
	BaseURL            string
	ProductName        string
	SupportEmail       string
	PurchaseTemplateID string // SendGrid dynamic template; empty means inline HTML
	AdminEmail         string // receives sale notices; empty disables them
}

// PurchaseNotice describes a newly recorded purchase.
type PurchaseNotice struct {
	Email        string
	CustomerName string
	AccessToken  string
	SessionID    string
	Amount       int64
	Currency     string
	PurchasedAt  time.Time
}

// Mailer composes and sends the storefront's emails.
type Mailer struct {
	sender Sender
	cfg    MailerConfig
	logger *slog.Logger
}

func NewMailer(sender Sender, cfg MailerConfig, logger *slog.Logger) *Mailer {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Mailer{sender: sender, cfg: cfg, logger: logger}
}

// SendVerification mails the link that confirms ownership of an address.
func (m *Mailer) SendVerification(ctx context.Context, email, token string) error {
	link := m.link("/verify-email", "token", token)
	return m.sendHTML(ctx, email, subjectVerify, "verify_email.html",
		map[string]any{"Link": link},
		"Verify your email by visiting: "+link)
}

// SendPasswordReset mails a one-hour reset link.
func (m *Mailer) SendPasswordReset(ctx context.Context, email, token string) error {
	link := m.link("/reset-password", "token", token)
	return m.sendHTML(ctx, email, subjectReset, "reset_password.html",
		map[string]any{"Link": link},
		"Reset your password by visiting: "+link)
}

// NotifyPurchase sends the buyer's confirmation and, when an admin address
// is configured, a sale notice. Only the buyer's email decides the result;
// a failed admin notice is logged.
func (m *Mailer) NotifyPurchase(ctx context.Context, n PurchaseNotice) error {
	err := m.SendPurchaseConfirmation(ctx, n)

	if adminErr := m.SendAdminSaleNotice(ctx, n); adminErr != nil {
		m.logger.Warn("admin sale notice failed",
			slog.String("session_id", n.SessionID),
			slog.String("error", adminErr.Error()),
		)
	}
	return err
}

// SendPurchaseConfirmation mails the buyer their access link. It tries the
// dynamic template first and falls back to the built-in HTML body.
func (m *Mailer) SendPurchaseConfirmation(ctx context.Context, n PurchaseNotice) error {
	link := m.link("/ebook", "token", n.AccessToken)
	name := n.CustomerName
	if name == "" {
		name = "Customer"
	}

	if m.cfg.PurchaseTemplateID != "" {
		err := m.sender.Send(ctx, Message{
			To:         n.Email,
			ToName:     name,
			Subject:    subjectPurchase,
			TemplateID: m.cfg.PurchaseTemplateID,
			TemplateData: map[string]any{
				"customerName": name,
				"accessLink":   link,
				"productName":  m.cfg.ProductName,
				"supportEmail": m.cfg.SupportEmail,
			},
		})
		if err == nil {
			return nil
		}
		m.logger.Warn("purchase template email failed, sending inline body",
			slog.String("session_id", n.SessionID),
			slog.String("error", err.Error()),
		)
	}

	return m.sendHTML(ctx, n.Email, subjectPurchase, "purchase_confirmation.html",
		map[string]any{
			"CustomerName": name,
			"ProductName":  m.cfg.ProductName,
			"Link":         link,
			"SupportEmail": m.cfg.SupportEmail,
		},
		fmt.Sprintf("Thank you for your purchase! Access %s here: %s", m.cfg.ProductName, link))
}

// SendAdminSaleNotice tells the shop owner about a sale. It is a no-op
// without an admin address.
func (m *Mailer) SendAdminSaleNotice(ctx context.Context, n PurchaseNotice) error {
	if m.cfg.AdminEmail == "" {
		return nil
	}
	amount := formatAmount(n.Amount, n.Currency)
	date := n.PurchasedAt.UTC().Format(time.RFC1123)

	return m.sendHTML(ctx, m.cfg.AdminEmail, "New sale: "+m.cfg.ProductName, "admin_sale.html",
		map[string]any{
			"CustomerName": n.CustomerName,
			"Email":        n.Email,
			"ProductName":  m.cfg.ProductName,
			"Amount":       amount,
			"SessionID":    n.SessionID,
			"Date":         date,
		},
		fmt.Sprintf("New sale: %s to %s for %s (session %s, %s)", m.cfg.ProductName, n.Email, amount, n.SessionID, date))
}

func (m *Mailer) sendHTML(ctx context.Context, to, subject, tmpl string, data map[string]any, text string) error {
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, tmpl, data); err != nil {
		return fmt.Errorf("rendering %s: %w", tmpl, err)
	}
	return m.sender.Send(ctx, Message{
		To:      to,
		Subject: subject,
		HTML:    body.String(),
		Text:    text,
	})
}

func (m *Mailer) link(path, key, value string) string {
	return m.cfg.BaseURL + path + "?" + url.Values{key: {value}}.Encode()
}

func formatAmount(minor int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", minor/100, minor%100, strings.ToUpper(currency))
}
