// Package main is the entry point for the ebook storefront server.
//
// The main package is kept minimal. Its job is to:
// 1. Read configuration (environment variables, see internal/config)
// 2. Open the infrastructure (store, payment gateway, content, email, limiter)
// 3. Hand everything to internal/server and start it
//
// All actual logic lives in imported packages (internal/server, internal/service, etc.).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sakif/ebook-storefront/internal/auth"
	"github.com/sakif/ebook-storefront/internal/config"
	"github.com/sakif/ebook-storefront/internal/content"
	"github.com/sakif/ebook-storefront/internal/database"
	"github.com/sakif/ebook-storefront/internal/notify"
	"github.com/sakif/ebook-storefront/internal/payment"
	"github.com/sakif/ebook-storefront/internal/ratelimit"
	"github.com/sakif/ebook-storefront/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// slog's default logger reports config errors before LOG_LEVEL is known.
	cfg, err := config.NewConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	logger := newLogger(cfg)

	ctx := context.Background()

	// === 3. OPEN THE STORE ===
	store, err := database.Open(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to open database",
			slog.String("driver", cfg.Database.Driver),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	// The server closes the store once it has shut down.

	// === 4. CONTENT BACKEND ===
	ebook, err := openContent(ctx, cfg)
	if err != nil {
		logger.Error("failed to open content store",
			slog.String("backend", cfg.Content.Backend),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// === 5. PAYMENT GATEWAY ===
	if cfg.Stripe.SecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY not set, checkout and access checks will fail")
	}
	gateway := payment.NewStripeGateway(payment.StripeConfig{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Product: payment.Product{
			Name:        cfg.Product.Name,
			Description: cfg.Product.Description,
			ImageURL:    cfg.Product.ImageURL,
			UnitAmount:  cfg.Product.UnitAmount,
			Currency:    cfg.Product.Currency,
			Slug:        cfg.Product.Slug,
		},
	})

	// === 6. EMAIL ===
	var sender notify.Sender
	if cfg.SendGrid.APIKey != "" {
		sender = notify.NewSendGridSender(cfg.SendGrid.APIKey, cfg.SendGrid.FromEmail, cfg.SendGrid.FromName, cfg.SendGrid.ReplyTo)
	} else {
		logger.Warn("SENDGRID_API_KEY not set, emails will only be logged")
		sender = notify.NewLogSender(logger)
	}

	deps := server.Deps{
		Store:   store,
		Gateway: gateway,
		Content: ebook,
		Sender:  sender,
	}

	// === 7. RATE LIMITING ===
	if cfg.RateLimit.Enabled {
		limiter, err := newLimiter(ctx, cfg.RateLimit)
		if err != nil {
			logger.Error("failed to set up rate limiter", slog.String("error", err.Error()))
			os.Exit(1)
		}
		deps.Limiter = limiter
	}

	// === 8. GITHUB SIGN-IN ===
	// Optional: without a client id the /auth/github routes answer 404.
	if cfg.GitHub.ClientID != "" {
		deps.GitHub = auth.NewGitHubProvider(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.GitHub.CallbackURL)
	}

	// === 9. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, deps, logger)
	if err != nil {
		store.Close()
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func openContent(ctx context.Context, cfg *config.Config) (content.Store, error) {
	c := cfg.Content
	switch c.Backend {
	case "minio":
		return content.NewMinIOStore(c.MinIO.Endpoint, c.MinIO.AccessKey, c.MinIO.SecretKey, c.MinIO.UseSSL, c.Bucket, c.ObjectKey)
	case "s3":
		return content.NewS3Store(ctx, content.S3Options{
			Region:    c.S3.Region,
			AccessKey: c.S3.AccessKey,
			SecretKey: c.S3.SecretKey,
			Endpoint:  c.S3.Endpoint,
			Bucket:    c.Bucket,
			Key:       c.ObjectKey,
		})
	default:
		return content.NewEmbeddedStore(), nil
	}
}

// newLimiter uses Redis when RATE_LIMIT_REDIS_URL is set; replicas then share
// one budget per client.
func newLimiter(ctx context.Context, cfg config.RateLimit) (ratelimit.Limiter, error) {
	if cfg.RedisURL == "" {
		return ratelimit.NewMemoryLimiter(cfg.Requests, cfg.Window), nil
	}
	client, err := ratelimit.Connect(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return ratelimit.NewRedisLimiter(client, cfg.Requests, cfg.Window), nil
}
