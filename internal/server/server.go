// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It decides which URL patterns map to
// which handlers, which middleware runs on which routes, and how the server
// starts and stops.
//
// DEPENDENCY INJECTION FLOW:
// cmd/server/main.go opens the infrastructure (store, payment gateway,
// content store, rate limiter, email sender) and passes it in as Deps.
// New builds the services and handlers on top:
//
//	repository.Store ─┬→ AccessService ─→ AccessHandler, DownloadHandler
//	payment.Gateway ──┤      ↑
//	notify.Mailer ────┘  WebhookService ─→ WebhookHandler
//
// This is the "composition root": every dependency is wired here and
// nowhere else.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/ebook-storefront/internal/auth"
	"github.com/sakif/ebook-storefront/internal/config"
	"github.com/sakif/ebook-storefront/internal/content"
	"github.com/sakif/ebook-storefront/internal/handler"
	"github.com/sakif/ebook-storefront/internal/middleware"
	"github.com/sakif/ebook-storefront/internal/notify"
	"github.com/sakif/ebook-storefront/internal/payment"
	"github.com/sakif/ebook-storefront/internal/ratelimit"
	"github.com/sakif/ebook-storefront/internal/repository"
	"github.com/sakif/ebook-storefront/internal/service"
)

// Deps is the infrastructure the server runs on.
type Deps struct {
	Store   repository.Store
	Gateway payment.Gateway
	Content content.Store
	Sender  notify.Sender

	// Limiter throttles the sensitive endpoints. Nil disables throttling.
	Limiter ratelimit.Limiter
	// GitHub enables GitHub sign-in. Nil disables it.
	GitHub handler.GitHubAuthenticator
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store. Start closes it after the last in-flight
// request has finished.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	store  repository.Store
}

// New creates a Server and wires every route.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Store == nil || deps.Gateway == nil || deps.Content == nil || deps.Sender == nil {
		return nil, errors.New("server: store, gateway, content and sender are required")
	}

	tokens, err := auth.NewTokenService(cfg.JWT.Secret)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		store:  deps.Store,
	}
	s.setupRoutes(deps, tokens)
	return s, nil
}

// Handler returns the root handler. Tests drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz                         → store ping
// POST   /api/create-checkout-session     → open a Stripe checkout        [limited]
// POST   /api/verify-access               → access decision               [limited, optional auth]
// POST   /api/download                    → stream the ebook              [limited, optional auth]
// GET    /api/download?token=             → stream the ebook (email link) [limited, optional auth]
// POST   /api/webhook                     → Stripe events
// POST   /api/auth/register|login|resend-verification|forgot-password|reset-password [limited]
// GET    /api/auth/verify-email?token=    (POST with a JSON body also works)
// POST   /api/auth/logout
// GET    /api/me                          → profile                       [auth]
// GET    /api/user/purchases              → purchase history + merge      [auth]
// GET    /auth/github/login|callback      → GitHub sign-in
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: unique id per request, picked up by the logger
// 2. RealIP: client IP from proxy headers, used by the rate limiter
// 3. Logger: logs each request with timing info
// 4. Recoverer: turns panics into 500s instead of crashing
func (s *Server) setupRoutes(deps Deps, tokens *auth.TokenService) {
	cfg := s.config
	logger := s.logger

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(logger))
	s.router.Use(chimiddleware.Recoverer)

	// === Services ===
	mailer := notify.NewMailer(deps.Sender, notify.MailerConfig{
		BaseURL:            cfg.BaseURL,
		ProductName:        cfg.Product.Name,
		SupportEmail:       cfg.SendGrid.SupportEmail,
		PurchaseTemplateID: cfg.SendGrid.PurchaseTemplateID,
		AdminEmail:         cfg.AdminEmail,
	}, logger)

	purchases := deps.Store.Purchases()
	users := deps.Store.Users()

	accessService := service.NewAccessService(purchases, users, deps.Gateway, tokens, mailer, cfg.Product.Name, logger)
	authService := service.NewAuthService(users, tokens, auth.NewPasswordService(), mailer, logger)

	// === Handlers ===
	accessHandler := handler.NewAccessHandler(accessService, logger)
	downloadHandler := handler.NewDownloadHandler(accessService, deps.Content, cfg.Product.FileName, cfg.HTTP.UpstreamTimeout, logger)
	checkoutHandler := handler.NewCheckoutHandler(service.NewCheckoutService(deps.Gateway, logger), cfg.BaseURL, logger)
	webhookHandler := handler.NewWebhookHandler(service.NewWebhookService(deps.Gateway, accessService, logger), logger)
	purchasesHandler := handler.NewPurchasesHandler(service.NewPurchaseService(purchases, users, logger), logger)
	authHandler := handler.NewAuthHandler(authService, deps.GitHub, strings.HasPrefix(cfg.BaseURL, "https://"), logger)

	limited := func(next http.Handler) http.Handler { return next }
	if deps.Limiter != nil {
		limited = middleware.RateLimit(deps.Limiter, handler.WriteError, logger)
	}

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Downloads stream past the upstream timeout; the handler bounds
		// the access decision on its own.
		r.Group(func(r chi.Router) {
			r.Use(limited)
			r.Use(auth.OptionalAuth(tokens))
			r.Post("/download", downloadHandler.HandleDownloadPost)
			r.Get("/download", downloadHandler.HandleDownloadGet)
		})

		r.Group(func(r chi.Router) {
			// Bounds every ledger and gateway call made while serving a request.
			r.Use(chimiddleware.Timeout(cfg.HTTP.UpstreamTimeout))

			r.Post("/webhook", webhookHandler.HandleStripe)

			r.Group(func(r chi.Router) {
				r.Use(limited)
				r.Post("/create-checkout-session", checkoutHandler.HandleCreate)

				r.Group(func(r chi.Router) {
					r.Use(auth.OptionalAuth(tokens))
					r.Post("/verify-access", accessHandler.HandleVerifyAccess)
				})

				r.Post("/auth/register", authHandler.HandleRegister)
				r.Post("/auth/login", authHandler.HandleLogin)
				r.Post("/auth/resend-verification", authHandler.HandleResendVerification)
				r.Post("/auth/forgot-password", authHandler.HandleForgotPassword)
				r.Post("/auth/reset-password", authHandler.HandleResetPassword)
			})

			r.Get("/auth/verify-email", authHandler.HandleVerifyEmail)
			r.Post("/auth/verify-email", authHandler.HandleVerifyEmail)
			r.Post("/auth/logout", authHandler.HandleLogout)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth(tokens))
				r.Get("/me", authHandler.HandleMe)
				r.Get("/user/purchases", purchasesHandler.HandleList)
			})
		})
	})

	s.router.Get("/auth/github/login", authHandler.HandleGitHubLogin)
	s.router.Get("/auth/github/callback", authHandler.HandleGitHubCallback)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (HTTP_SHUTDOWN_TIMEOUT)
// 3. Close the store
//
// An access check interrupted half-way is safe to retry: the ledger write
// is idempotent on the session id.
func (s *Server) Start() error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("closing store", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTP.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.HTTP.ReadTimeout,
		WriteTimeout: s.config.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.HTTP.Port),
			slog.String("base_url", s.config.BaseURL),
			slog.String("database", s.config.Database.Driver),
			slog.String("content", s.config.Content.Backend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.HTTP.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
