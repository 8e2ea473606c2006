package middleware

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/sakif/ebook-storefront/internal/apperror"
	"github.com/sakif/ebook-storefront/internal/ratelimit"
)

// ErrorWriter renders a domain error as an HTTP response.
type ErrorWriter func(w http.ResponseWriter, err error)

// RateLimit rejects clients that exceed the limiter's budget by passing
// apperror.RateLimited to writeErr.
//
// The key is the client IP. Run it after chi's RealIP so r.RemoteAddr holds
// the forwarded address rather than the proxy's.
//
// If the limiter itself fails (Redis down), the request is let through and
// the failure is logged.
func RateLimit(limiter ratelimit.Limiter, writeErr ErrorWriter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)

			ok, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limiter unavailable, allowing request",
					slog.String("client", key),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				logger.Info("rate limit exceeded",
					slog.String("client", key),
					slog.String("path", r.URL.Path),
				)
				writeErr(w, apperror.RateLimited())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
