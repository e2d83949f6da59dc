package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jordanhubbard/quizhub/internal/store"
)

type contextKey string

const publisherContextKey contextKey = "publisher"

// FromContext returns the publisher attached to the request context.
func FromContext(ctx context.Context) *store.Publisher {
	if v, ok := ctx.Value(publisherContextKey).(*store.Publisher); ok {
		return v
	}
	return nil
}

// WithPublisher attaches a publisher to the context. Exposed for handler tests.
func WithPublisher(ctx context.Context, p *store.Publisher) context.Context {
	return context.WithValue(ctx, publisherContextKey, p)
}

// Middleware validates the X-API-Key header on incoming requests and attaches
// the resolved publisher to the context. Returns 401 for missing or invalid
// keys. Active-status checks are left to the handlers so they can answer with
// the proper error code.
func Middleware(mgr *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := r.Header.Get("X-Real-IP")
			if clientIP == "" {
				clientIP = r.RemoteAddr
			}

			key := r.Header.Get("X-API-Key")
			if key == "" {
				slog.Warn("api key auth: missing key", slog.String("ip", clientIP), slog.String("path", r.URL.Path))
				http.Error(w, "api key required", http.StatusUnauthorized)
				return
			}

			if !strings.HasPrefix(key, keyPrefix) {
				slog.Warn("api key auth: invalid format", slog.String("ip", clientIP), slog.String("path", r.URL.Path))
				http.Error(w, "invalid api key format", http.StatusUnauthorized)
				return
			}

			p, err := mgr.Validate(r.Context(), key)
			if err != nil {
				slog.Warn("api key auth: validation failed", slog.String("ip", clientIP), slog.String("path", r.URL.Path), slog.String("error", err.Error()))
				http.Error(w, "invalid api key", http.StatusUnauthorized)
				return
			}

			ctx := WithPublisher(r.Context(), p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminMiddleware requires the X-Admin-Key header to equal the process-wide
// admin key. Comparison is constant-time.
func AdminMiddleware(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminKey == "" {
				http.Error(w, "admin endpoints disabled", http.StatusForbidden)
				return
			}
			got := r.Header.Get("X-Admin-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(adminKey)) != 1 {
				slog.Warn("admin auth: rejected", slog.String("path", r.URL.Path))
				http.Error(w, "invalid admin key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
