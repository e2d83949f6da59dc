// Package logging configures the process-wide slog logger. All output is
// JSON, and every record passes through a redaction layer so publisher API
// keys, the admin key, and request payloads never reach the log stream.
package logging

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

const redactedPlaceholder = "[REDACTED]"

// exactSensitiveKeys are attribute names redacted by exact (case-insensitive)
// match: auth headers and raw payload attributes.
var exactSensitiveKeys = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
	"x-api-key":           {},
	"x-admin-key":         {},
	"cookie":              {},
	"set-cookie":          {},
	"body":                {},
	"request_body":        {},
	"req_body":            {},
}

// sensitiveMarkers redact any attribute whose name contains one of them, so
// api_key, access_token, client_secret and the like are all caught.
var sensitiveMarkers = []string{"key", "token", "secret", "password"}

// globalLevel backs the JSON handler so SetLevel can retune a running
// process without rebuilding the logger.
var globalLevel = new(slog.LevelVar)

// Setup builds the redacting JSON logger, installs it as the slog default,
// and returns it.
func Setup(level string) *slog.Logger {
	SetLevel(level)
	logger := slog.New(&RedactingHandler{
		base: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: globalLevel}),
	})
	slog.SetDefault(logger)
	return logger
}

// SetLevel adjusts the global log level at runtime. Unrecognized values fall
// back to info.
func SetLevel(level string) {
	switch level {
	case "debug":
		globalLevel.Set(slog.LevelDebug)
	case "warn":
		globalLevel.Set(slog.LevelWarn)
	case "error":
		globalLevel.Set(slog.LevelError)
	default:
		globalLevel.Set(slog.LevelInfo)
	}
}

func sensitive(key string) bool {
	k := strings.ToLower(key)
	if _, ok := exactSensitiveKeys[k]; ok {
		return true
	}
	for _, marker := range sensitiveMarkers {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

func scrub(a slog.Attr) slog.Attr {
	if sensitive(a.Key) {
		return slog.String(a.Key, redactedPlaceholder)
	}
	return a
}

// RedactingHandler wraps an slog.Handler and scrubs sensitive attribute
// values on every code path, including attrs attached via With.
type RedactingHandler struct {
	base slog.Handler
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	clean := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(scrub(a))
		return true
	})
	return h.base.Handle(ctx, clean)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		clean = append(clean, scrub(a))
	}
	return &RedactingHandler{base: h.base.WithAttrs(clean)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{base: h.base.WithGroup(name)}
}

// RequestLogger returns middleware that emits one structured line per HTTP
// request. Headers and bodies are never logged, only request metadata.
func RequestLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = middleware.GetReqID(r.Context())
			}

			next.ServeHTTP(ww, r)

			logger.Info("http_request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", reqID),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
