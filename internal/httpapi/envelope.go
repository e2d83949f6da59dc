package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jordanhubbard/quizhub/internal/service"
	"github.com/jordanhubbard/quizhub/internal/store"
)

// Envelope is the uniform response shape for every API endpoint.
type Envelope struct {
	Status     string     `json:"status"` // "success" or "error"
	StatusCode int        `json:"status_code"`
	Message    string     `json:"message"`
	Result     any        `json:"result,omitempty"`
	Error      *ErrorBody `json:"error,omitempty"`
	RequestID  string     `json:"request_id"`
	Timestamp  string     `json:"timestamp"`
}

// ErrorBody carries the machine-readable error details.
type ErrorBody struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
	Field  string `json:"field,omitempty"`
}

// Error kind codes not covered by the admission path.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeRateLimited  = "RATE_LIMITED"
	CodeUpstream     = "UPSTREAM"
	CodeInternal     = "INTERNAL"
)

func writeSuccess(w http.ResponseWriter, r *http.Request, status int, message string, result any) {
	writeEnvelope(w, r, Envelope{
		Status:     "success",
		StatusCode: status,
		Message:    message,
		Result:     result,
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, detail, field string) {
	writeEnvelope(w, r, Envelope{
		Status:     "error",
		StatusCode: status,
		Message:    detail,
		Error:      &ErrorBody{Code: code, Detail: detail, Field: field},
	})
}

// writeServiceError maps service and store errors onto the envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	var ae *service.AdmissionError
	if errors.As(err, &ae) {
		writeError(w, r, ae.HTTPStatus, ae.Code, ae.Detail, "")
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, service.CodeNotFound, err.Error(), "")
		return
	}
	log.Error("request failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal error", "")
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, env Envelope) {
	env.RequestID = middleware.GetReqID(r.Context())
	env.Timestamp = time.Now().UTC().Format(time.RFC3339)

	w.Header().Set("Content-Type", "application/json")
	if env.RequestID != "" {
		w.Header().Set("X-Request-ID", env.RequestID)
	}
	w.WriteHeader(env.StatusCode)
	_ = json.NewEncoder(w).Encode(env)
}

// decodeJSON parses a request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
