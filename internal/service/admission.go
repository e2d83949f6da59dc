// Package service implements the admission checks and the check-and-load
// state machine behind the widget endpoints.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jordanhubbard/quizhub/internal/auth"
	"github.com/jordanhubbard/quizhub/internal/store"
	"github.com/jordanhubbard/quizhub/internal/urlnorm"
)

// Error codes surfaced by the admission path.
const (
	CodeValidation        = "VALIDATION"
	CodePublisherInactive = "PUBLISHER_INACTIVE"
	CodeDomainMismatch    = "DOMAIN_MISMATCH"
	CodeNotWhitelisted    = "NOT_WHITELISTED"
	CodeDailyLimit        = "DAILY_LIMIT_REACHED"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
)

// AdmissionError is a rejection with its API error code and HTTP status.
type AdmissionError struct {
	Code       string
	HTTPStatus int
	Detail     string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func admissionErr(code string, status int, format string, args ...any) *AdmissionError {
	return &AdmissionError{Code: code, HTTPStatus: status, Detail: fmt.Sprintf(format, args...)}
}

// Admit runs the read-only admission checks for an ingest request: active
// publisher, URL normalization, domain match, whitelist match. It returns the
// normalized URL. Slot reservation is a separate, explicitly-rolled-back step.
func Admit(pub *store.Publisher, rawURL string) (string, error) {
	if !pub.Active {
		return "", admissionErr(CodePublisherInactive, http.StatusForbidden,
			"publisher %s is inactive", pub.ID)
	}

	normalized, err := urlnorm.Normalize(rawURL)
	if err != nil {
		return "", admissionErr(CodeValidation, http.StatusBadRequest,
			"invalid blog_url: %v", err)
	}

	host := urlnorm.Domain(normalized)
	if !urlnorm.IsSubdomainOf(host, pub.Domain) {
		return "", admissionErr(CodeDomainMismatch, http.StatusForbidden,
			"host %s does not belong to publisher domain %s", host, pub.Domain)
	}

	if !auth.Whitelisted(normalized, pub.Config.WhitelistedURLPatterns) {
		return "", admissionErr(CodeNotWhitelisted, http.StatusForbidden,
			"url is not covered by the publisher whitelist")
	}

	return normalized, nil
}

// reserveSlot wraps the store reservation, translating quota exhaustion into
// the admission error the API surfaces.
func reserveSlot(ctx context.Context, s store.Store, publisherID, day string) error {
	err := s.ReserveBlogSlot(ctx, publisherID, day)
	if errors.Is(err, store.ErrUsageLimitExceeded) {
		return admissionErr(CodeDailyLimit, http.StatusForbidden,
			"daily blog limit reached for publisher %s", publisherID)
	}
	return err
}
