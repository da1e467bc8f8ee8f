// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the REST API for job submission, upload previews, credit
// account reads, coupon redemption, billing webhooks, and the admin
// credit/stats endpoints. HTTP concerns stay here; business rules live
// in the usecase layer.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/lead-scout/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRawError emits the error envelope for statuses that have no domain
// sentinel (401, 406, 413, 415).
func writeRawError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: message, Details: details}})
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details any) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
		codeStr = "CONFLICT"
	case errors.Is(err, domain.ErrRateLimited):
		code = http.StatusTooManyRequests
		codeStr = "RATE_LIMITED"
	case errors.Is(err, domain.ErrInsufficientCredits):
		code = http.StatusPaymentRequired
		codeStr = "INSUFFICIENT_CREDITS"
	case errors.Is(err, domain.ErrProviderDisabled):
		code = http.StatusServiceUnavailable
		codeStr = "PROVIDER_DISABLED"
	case errors.Is(err, domain.ErrProviderError):
		code = http.StatusBadGateway
		codeStr = "PROVIDER_ERROR"
	case errors.Is(err, domain.ErrMalformedLLMResponse):
		code = http.StatusBadGateway
		codeStr = "PROVIDER_ERROR"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
