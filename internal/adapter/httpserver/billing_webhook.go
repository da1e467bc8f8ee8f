package httpserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fairyhunter13/lead-scout/internal/domain"
	"github.com/fairyhunter13/lead-scout/internal/usecase"
)

// billingSignatureHeader carries the hex HMAC-SHA256 of the raw body.
const billingSignatureHeader = "X-Signature"

// billingEventRequest is the provider-agnostic webhook wire shape.
type billingEventRequest struct {
	Type             string     `json:"type"`
	UserID           string     `json:"user_id"`
	Plan             string     `json:"plan"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"current_period_end"`
	InvoiceID        string     `json:"invoice_id"`
	Credits          int64      `json:"credits"`
	Provider         string     `json:"provider"`
	SubscriptionID   string     `json:"subscription_id"`
	CustomerID       string     `json:"customer_id"`
}

// verifyBillingSignature checks the hex HMAC-SHA256 signature over body.
// A "sha256=" prefix on the header value is tolerated.
func verifyBillingSignature(secret string, body []byte, header string) bool {
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	got, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}

// BillingWebhookHandler verifies and applies one billing provider delivery.
// Unknown event types are acknowledged so providers stop retrying them.
func (s *Server) BillingWebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Cfg.BillingWebhookSecret == "" {
			writeRawError(w, http.StatusServiceUnavailable, "PROVIDER_DISABLED", "billing webhook not configured", nil)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			if isBodyTooLarge(err) {
				writeRawError(w, http.StatusRequestEntityTooLarge, "INVALID_ARGUMENT", "payload too large", nil)
				return
			}
			writeError(w, r, fmt.Errorf("%w: body read: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		if !verifyBillingSignature(s.Cfg.BillingWebhookSecret, body, r.Header.Get(billingSignatureHeader)) {
			writeRawError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
			return
		}
		var req billingEventRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		ev := usecase.BillingEvent{
			Type:           req.Type,
			UserID:         req.UserID,
			PlanKey:        req.Plan,
			Status:         req.Status,
			PeriodEnd:      req.CurrentPeriodEnd,
			InvoiceID:      req.InvoiceID,
			Credits:        req.Credits,
			Provider:       req.Provider,
			SubscriptionID: req.SubscriptionID,
			CustomerID:     req.CustomerID,
		}
		if err := s.Credits.HandleBillingEvent(r.Context(), ev); err != nil {
			writeError(w, r, fmt.Errorf("billing event: %w", err), nil)
			return
		}
		LoggerFrom(r).Info("billing webhook applied",
			"type", req.Type,
			"user_id", req.UserID,
			"invoice_id", req.InvoiceID)
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
	}
}
