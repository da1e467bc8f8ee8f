package httpserver_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/lead-scout/internal/domain"
)

func signBilling(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestBillingWebhook_InvoicePaid_GrantsMonthly(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	body := []byte(`{
		"type": "invoice_paid",
		"user_id": "u1",
		"plan": "entry",
		"status": "active",
		"invoice_id": "inv_100",
		"provider": "paddle"
	}`)
	r := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(string(body)))
	r.Header.Set("X-Signature", signBilling(env.cfg.BillingWebhookSecret, body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "received")
	require.Len(t, env.ledger.entries, 1)
	require.Equal(t, domain.PlanMonthlyCredits["entry"], env.ledger.entries[0].Delta)
	require.Equal(t, "billing_invoice:inv_100", env.ledger.entries[0].Source)
}

func TestBillingWebhook_SubscriptionCreated_UpsertsPlan(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	body := []byte(`{
		"type": "subscription_created",
		"user_id": "u1",
		"plan": "pro",
		"status": "active",
		"provider": "paddle",
		"subscription_id": "sub_9"
	}`)
	r := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(string(body)))
	r.Header.Set("X-Signature", "sha256="+signBilling(env.cfg.BillingWebhookSecret, body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	sub, err := env.subs.GetByUser(nil, "u1")
	require.NoError(t, err)
	require.Equal(t, "pro", sub.PlanKey)
	require.Equal(t, "sub_9", sub.ProviderSubID)
}

func TestBillingWebhook_BadSignature_Returns401(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	body := []byte(`{"type":"invoice_paid","user_id":"u1","plan":"entry","invoice_id":"inv_1"}`)
	r := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(string(body)))
	r.Header.Set("X-Signature", signBilling("wrong-secret", body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "INVALID_SIGNATURE")
	require.Empty(t, env.ledger.entries)
}

func TestBillingWebhook_MissingSignature_Returns401(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	r := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBillingWebhook_RedeliveryIsIdempotent(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	body := []byte(`{"type":"invoice_paid","user_id":"u1","plan":"entry","invoice_id":"inv_dup"}`)
	send := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(string(body)))
		r.Header.Set("X-Signature", signBilling(env.cfg.BillingWebhookSecret, body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		return w
	}
	require.Equal(t, http.StatusOK, send().Code)
	require.Equal(t, http.StatusOK, send().Code)
	require.Len(t, env.ledger.entries, 1)
}

func TestBillingWebhook_UnknownEventAcked(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	body := []byte(`{"type":"payment_method_updated","user_id":"u1"}`)
	r := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(string(body)))
	r.Header.Set("X-Signature", signBilling(env.cfg.BillingWebhookSecret, body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, env.ledger.entries)
}
