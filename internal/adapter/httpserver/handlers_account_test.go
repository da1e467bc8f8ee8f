package httpserver_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/lead-scout/internal/domain"
)

func TestAccount_ReturnsBalanceAndPlan(t *testing.T) {
	env := newTestEnv()
	periodEnd := time.Now().UTC().AddDate(0, 1, 0)
	require.NoError(t, env.subs.Upsert(nil, domain.Subscription{
		UserID:           "u1",
		PlanKey:          "pro",
		Status:           "active",
		CurrentPeriodEnd: &periodEnd,
	}))
	router := env.router()

	r := httptest.NewRequest(http.MethodGet, "/v1/account", nil)
	r.Header.Set("X-User-Id", "u1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		UserID     string `json:"user_id"`
		Balance    int64  `json:"balance"`
		Plan       string `json:"plan"`
		PlanStatus string `json:"plan_status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "u1", resp.UserID)
	require.Equal(t, int64(100), resp.Balance)
	require.Equal(t, "pro", resp.Plan)
	require.Equal(t, "active", resp.PlanStatus)
}

func TestRedeemCoupon_GrantsOnce(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	redeem := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/v1/coupons/redeem", strings.NewReader(`{"code":"LAUNCH50"}`))
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("X-User-Id", "u1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		return w
	}

	w := redeem()
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Code    string `json:"code"`
		Credits int64  `json:"credits"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "LAUNCH50", resp.Code)
	require.Equal(t, int64(50), resp.Credits)

	// Second redemption replays the original grant without double-crediting.
	w2 := redeem()
	require.Equal(t, http.StatusOK, w2.Code)
	require.Len(t, env.ledger.entries, 1)
}

func TestRedeemCoupon_UnknownCode_Returns404(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	r := httptest.NewRequest(http.MethodPost, "/v1/coupons/redeem", strings.NewReader(`{"code":"NOPE"}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-User-Id", "u1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestRedeemCoupon_MissingCode_Returns400(t *testing.T) {
	env := newTestEnv()
	router := env.router()

	r := httptest.NewRequest(http.MethodPost, "/v1/coupons/redeem", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-User-Id", "u1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
