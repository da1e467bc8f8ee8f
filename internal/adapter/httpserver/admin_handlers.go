package httpserver

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/lead-scout/internal/config"
	"github.com/fairyhunter13/lead-scout/internal/domain"
)

// AdminServer exposes the operator surface: login, manual credit moves,
// system stats and CSV exports. Everything past login sits behind
// AuthRequired.
type AdminServer struct {
	cfg      config.Config
	sessions *SessionManager
	server   *Server
}

// NewAdminServer creates an admin server bound to the main server's services.
func NewAdminServer(cfg config.Config, server *Server) *AdminServer {
	return &AdminServer{cfg: cfg, sessions: NewSessionManager(cfg), server: server}
}

// MountRoutes mounts the admin routes on the router.
func (a *AdminServer) MountRoutes(r chi.Router) {
	r.Route("/admin", func(ar chi.Router) {
		ar.Post("/login", a.LoginHandler())
		ar.Group(func(pr chi.Router) {
			pr.Use(a.sessions.AuthRequired)
			pr.Post("/logout", a.LogoutHandler())
			pr.Post("/credits/adjust", a.AdjustCreditsHandler())
			pr.Post("/credits/set", a.SetCreditsHandler())
			pr.Get("/stats", a.StatsHandler())
			pr.Get("/export/jobs.csv", a.ExportJobsCSV())
			pr.Get("/export/results.csv", a.ExportResultsCSV())
		})
	})
}

// LoginHandler exchanges admin credentials for a session token. The token is
// set as a cookie and also returned so API clients can send it as a Bearer
// token.
func (a *AdminServer) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req struct {
			Username string `json:"username" validate:"required"`
			Password string `json:"password" validate:"required"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		if !credentialsMatch(a.cfg, req.Username, req.Password) {
			LoggerFrom(r).Warn("admin login rejected", "username", req.Username)
			writeRawError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid credentials", nil)
			return
		}
		token, err := a.sessions.CreateSession(req.Username)
		if err != nil {
			writeError(w, r, fmt.Errorf("op=admin.login: %w", err), nil)
			return
		}
		a.sessions.SetSessionCookie(w, token)
		writeJSON(w, http.StatusOK, map[string]any{
			"token":      token,
			"expires_at": time.Now().Add(adminSessionTTL).UTC(),
		})
	}
}

// LogoutHandler clears the admin session cookie.
func (a *AdminServer) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		a.sessions.ClearSessionCookie(w)
		writeJSON(w, http.StatusOK, map[string]any{"logged_out": true})
	}
}

// AdjustCreditsHandler appends a signed manual delta to a user's ledger.
func (a *AdminServer) AdjustCreditsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req struct {
			UserID      string `json:"user_id" validate:"required"`
			Delta       int64  `json:"delta" validate:"required"`
			Reason      string `json:"reason" validate:"max=500"`
			ExpiresDays int    `json:"expires_days" validate:"min=0,max=3650"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		balance, err := a.server.Credits.AdminAdjust(r.Context(), req.UserID, req.Delta, req.Reason, req.ExpiresDays)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		admin, _ := SessionFrom(r)
		LoggerFrom(r).Info("admin credit adjust",
			"admin", adminName(admin),
			"user_id", req.UserID,
			"delta", req.Delta,
			"balance", balance)
		writeJSON(w, http.StatusOK, map[string]any{"user_id": req.UserID, "balance": balance})
	}
}

// SetCreditsHandler moves a user's effective balance to an exact target.
func (a *AdminServer) SetCreditsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req struct {
			UserID      string `json:"user_id" validate:"required"`
			Balance     *int64 `json:"balance" validate:"required,min=0"`
			Reason      string `json:"reason" validate:"max=500"`
			ExpiresDays int    `json:"expires_days" validate:"min=0,max=3650"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		balance, err := a.server.Credits.AdminSet(r.Context(), req.UserID, *req.Balance, req.Reason, req.ExpiresDays)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		admin, _ := SessionFrom(r)
		LoggerFrom(r).Info("admin credit set",
			"admin", adminName(admin),
			"user_id", req.UserID,
			"target", *req.Balance,
			"balance", balance)
		writeJSON(w, http.StatusOK, map[string]any{"user_id": req.UserID, "balance": balance})
	}
}

// StatsHandler returns system-wide job, contact, credit and cost counters.
func (a *AdminServer) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.server.Stats == nil {
			writeRawError(w, http.StatusServiceUnavailable, "PROVIDER_DISABLED", "stats not available", nil)
			return
		}
		stats, err := a.server.Stats.Summary(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"jobs": map[string]any{
				"total":     stats.TotalJobs,
				"by_status": stats.JobsByStatus,
			},
			"decision_makers": map[string]any{"total": stats.TotalDecisionMakers},
			"users":           map[string]any{"total": stats.TotalUsers},
			"credits":         map[string]any{"spent": stats.CreditsSpent},
			"costs": map[string]any{
				"llm_usd":    stats.LLMCostUSD,
				"serper_usd": stats.SerperCostUSD,
				"total_usd":  stats.TotalCostUSD,
			},
		})
	}
}

// ExportJobsCSV streams recent jobs as CSV.
func (a *AdminServer) ExportJobsCSV() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.server.Stats == nil {
			writeRawError(w, http.StatusServiceUnavailable, "PROVIDER_DISABLED", "exports not available", nil)
			return
		}
		limit := ClampLimit(r.URL.Query().Get("limit"), 1000, 10000)
		jobs, err := a.server.Stats.RecentJobs(r.Context(), limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="jobs.csv"`)
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{
			"id", "user_id", "support_id", "filename", "status", "stop_reason",
			"total_companies", "processed_companies", "decision_makers_found", "credits_spent",
			"llm_calls_started", "llm_calls_succeeded", "serper_calls", "llm_total_tokens",
			"llm_cost_usd", "serper_cost_usd", "total_cost_usd", "cost_per_contact_usd",
			"created_at", "updated_at",
		})
		for _, j := range jobs {
			stopReason := ""
			if j.StopReason != nil {
				stopReason = *j.StopReason
			}
			_ = cw.Write([]string{
				strconv.FormatInt(j.ID, 10),
				j.UserID,
				j.SupportID,
				j.Filename,
				string(j.Status),
				stopReason,
				strconv.Itoa(j.TotalCompanies),
				strconv.Itoa(j.ProcessedCompanies),
				strconv.Itoa(j.DecisionMakersFound),
				strconv.FormatInt(j.CreditsSpent, 10),
				strconv.FormatInt(j.LLMCallsStarted, 10),
				strconv.FormatInt(j.LLMCallsSucceeded, 10),
				strconv.FormatInt(j.SerperCalls, 10),
				strconv.FormatInt(j.LLMTotalTokens, 10),
				formatUSD(j.LLMCostUSD),
				formatUSD(j.SerperCostUSD),
				formatUSD(j.TotalCostUSD),
				formatUSD(j.CostPerContactUSD),
				j.CreatedAt.UTC().Format(time.RFC3339),
				j.UpdatedAt.UTC().Format(time.RFC3339),
			})
		}
		cw.Flush()
	}
}

// ExportResultsCSV streams recent decision makers as CSV.
func (a *AdminServer) ExportResultsCSV() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.server.Stats == nil {
			writeRawError(w, http.StatusServiceUnavailable, "PROVIDER_DISABLED", "exports not available", nil)
			return
		}
		limit := ClampLimit(r.URL.Query().Get("limit"), 1000, 10000)
		contacts, err := a.server.Stats.RecentDecisionMakers(r.Context(), limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="results.csv"`)
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{
			"id", "job_id", "user_id",
			"company_name", "company_type", "company_city", "company_country",
			"company_website", "company_address", "gmaps_rating", "gmaps_reviews",
			"name", "title", "platform", "profile_url", "emails_found", "confidence",
			"created_at",
		})
		for _, dm := range contacts {
			rating := ""
			if dm.GmapsRating != nil {
				rating = strconv.FormatFloat(*dm.GmapsRating, 'f', -1, 64)
			}
			reviews := ""
			if dm.GmapsReviews != nil {
				reviews = strconv.Itoa(*dm.GmapsReviews)
			}
			_ = cw.Write([]string{
				strconv.FormatInt(dm.ID, 10),
				strconv.FormatInt(dm.JobID, 10),
				dm.UserID,
				dm.CompanyName,
				dm.CompanyType,
				dm.CompanyCity,
				dm.CompanyCountry,
				dm.CompanyWebsite,
				dm.CompanyAddress,
				rating,
				reviews,
				dm.Name,
				dm.Title,
				dm.Platform,
				dm.ProfileURL,
				dm.EmailsFound,
				dm.Confidence,
				dm.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		cw.Flush()
	}
}

func adminName(s *SessionData) string {
	if s == nil {
		return ""
	}
	return s.Username
}

func formatUSD(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
