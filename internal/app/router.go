package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/lead-scout/internal/adapter/httpserver"
	"github.com/fairyhunter13/lead-scout/internal/adapter/observability"
	"github.com/fairyhunter13/lead-scout/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{"*"}
	}
	if s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	// Security & instrumentation middleware
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// User API. Identity comes from the upstream proxy header.
	r.Route("/v1", func(ur chi.Router) {
		ur.Use(srv.RequireUser)

		// Rate limit mutating endpoints per client IP.
		ur.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
			wr.Post("/jobs", srv.SubmitJobHandler())
			wr.Post("/jobs/{id}/cancel", srv.CancelJobHandler())
			wr.Post("/uploads/preview", srv.UploadPreviewHandler())
			wr.Post("/coupons/redeem", srv.RedeemCouponHandler())
		})

		// Read-only endpoints
		ur.Get("/jobs", srv.ListJobsHandler())
		ur.Get("/jobs/{id}", srv.JobHandler())
		ur.Get("/jobs/{id}/results", srv.JobResultsHandler())
		ur.Get("/account", srv.AccountHandler())
	})

	// Billing provider callbacks authenticate by signature, not user header.
	r.Post("/webhooks/billing", srv.BillingWebhookHandler())

	// Health and metrics
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })
	r.Get("/readyz", srv.ReadyzHandler())

	// Admin API
	if cfg.AdminEnabled() {
		srv.MountAdmin(r)
	}

	return httpserver.SecurityHeaders(r)
}
