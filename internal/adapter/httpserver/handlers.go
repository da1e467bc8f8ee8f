package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/lead-scout/internal/config"
	"github.com/fairyhunter13/lead-scout/internal/domain"
	"github.com/fairyhunter13/lead-scout/internal/usecase"
)

// UserIDHeader names the trusted identity header set by the upstream proxy
// after it authenticates the caller.
const UserIDHeader = "X-User-Id"

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Jobs       usecase.JobService
	Credits    usecase.CreditService
	Uploads    usecase.UploadService
	Users      domain.UserDirectory
	Stats      domain.StatsRepository
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
	KafkaCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, jobs usecase.JobService, credits usecase.CreditService, uploads usecase.UploadService, users domain.UserDirectory, stats domain.StatsRepository, dbCheck, redisCheck, kafkaCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Jobs: jobs, Credits: credits, Uploads: uploads, Users: users, Stats: stats, DBCheck: dbCheck, RedisCheck: redisCheck, KafkaCheck: kafkaCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// acceptsJSON reports whether the client can take a JSON response.
func acceptsJSON(r *http.Request) bool {
	a := r.Header.Get("Accept")
	return a == "" || a == "*/*" || strings.Contains(a, "application/json")
}

func notAcceptable(w http.ResponseWriter, r *http.Request) {
	writeRawError(w, http.StatusNotAcceptable, "INVALID_ARGUMENT", "not acceptable", map[string]any{"accept": r.Header.Get("Accept")})
}

type userKey struct{}

// RequireUser resolves the caller from the trusted identity header and
// rejects requests for users the directory does not know.
func (s *Server) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if uid == "" {
			writeRawError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing "+UserIDHeader+" header", nil)
			return
		}
		if s.Users != nil {
			known, err := s.Users.Exists(r.Context(), uid)
			if err != nil {
				writeError(w, r, fmt.Errorf("op=http.resolve_user: %w", err), nil)
				return
			}
			if !known {
				writeRawError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "unknown user", nil)
				return
			}
		}
		ctx := context.WithValue(r.Context(), userKey{}, uid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userID returns the authenticated caller id attached by RequireUser.
func userID(r *http.Request) string {
	v, _ := r.Context().Value(userKey{}).(string)
	return v
}

// jobCosts is the cost block of a job response.
type jobCosts struct {
	LLMCallsStarted     int64   `json:"llm_calls_started"`
	LLMCallsSucceeded   int64   `json:"llm_calls_succeeded"`
	SerperCalls         int64   `json:"serper_calls"`
	LLMPromptTokens     int64   `json:"llm_prompt_tokens"`
	LLMCompletionTokens int64   `json:"llm_completion_tokens"`
	LLMTotalTokens      int64   `json:"llm_total_tokens"`
	LLMCostUSD          float64 `json:"llm_cost_usd"`
	SerperCostUSD       float64 `json:"serper_cost_usd"`
	TotalCostUSD        float64 `json:"total_cost_usd"`
	CostPerContactUSD   float64 `json:"cost_per_contact_usd"`
}

type jobResponse struct {
	ID                  int64             `json:"id"`
	SupportID           string            `json:"support_id"`
	Filename            string            `json:"filename,omitempty"`
	Status              string            `json:"status"`
	StopReason          *string           `json:"stop_reason,omitempty"`
	TotalCompanies      int               `json:"total_companies"`
	ProcessedCompanies  int               `json:"processed_companies"`
	DecisionMakersFound int               `json:"decision_makers_found"`
	CreditsSpent        int64             `json:"credits_spent"`
	SelectedPlatforms   []string          `json:"selected_platforms,omitempty"`
	Options             domain.JobOptions `json:"options"`
	Costs               jobCosts          `json:"costs"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func toJobResponse(j domain.Job) jobResponse {
	return jobResponse{
		ID:                  j.ID,
		SupportID:           j.SupportID,
		Filename:            j.Filename,
		Status:              string(j.Status),
		StopReason:          j.StopReason,
		TotalCompanies:      j.TotalCompanies,
		ProcessedCompanies:  j.ProcessedCompanies,
		DecisionMakersFound: j.DecisionMakersFound,
		CreditsSpent:        j.CreditsSpent,
		SelectedPlatforms:   j.SelectedPlatforms,
		Options:             j.Options,
		Costs: jobCosts{
			LLMCallsStarted:     j.LLMCallsStarted,
			LLMCallsSucceeded:   j.LLMCallsSucceeded,
			SerperCalls:         j.SerperCalls,
			LLMPromptTokens:     j.LLMPromptTokens,
			LLMCompletionTokens: j.LLMCompletionTokens,
			LLMTotalTokens:      j.LLMTotalTokens,
			LLMCostUSD:          j.LLMCostUSD,
			SerperCostUSD:       j.SerperCostUSD,
			TotalCostUSD:        j.TotalCostUSD,
			CostPerContactUSD:   j.CostPerContactUSD,
		},
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

type contactResponse struct {
	ID             int64     `json:"id"`
	JobID          int64     `json:"job_id"`
	CompanyName    string    `json:"company_name"`
	CompanyType    string    `json:"company_type,omitempty"`
	CompanyCity    string    `json:"company_city,omitempty"`
	CompanyCountry string    `json:"company_country,omitempty"`
	CompanyWebsite string    `json:"company_website,omitempty"`
	CompanyAddress string    `json:"company_address,omitempty"`
	GmapsRating    *float64  `json:"gmaps_rating,omitempty"`
	GmapsReviews   *int      `json:"gmaps_reviews,omitempty"`
	Name           string    `json:"name"`
	Title          string    `json:"title"`
	Platform       string    `json:"platform,omitempty"`
	ProfileURL     string    `json:"profile_url,omitempty"`
	Emails         []string  `json:"emails"`
	Confidence     string    `json:"confidence"`
	CreatedAt      time.Time `json:"created_at"`
}

func toContactResponse(dm domain.DecisionMaker) contactResponse {
	return contactResponse{
		ID:             dm.ID,
		JobID:          dm.JobID,
		CompanyName:    dm.CompanyName,
		CompanyType:    dm.CompanyType,
		CompanyCity:    dm.CompanyCity,
		CompanyCountry: dm.CompanyCountry,
		CompanyWebsite: dm.CompanyWebsite,
		CompanyAddress: dm.CompanyAddress,
		GmapsRating:    dm.GmapsRating,
		GmapsReviews:   dm.GmapsReviews,
		Name:           dm.Name,
		Title:          dm.Title,
		Platform:       dm.Platform,
		ProfileURL:     dm.ProfileURL,
		Emails:         splitEmails(dm.EmailsFound),
		Confidence:     dm.Confidence,
		CreatedAt:      dm.CreatedAt,
	}
}

// splitEmails undoes the comma-joined storage form.
func splitEmails(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SubmitJobHandler accepts a parsed company table and queues the research job.
func (s *Server) SubmitJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(r) {
			notAcceptable(w, r)
			return
		}
		maxBytes := s.Cfg.MaxUploadMB * 1024 * 1024
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		var req struct {
			Filename          string            `json:"filename" validate:"max=255"`
			ColumnMappings    map[string]string `json:"column_mappings" validate:"required"`
			Rows              []map[string]any  `json:"rows" validate:"required,min=1"`
			SelectedPlatforms []string          `json:"selected_platforms"`
			Options           domain.JobOptions `json:"options"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if isBodyTooLarge(err) {
				writeRawError(w, http.StatusRequestEntityTooLarge, "INVALID_ARGUMENT", "payload too large", map[string]any{"max_mb": s.Cfg.MaxUploadMB})
				return
			}
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		job, err := s.Jobs.Submit(r.Context(), usecase.SubmitJobInput{
			UserID:            userID(r),
			Filename:          req.Filename,
			ColumnMappings:    req.ColumnMappings,
			Rows:              req.Rows,
			SelectedPlatforms: req.SelectedPlatforms,
			Options:           req.Options,
		})
		if err != nil {
			writeError(w, r, fmt.Errorf("submit job: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":         job.ID,
			"support_id": job.SupportID,
			"status":     string(job.Status),
		})
	}
}

// JobHandler returns one job's status, counters and cost fields.
func (s *Server) JobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(r) {
			notAcceptable(w, r)
			return
		}
		id, err := ParseJobID(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		job, err := s.Jobs.Get(r.Context(), userID(r), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(job))
	}
}

// JobResultsHandler returns the job's decision makers.
func (s *Server) JobResultsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(r) {
			notAcceptable(w, r)
			return
		}
		id, err := ParseJobID(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		contacts, err := s.Jobs.Results(r.Context(), userID(r), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]contactResponse, 0, len(contacts))
		for _, dm := range contacts {
			out = append(out, toContactResponse(dm))
		}
		writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "results": out})
	}
}

// CancelJobHandler requests cancellation of a running job. Terminal jobs
// answer 409.
func (s *Server) CancelJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := ParseJobID(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := s.Jobs.Cancel(r.Context(), userID(r), id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": string(domain.JobCancelled)})
	}
}

// ListJobsHandler returns the caller's jobs, newest first.
func (s *Server) ListJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(r) {
			notAcceptable(w, r)
			return
		}
		limit := ClampLimit(r.URL.Query().Get("limit"), 50, 200)
		jobs, err := s.Jobs.List(r.Context(), userID(r), limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]jobResponse, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, toJobResponse(j))
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
	}
}

// allowedCSVExt enforces the upload extension allowlist.
func allowedCSVExt(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".csv")
}

// allowedCSVMIME accepts the MIME types CSV files sniff as across exporters.
func allowedCSVMIME(m string) bool {
	m = strings.ToLower(m)
	if strings.HasPrefix(m, "text/") {
		return true
	}
	return strings.HasPrefix(m, "application/csv") || strings.HasPrefix(m, "application/vnd.ms-excel")
}

// UploadPreviewHandler parses a multipart CSV upload and returns headers,
// preview rows and suggested column mappings.
func (s *Server) UploadPreviewHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(r) {
			notAcceptable(w, r)
			return
		}
		if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument), nil)
			return
		}
		maxBytes := s.Cfg.MaxUploadMB * 1024 * 1024
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes*2)
		if err := r.ParseMultipartForm(maxBytes * 2); err != nil {
			if isBodyTooLarge(err) {
				writeRawError(w, http.StatusRequestEntityTooLarge, "INVALID_ARGUMENT", "payload too large", map[string]any{"max_mb": s.Cfg.MaxUploadMB})
				return
			}
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: file field required", domain.ErrInvalidArgument), map[string]string{"field": "file"})
			return
		}
		defer func() { _ = file.Close() }()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: file read: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		if !allowedCSVExt(header.Filename) {
			writeRawError(w, http.StatusUnsupportedMediaType, "INVALID_ARGUMENT", "unsupported media type (extension)", map[string]any{"filename": header.Filename})
			return
		}
		sniffed := mimetype.Detect(data)
		if !allowedCSVMIME(sniffed.String()) {
			writeRawError(w, http.StatusUnsupportedMediaType, "INVALID_ARGUMENT", "unsupported media type (content)", map[string]any{"mime": sniffed.String(), "filename": header.Filename})
			return
		}

		preview, err := s.Uploads.PreviewCSV(header.Filename, data)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"filename":           preview.Filename,
			"total_rows":         preview.TotalRows,
			"columns":            preview.Columns,
			"preview_rows":       preview.PreviewRows,
			"suggested_mappings": preview.SuggestedMappings,
		})
	}
}

// AccountHandler returns the caller's recalculated balance and plan.
func (s *Server) AccountHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(r) {
			notAcceptable(w, r)
			return
		}
		acct, err := s.Credits.Account(r.Context(), userID(r))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id":            acct.UserID,
			"balance":            acct.Balance,
			"plan":               acct.PlanKey,
			"plan_status":        acct.Status,
			"current_period_end": acct.PeriodEnd,
		})
	}
}

// RedeemCouponHandler grants the credits behind a coupon code. Redeeming the
// same code twice returns the original grant.
func (s *Server) RedeemCouponHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(r) {
			notAcceptable(w, r)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req struct {
			Code string `json:"code" validate:"required,max=64"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		entry, err := s.Credits.RedeemCoupon(r.Context(), userID(r), req.Code)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"code":       req.Code,
			"credits":    entry.Delta,
			"expires_at": entry.ExpiresAt,
		})
	}
}

// ReadyzHandler probes the DB, Redis (when configured) and Kafka.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 3)
		run := func(name string, fn func(context.Context) error) {
			if fn == nil {
				return
			}
			if err := fn(ctx); err != nil {
				checks = append(checks, check{Name: name, OK: false, Details: err.Error()})
				return
			}
			checks = append(checks, check{Name: name, OK: true})
		}
		run("db", s.DBCheck)
		run("redis", s.RedisCheck)
		run("kafka", s.KafkaCheck)
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// MountAdmin mounts the admin JSON endpoints.
func (s *Server) MountAdmin(r chi.Router) {
	NewAdminServer(s.Cfg, s).MountRoutes(r)
}

// validationDetails flattens validator errors into a field→tag map.
func validationDetails(err error) map[string]string {
	verrs := map[string]string{}
	if ve, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range ve {
			verrs[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return verrs
}

// isBodyTooLarge detects the MaxBytesReader cutoff across Go versions.
func isBodyTooLarge(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "too large") || strings.Contains(msg, "request body too large")
}
