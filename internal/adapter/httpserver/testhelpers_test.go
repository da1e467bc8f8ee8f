package httpserver_test

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	httpserver "github.com/fairyhunter13/lead-scout/internal/adapter/httpserver"
	"github.com/fairyhunter13/lead-scout/internal/config"
	"github.com/fairyhunter13/lead-scout/internal/domain"
	"github.com/fairyhunter13/lead-scout/internal/usecase"
)

// memJobs is an in-memory JobRepository with sticky terminal statuses.
type memJobs struct {
	mu   sync.Mutex
	seq  int64
	jobs map[int64]domain.Job
}

func newMemJobs() *memJobs { return &memJobs{jobs: map[int64]domain.Job{}} }

func (m *memJobs) add(j domain.Job) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	j.ID = m.seq
	m.jobs[j.ID] = j
	return j.ID
}

func (m *memJobs) Create(_ domain.Context, j domain.Job) (int64, error) {
	return m.add(j), nil
}

func (m *memJobs) Get(_ domain.Context, id int64) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: job %d", domain.ErrNotFound, id)
	}
	return j, nil
}

func (m *memJobs) ListByUser(_ domain.Context, userID string, _ int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, j := range m.jobs {
		if j.UserID == userID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memJobs) UpdateStatus(_ domain.Context, id int64, status domain.JobStatus, reason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %d", domain.ErrNotFound, id)
	}
	if j.Status.Terminal() {
		return fmt.Errorf("%w: job %d is %s", domain.ErrConflict, id, j.Status)
	}
	j.Status = status
	j.StopReason = reason
	m.jobs[id] = j
	return nil
}

func (m *memJobs) UpdateProgress(_ domain.Context, id int64, _ domain.JobProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return fmt.Errorf("%w: job %d", domain.ErrNotFound, id)
	}
	return nil
}

// memContacts serves scripted decision makers.
type memContacts struct {
	byJob map[int64][]domain.DecisionMaker
}

func (m *memContacts) CreateBatch(_ domain.Context, _ []domain.DecisionMaker) error { return nil }

func (m *memContacts) ListByJob(_ domain.Context, jobID int64) ([]domain.DecisionMaker, error) {
	return m.byJob[jobID], nil
}

func (m *memContacts) ListByUser(_ domain.Context, _ string, _ int) ([]domain.DecisionMaker, error) {
	return nil, nil
}

// memQueue records enqueued payloads and can be told to fail.
type memQueue struct {
	mu       sync.Mutex
	payloads []domain.ResearchTaskPayload
	err      error
}

func (m *memQueue) EnqueueResearch(_ domain.Context, p domain.ResearchTaskPayload) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, p)
	return fmt.Sprintf("task-%d", len(m.payloads)), nil
}

// memLedger is a balance-tracking CreditLedger for the credit endpoints.
type memLedger struct {
	mu       sync.Mutex
	seq      int64
	balance  int64
	entries  []domain.CreditEntry
	bySource map[string]domain.CreditEntry
}

func newMemLedger(balance int64) *memLedger {
	return &memLedger{balance: balance, bySource: map[string]domain.CreditEntry{}}
}

func (m *memLedger) GetOrCreateAccount(_ domain.Context, userID string) (domain.CreditAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.CreditAccount{UserID: userID, Balance: m.balance, UpdatedAt: time.Now().UTC()}, nil
}

func (m *memLedger) Recalculate(_ domain.Context, _ string, _ time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}

func (m *memLedger) GrantMonthly(ctx domain.Context, userID, planKey string, periodEnd *time.Time, source string, metadata map[string]any) (domain.CreditEntry, error) {
	credits, ok := domain.PlanMonthlyCredits[planKey]
	if !ok {
		return domain.CreditEntry{}, fmt.Errorf("%w: unknown plan %q", domain.ErrInvalidArgument, planKey)
	}
	return m.Grant(ctx, domain.CreditGrant{
		UserID:    userID,
		EventType: domain.EventGrantMonthly,
		Delta:     credits,
		Source:    source,
		ExpiresAt: periodEnd,
		Metadata:  metadata,
	})
}

func (m *memLedger) GrantTopup(ctx domain.Context, userID string, credits int64, source string, metadata map[string]any) (domain.CreditEntry, error) {
	exp := time.Now().UTC().AddDate(0, 0, domain.TopupExpiryDays)
	return m.Grant(ctx, domain.CreditGrant{
		UserID:    userID,
		EventType: domain.EventTopup,
		Delta:     credits,
		Source:    source,
		ExpiresAt: &exp,
		Metadata:  metadata,
	})
}

func (m *memLedger) Grant(_ domain.Context, g domain.CreditGrant) (domain.CreditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.balance += g.Delta
	entry := domain.CreditEntry{
		ID:        m.seq,
		UserID:    g.UserID,
		EventType: g.EventType,
		Delta:     g.Delta,
		Source:    g.Source,
		ExpiresAt: g.ExpiresAt,
		Metadata:  g.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	m.entries = append(m.entries, entry)
	m.bySource[g.UserID+"|"+g.Source] = entry
	return entry, nil
}

func (m *memLedger) Spend(_ domain.Context, s domain.CreditSpend) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balance < s.Amount {
		return fmt.Errorf("%w: balance %d below %d", domain.ErrInsufficientCredits, m.balance, s.Amount)
	}
	m.balance -= s.Amount
	return nil
}

func (m *memLedger) FindBySource(_ domain.Context, userID, source string) (*domain.CreditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.bySource[userID+"|"+source]; ok {
		out := e
		return &out, nil
	}
	return nil, nil
}

func (m *memLedger) ListEntries(_ domain.Context, _ string, _ int) ([]domain.CreditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CreditEntry(nil), m.entries...), nil
}

// memSubs stores subscriptions per user.
type memSubs struct {
	mu   sync.Mutex
	subs map[string]domain.Subscription
}

func newMemSubs() *memSubs { return &memSubs{subs: map[string]domain.Subscription{}} }

func (m *memSubs) Upsert(_ domain.Context, s domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[s.UserID] = s
	return nil
}

func (m *memSubs) GetByUser(_ domain.Context, userID string) (domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[userID]
	if !ok {
		return domain.Subscription{}, fmt.Errorf("%w: subscription for %s", domain.ErrNotFound, userID)
	}
	return s, nil
}

// memUsers answers existence probes from a set.
type memUsers struct{ known map[string]bool }

func (m *memUsers) Exists(_ domain.Context, userID string) (bool, error) {
	return m.known[userID], nil
}

// memStats serves scripted admin aggregates.
type memStats struct {
	summary  domain.AdminStats
	jobs     []domain.Job
	contacts []domain.DecisionMaker
}

func (m *memStats) Summary(_ domain.Context) (domain.AdminStats, error) { return m.summary, nil }

func (m *memStats) RecentJobs(_ domain.Context, _ int) ([]domain.Job, error) { return m.jobs, nil }

func (m *memStats) RecentDecisionMakers(_ domain.Context, _ int) ([]domain.DecisionMaker, error) {
	return m.contacts, nil
}

// testEnv bundles a wired server with its fakes.
type testEnv struct {
	srv      *httpserver.Server
	jobs     *memJobs
	contacts *memContacts
	queue    *memQueue
	ledger   *memLedger
	subs     *memSubs
	users    *memUsers
	stats    *memStats
	cfg      config.Config
}

func newTestEnv() *testEnv {
	cfg := config.Config{
		AppEnv:               "test",
		MaxUploadMB:          1,
		MaxJobRows:           100,
		CouponCodes:          map[string]int64{"LAUNCH50": 50},
		BillingWebhookSecret: "whsec-test",
		AdminUsername:        "admin",
		AdminPassword:        "pass123",
		AdminSessionSecret:   "0123456789abcdef0123456789abcdef",
		AdminSessionSameSite: "Strict",
	}
	jobs := newMemJobs()
	contacts := &memContacts{byJob: map[int64][]domain.DecisionMaker{}}
	queue := &memQueue{}
	ledger := newMemLedger(100)
	subs := newMemSubs()
	users := &memUsers{known: map[string]bool{"u1": true, "u2": true}}
	stats := &memStats{}

	srv := httpserver.NewServer(cfg,
		usecase.NewJobService(jobs, contacts, queue, cfg.MaxJobRows),
		usecase.NewCreditService(ledger, subs, cfg.CouponCodes),
		usecase.NewUploadService(),
		users,
		stats,
		nil, nil, nil)
	return &testEnv{srv: srv, jobs: jobs, contacts: contacts, queue: queue, ledger: ledger, subs: subs, users: users, stats: stats, cfg: cfg}
}

// router wires the user-facing routes the way the app router does.
func (e *testEnv) router() http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(e.srv.RequireUser)
		v1.Post("/jobs", e.srv.SubmitJobHandler())
		v1.Get("/jobs", e.srv.ListJobsHandler())
		v1.Get("/jobs/{id}", e.srv.JobHandler())
		v1.Get("/jobs/{id}/results", e.srv.JobResultsHandler())
		v1.Post("/jobs/{id}/cancel", e.srv.CancelJobHandler())
		v1.Post("/uploads/preview", e.srv.UploadPreviewHandler())
		v1.Get("/account", e.srv.AccountHandler())
		v1.Post("/coupons/redeem", e.srv.RedeemCouponHandler())
	})
	r.Post("/webhooks/billing", e.srv.BillingWebhookHandler())
	e.srv.MountAdmin(r)
	return r
}
