package usecase_test

import (
	"fmt"
	"sync"
	"time"

	"github.com/fairyhunter13/lead-scout/internal/domain"
	"github.com/fairyhunter13/lead-scout/internal/usecase"
)

// fakeJobs is an in-memory JobRepository with the same terminal-status guard
// as the real one.
type fakeJobs struct {
	mu        sync.Mutex
	seq       int64
	jobs      map[int64]domain.Job
	progress  []domain.JobProgress
	statuses  []statusChange
	createErr error
	getErr    error
}

type statusChange struct {
	id     int64
	status domain.JobStatus
	reason *string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[int64]domain.Job{}}
}

func (f *fakeJobs) add(j domain.Job) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	j.ID = f.seq
	f.jobs[j.ID] = j
	return j.ID
}

func (f *fakeJobs) setStatus(id int64, status domain.JobStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Status = status
	f.jobs[id] = j
}

func (f *fakeJobs) get(id int64) domain.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

func (f *fakeJobs) Create(_ domain.Context, j domain.Job) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	return f.add(j), nil
}

func (f *fakeJobs) Get(_ domain.Context, id int64) (domain.Job, error) {
	if f.getErr != nil {
		return domain.Job{}, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: job %d", domain.ErrNotFound, id)
	}
	return j, nil
}

func (f *fakeJobs) ListByUser(_ domain.Context, userID string, _ int) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Job
	for _, j := range f.jobs {
		if j.UserID == userID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeJobs) UpdateStatus(_ domain.Context, id int64, status domain.JobStatus, reason *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %d", domain.ErrNotFound, id)
	}
	if j.Status.Terminal() {
		return fmt.Errorf("%w: job %d is %s", domain.ErrConflict, id, j.Status)
	}
	j.Status = status
	j.StopReason = reason
	f.jobs[id] = j
	f.statuses = append(f.statuses, statusChange{id: id, status: status, reason: reason})
	return nil
}

func (f *fakeJobs) UpdateProgress(_ domain.Context, id int64, p domain.JobProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %d", domain.ErrNotFound, id)
	}
	j.ProcessedCompanies = p.ProcessedCompanies
	j.DecisionMakersFound = p.DecisionMakersFound
	j.CreditsSpent = p.CreditsSpent
	j.LLMCallsStarted = p.LLMCallsStarted
	j.LLMCallsSucceeded = p.LLMCallsSucceeded
	j.SerperCalls = p.SerperCalls
	j.LLMPromptTokens = p.LLMPromptTokens
	j.LLMCompletionTokens = p.LLMCompletionTokens
	j.LLMTotalTokens = p.LLMTotalTokens
	j.LLMCostUSD = p.LLMCostUSD
	j.SerperCostUSD = p.SerperCostUSD
	j.TotalCostUSD = p.TotalCostUSD
	j.CostPerContactUSD = p.CostPerContactUSD
	f.jobs[id] = j
	f.progress = append(f.progress, p)
	return nil
}

func (f *fakeJobs) lastStatus() (statusChange, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return statusChange{}, false
	}
	return f.statuses[len(f.statuses)-1], true
}

// fakeContacts records persisted decision-maker batches.
type fakeContacts struct {
	mu        sync.Mutex
	batches   [][]domain.DecisionMaker
	listByJob []domain.DecisionMaker
	createErr error
	listErr   error
}

func (f *fakeContacts) CreateBatch(_ domain.Context, dms []domain.DecisionMaker) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, dms)
	return nil
}

func (f *fakeContacts) ListByJob(_ domain.Context, _ int64) ([]domain.DecisionMaker, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listByJob, nil
}

func (f *fakeContacts) ListByUser(_ domain.Context, _ string, _ int) ([]domain.DecisionMaker, error) {
	return f.listByJob, nil
}

func (f *fakeContacts) all() []domain.DecisionMaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DecisionMaker
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

// fakeLedger tracks a single balance and every grant and spend.
type fakeLedger struct {
	mu        sync.Mutex
	balance   int64
	seq       int64
	grants    []domain.CreditGrant
	spends    []domain.CreditSpend
	bySource  map[string]domain.CreditEntry
	entries   []domain.CreditEntry
	spendErr  error
	grantErr  error
	recalcErr error
}

func newFakeLedger(balance int64) *fakeLedger {
	return &fakeLedger{balance: balance, bySource: map[string]domain.CreditEntry{}}
}

func (f *fakeLedger) GetOrCreateAccount(_ domain.Context, userID string) (domain.CreditAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.CreditAccount{UserID: userID, Balance: f.balance, UpdatedAt: time.Now().UTC()}, nil
}

func (f *fakeLedger) Recalculate(_ domain.Context, _ string, _ time.Time) (int64, error) {
	if f.recalcErr != nil {
		return 0, f.recalcErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeLedger) GrantMonthly(_ domain.Context, userID, planKey string, periodEnd *time.Time, source string, metadata map[string]any) (domain.CreditEntry, error) {
	credits, ok := domain.PlanMonthlyCredits[planKey]
	if !ok {
		return domain.CreditEntry{}, fmt.Errorf("%w: unknown plan %q", domain.ErrInvalidArgument, planKey)
	}
	return f.Grant(nil, domain.CreditGrant{
		UserID:    userID,
		EventType: domain.EventGrantMonthly,
		Delta:     credits,
		Source:    source,
		ExpiresAt: periodEnd,
		Metadata:  metadata,
	})
}

func (f *fakeLedger) GrantTopup(_ domain.Context, userID string, credits int64, source string, metadata map[string]any) (domain.CreditEntry, error) {
	now := time.Now().UTC().AddDate(0, 0, domain.TopupExpiryDays)
	return f.Grant(nil, domain.CreditGrant{
		UserID:    userID,
		EventType: domain.EventTopup,
		Delta:     credits,
		Source:    source,
		ExpiresAt: &now,
		Metadata:  metadata,
	})
}

func (f *fakeLedger) Grant(_ domain.Context, g domain.CreditGrant) (domain.CreditEntry, error) {
	if f.grantErr != nil {
		return domain.CreditEntry{}, f.grantErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.balance += g.Delta
	entry := domain.CreditEntry{
		ID:        f.seq,
		UserID:    g.UserID,
		EventType: g.EventType,
		Delta:     g.Delta,
		Source:    g.Source,
		ExpiresAt: g.ExpiresAt,
		Metadata:  g.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	f.grants = append(f.grants, g)
	f.bySource[g.UserID+"|"+g.Source] = entry
	f.entries = append(f.entries, entry)
	return entry, nil
}

func (f *fakeLedger) Spend(_ domain.Context, s domain.CreditSpend) error {
	if f.spendErr != nil {
		return f.spendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance < s.Amount {
		return fmt.Errorf("%w: balance %d below %d", domain.ErrInsufficientCredits, f.balance, s.Amount)
	}
	f.balance -= s.Amount
	f.spends = append(f.spends, s)
	return nil
}

func (f *fakeLedger) FindBySource(_ domain.Context, userID, source string) (*domain.CreditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.bySource[userID+"|"+source]; ok {
		out := e
		return &out, nil
	}
	return nil, nil
}

func (f *fakeLedger) ListEntries(_ domain.Context, _ string, _ int) ([]domain.CreditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.CreditEntry(nil), f.entries...), nil
}

// fakeUsers answers existence probes.
type fakeUsers struct {
	exists bool
	err    error
}

func (f *fakeUsers) Exists(_ domain.Context, _ string) (bool, error) {
	return f.exists, f.err
}

// fakeSubs holds at most one subscription.
type fakeSubs struct {
	mu      sync.Mutex
	sub     *domain.Subscription
	upserts []domain.Subscription
	getErr  error
}

func (f *fakeSubs) Upsert(_ domain.Context, s domain.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, s)
	cp := s
	f.sub = &cp
	return nil
}

func (f *fakeSubs) GetByUser(_ domain.Context, userID string) (domain.Subscription, error) {
	if f.getErr != nil {
		return domain.Subscription{}, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub == nil {
		return domain.Subscription{}, fmt.Errorf("%w: subscription for %s", domain.ErrNotFound, userID)
	}
	return *f.sub, nil
}

// fakeQueue records enqueued research payloads.
type fakeQueue struct {
	mu       sync.Mutex
	payloads []domain.ResearchTaskPayload
	err      error
}

func (f *fakeQueue) EnqueueResearch(_ domain.Context, p domain.ResearchTaskPayload) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
	return fmt.Sprintf("task-%d", len(f.payloads)), nil
}

// fakeResearcher runs a caller-supplied function and records inputs.
type fakeResearcher struct {
	mu     sync.Mutex
	fn     func(in usecase.ResearchInput) ([]domain.Person, domain.ResearchTrace, error)
	inputs []usecase.ResearchInput
}

func (f *fakeResearcher) Research(_ domain.Context, in usecase.ResearchInput) ([]domain.Person, domain.ResearchTrace, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()
	if f.fn == nil {
		return nil, domain.ResearchTrace{}, nil
	}
	return f.fn(in)
}

func (f *fakeResearcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

// searchCall records one search invocation with its trim caps.
type searchCall struct {
	query      domain.SearchQuery
	maxOrganic int
	maxPAA     int
}

// fakeSearch replays scripted results (or errors) in call order.
type fakeSearch struct {
	mu      sync.Mutex
	calls   []searchCall
	results []domain.SearchResult
	errs    []error
}

func (f *fakeSearch) Search(_ domain.Context, q domain.SearchQuery, maxOrganic, maxPAA int) (domain.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, searchCall{query: q, maxOrganic: maxOrganic, maxPAA: maxPAA})
	idx := len(f.calls) - 1
	if idx < len(f.errs) && f.errs[idx] != nil {
		return domain.SearchResult{}, f.errs[idx]
	}
	if idx < len(f.results) {
		return f.results[idx], nil
	}
	return domain.SearchResult{}, nil
}

// chatCall records one AI invocation.
type chatCall struct {
	messages []domain.ChatMessage
	jsonMode bool
	purpose  string
}

// chatReply scripts one AI response.
type chatReply struct {
	text  string
	usage domain.Usage
	err   error
}

// fakeAI replays scripted chat replies in call order.
type fakeAI struct {
	mu      sync.Mutex
	calls   []chatCall
	replies []chatReply
}

func (f *fakeAI) Chat(_ domain.Context, messages []domain.ChatMessage, jsonMode bool, purpose string) (string, domain.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, chatCall{messages: messages, jsonMode: jsonMode, purpose: purpose})
	idx := len(f.calls) - 1
	if idx >= len(f.replies) {
		return "", domain.Usage{}, fmt.Errorf("%w: no scripted reply %d", domain.ErrProviderError, idx)
	}
	r := f.replies[idx]
	return r.text, r.usage, r.err
}

// fakeCache is a map-backed ResearchCache counting hits and puts.
type fakeCache struct {
	mu   sync.Mutex
	data map[string]domain.ResearchOutcome
	hits int
	puts int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string]domain.ResearchOutcome{}}
}

func (f *fakeCache) Get(key string) (domain.ResearchOutcome, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.data[key]
	if ok {
		f.hits++
	}
	return o, ok
}

func (f *fakeCache) Put(key string, outcome domain.ResearchOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.data[key] = outcome
}
