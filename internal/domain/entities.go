package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrRateLimited          = errors.New("rate limited")
	ErrProviderDisabled     = errors.New("provider disabled")
	ErrProviderError        = errors.New("provider error")
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrMalformedLLMResponse = errors.New("malformed llm response")
	ErrInternal             = errors.New("internal error")
)

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether a job status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Stop reasons recorded when a run ends early.
const (
	StopCreditsExhausted = "credits_exhausted"
	StopMissingUser      = "missing_user"
	StopCompanyError     = "company_error"
)

// JobOptions selects per-job research behavior.
type JobOptions struct {
	DeepSearch bool     `json:"deep_search"`
	JobTitles  []string `json:"job_titles"`
}

// Job is one user-submitted table of companies to research.
// Invariants: terminal statuses are sticky; ProcessedCompanies <= TotalCompanies;
// counters are monotonically non-decreasing while Status == JobProcessing.
type Job struct {
	ID                  int64
	UserID              string
	SupportID           string
	Filename            string
	Status              JobStatus
	StopReason          *string
	TotalCompanies      int
	ProcessedCompanies  int
	DecisionMakersFound int
	CreditsSpent        int64
	ColumnMappings      map[string]string
	CompaniesData       []map[string]any
	SelectedPlatforms   []string
	Options             JobOptions

	LLMCallsStarted     int64
	LLMCallsSucceeded   int64
	SerperCalls         int64
	LLMPromptTokens     int64
	LLMCompletionTokens int64
	LLMTotalTokens      int64
	LLMCostUSD          float64
	SerperCostUSD       float64
	TotalCostUSD        float64
	CostPerContactUSD   float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobProgress carries the counter/cost deltas the runner persists at batch
// boundaries. All values are absolute (not increments).
type JobProgress struct {
	ProcessedCompanies  int
	DecisionMakersFound int
	CreditsSpent        int64
	LLMCallsStarted     int64
	LLMCallsSucceeded   int64
	SerperCalls         int64
	LLMPromptTokens     int64
	LLMCompletionTokens int64
	LLMTotalTokens      int64
	LLMCostUSD          float64
	SerperCostUSD       float64
	TotalCostUSD        float64
	CostPerContactUSD   float64
}

// DecisionMaker is a validated leadership contact persisted for a job row.
// Invariants: Name is non-empty and not a placeholder; Title passed the
// classifier or matched a job keyword; ProfileURL is not a hallucination fixture.
type DecisionMaker struct {
	ID     int64
	JobID  int64
	UserID string

	CompanyName    string
	CompanyType    string
	CompanyCity    string
	CompanyCountry string
	CompanyWebsite string
	CompanyAddress string
	GmapsRating    *float64
	GmapsReviews   *int

	Name        string
	Title       string
	Platform    string
	ProfileURL  string
	EmailsFound string // comma-joined, lowercase, unique, capped
	Confidence  string // HIGH | MEDIUM | LOW

	UploadedCompanyData string
	LLMInput            string
	SerperQueries       string
	LLMOutput           string
	LLMCallAt           *time.Time
	SerperCallAt        *time.Time

	CreatedAt time.Time
}

// Credit ledger event types.
const (
	EventGrantMonthly = "grant_monthly"
	EventTopup        = "topup"
	EventCoupon       = "coupon"
	EventAdminAdjust  = "admin_adjust"
	EventAdminSet     = "admin_set"
	EventSpend        = "spend"
)

// PlanMonthlyCredits maps a plan key to the credits granted per billing period.
var PlanMonthlyCredits = map[string]int64{
	"trial":    20,
	"entry":    7250,
	"pro":      26000,
	"business": 80000,
	"agency":   249000,
}

// TopupExpiryDays is how long purchased top-up lots stay usable.
const TopupExpiryDays = 90

// CreditEntry is one append-only ledger row. Positive rows open a lot
// (LotID set); spend rows reference the lot they consume and carry its expiry.
type CreditEntry struct {
	ID        int64
	UserID    string
	LotID     *string
	EventType string
	Delta     int64
	Source    string
	JobID     *int64
	CreatedAt time.Time
	ExpiresAt *time.Time
	Metadata  map[string]any
}

// Expired reports whether the entry's lot is past its expiry at now.
func (e CreditEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// CreditAccount caches the effective balance; the ledger is the source of truth.
type CreditAccount struct {
	UserID    string
	Balance   int64
	UpdatedAt time.Time
}

// CreditGrant describes a positive (or admin-signed) ledger append.
type CreditGrant struct {
	UserID    string
	EventType string
	Delta     int64
	Source    string
	ExpiresAt *time.Time
	Metadata  map[string]any
}

// CreditSpend describes a FIFO spend against the user's open lots.
type CreditSpend struct {
	UserID string
	Amount int64
	JobID  *int64
	Source string
	Now    time.Time
}

// Subscription binds a user to a billing plan; at most one per user.
type Subscription struct {
	UserID           string
	PlanKey          string
	Status           string
	CurrentPeriodEnd *time.Time
	Provider         string
	ProviderSubID    string
	ProviderCustID   string
	UpdatedAt        time.Time
}

// Repositories (ports)

type JobRepository interface {
	Create(ctx Context, j Job) (int64, error)
	Get(ctx Context, id int64) (Job, error)
	ListByUser(ctx Context, userID string, limit int) ([]Job, error)
	UpdateStatus(ctx Context, id int64, status JobStatus, stopReason *string) error
	UpdateProgress(ctx Context, id int64, p JobProgress) error
}

type DecisionMakerRepository interface {
	CreateBatch(ctx Context, dms []DecisionMaker) error
	ListByJob(ctx Context, jobID int64) ([]DecisionMaker, error)
	ListByUser(ctx Context, userID string, limit int) ([]DecisionMaker, error)
}

// CreditLedger is the credit engine port. Every method runs in its own
// database transaction; Spend holds one transaction across the
// recalculate/append/decrement sequence.
type CreditLedger interface {
	GetOrCreateAccount(ctx Context, userID string) (CreditAccount, error)
	Recalculate(ctx Context, userID string, now time.Time) (int64, error)
	GrantMonthly(ctx Context, userID, planKey string, periodEnd *time.Time, source string, metadata map[string]any) (CreditEntry, error)
	GrantTopup(ctx Context, userID string, credits int64, source string, metadata map[string]any) (CreditEntry, error)
	Grant(ctx Context, g CreditGrant) (CreditEntry, error)
	Spend(ctx Context, s CreditSpend) error
	FindBySource(ctx Context, userID, source string) (*CreditEntry, error)
	ListEntries(ctx Context, userID string, limit int) ([]CreditEntry, error)
}

type SubscriptionRepository interface {
	Upsert(ctx Context, s Subscription) error
	GetByUser(ctx Context, userID string) (Subscription, error)
}

// UserDirectory resolves whether a user id is known to the system. The runner
// fails a job with stop_reason=missing_user when the owner has vanished.
type UserDirectory interface {
	Exists(ctx Context, userID string) (bool, error)
}

// AdminStats aggregates system-wide counters for the admin surface.
type AdminStats struct {
	TotalJobs           int64
	JobsByStatus        map[string]int64
	TotalDecisionMakers int64
	TotalUsers          int64
	CreditsSpent        int64
	LLMCostUSD          float64
	SerperCostUSD       float64
	TotalCostUSD        float64
}

// StatsRepository serves the admin stats and CSV export reads.
type StatsRepository interface {
	Summary(ctx Context) (AdminStats, error)
	RecentJobs(ctx Context, limit int) ([]Job, error)
	RecentDecisionMakers(ctx Context, limit int) ([]DecisionMaker, error)
}

// SearchClient port: rate-limited web search with response trimming.

type SearchQuery struct {
	Q           string `json:"q"`
	GL          string `json:"gl,omitempty"`
	HL          string `json:"hl,omitempty"`
	Num         int    `json:"num,omitempty"`
	Page        int    `json:"page,omitempty"`
	TBS         string `json:"tbs,omitempty"`
	Autocorrect *bool  `json:"autocorrect,omitempty"`
}

type KnowledgeGraph struct {
	Title           string  `json:"title,omitempty"`
	Type            string  `json:"type,omitempty"`
	Website         string  `json:"website,omitempty"`
	Description     string  `json:"description,omitempty"`
	DescriptionLink string  `json:"descriptionLink,omitempty"`
	Address         string  `json:"address,omitempty"`
	Rating          float64 `json:"rating,omitempty"`
	RatingCount     int     `json:"ratingCount,omitempty"`
	ReviewCount     int     `json:"reviewCount,omitempty"`
}

type OrganicResult struct {
	Title   string `json:"title,omitempty"`
	Link    string `json:"link,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

type PeopleAlsoAsk struct {
	Question string `json:"question,omitempty"`
	Snippet  string `json:"snippet,omitempty"`
	Title    string `json:"title,omitempty"`
	Link     string `json:"link,omitempty"`
}

type SearchResult struct {
	KnowledgeGraph *KnowledgeGraph `json:"knowledgeGraph,omitempty"`
	Organic        []OrganicResult `json:"organic,omitempty"`
	PeopleAlsoAsk  []PeopleAlsoAsk `json:"peopleAlsoAsk,omitempty"`
	Credits        int             `json:"credits,omitempty"`
}

type SearchClient interface {
	Search(ctx Context, q SearchQuery, maxOrganic, maxPAA int) (SearchResult, error)
}

// AIClient port: chat completion with JSON mode and usage accounting.

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type AIClient interface {
	// Chat returns the raw completion text; JSON extraction is the caller's
	// responsibility. purpose is an observability label only.
	Chat(ctx Context, messages []ChatMessage, jsonMode bool, purpose string) (string, Usage, error)
}

// Queue (port)

type ResearchTaskPayload struct {
	JobID  int64  `json:"job_id"`
	UserID string `json:"user_id"`
}

type Queue interface {
	EnqueueResearch(ctx Context, payload ResearchTaskPayload) (string, error)
}

// Person is one extracted candidate before validation and persistence.
type Person struct {
	Name           string   `json:"name"`
	Title          string   `json:"title"`
	Platform       string   `json:"platform"`
	ProfileURL     string   `json:"profile_url"`
	EmailsFound    []string `json:"emails_found"`
	Confidence     string   `json:"confidence"`
	CompanyWebsite string   `json:"company_website,omitempty"`
	CompanyType    string   `json:"company_type,omitempty"`
	CompanyAddress string   `json:"company_address,omitempty"`
	GmapsRating    *float64 `json:"gmaps_rating,omitempty"`
	GmapsReviews   *int     `json:"gmaps_reviews,omitempty"`
}

// ResearchTrace records the payloads and usage behind one research call.
type ResearchTrace struct {
	PlanMessages  []ChatMessage `json:"plan_messages,omitempty"`
	FinalMessages []ChatMessage `json:"final_messages"`
	SerperQueries []string      `json:"serper_queries"`
	SerperCalls   int64         `json:"serper_calls"`
	LLMCalls      int64         `json:"llm_calls"`
	LLMCallAt     *time.Time    `json:"llm_call_timestamp,omitempty"`
	SerperCallAt  *time.Time    `json:"serper_call_timestamp,omitempty"`
	PlanUsage     *Usage        `json:"plan_usage,omitempty"`
	FinalUsage    Usage         `json:"final_usage"`
	PlanText      string        `json:"plan_text,omitempty"`
	FinalText     string        `json:"final_text"`
}

// ResearchOutcome is the cacheable (people, trace) pair.
type ResearchOutcome struct {
	People []Person
	Trace  ResearchTrace
}

// ResearchCache port: in-process TTL cache; reads must be safe to mutate.
type ResearchCache interface {
	Get(key string) (ResearchOutcome, bool)
	Put(key string, outcome ResearchOutcome)
}

// Context is an alias so domain signatures stay decoupled from std context;
// adapters and usecases pass context.Context straight through.
type Context = context.Context
