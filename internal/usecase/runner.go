package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/lead-scout/internal/config"
	"github.com/fairyhunter13/lead-scout/internal/domain"
)

// Researcher is the slice of the research pipeline the runner depends on.
type Researcher interface {
	Research(ctx domain.Context, in ResearchInput) ([]domain.Person, domain.ResearchTrace, error)
}

// Runner drives one queued job to a terminal status: rows fan out in batches
// of JobConcurrency goroutines, counters and USD costs persist at batch
// boundaries, and cancellation is polled by reloading the job between batches.
type Runner struct {
	Jobs     domain.JobRepository
	Contacts domain.DecisionMakerRepository
	Credits  domain.CreditLedger
	Users    domain.UserDirectory
	Research Researcher
	Cfg      config.Config
}

// NewRunner constructs a Runner with its dependencies.
func NewRunner(jobs domain.JobRepository, contacts domain.DecisionMakerRepository, credits domain.CreditLedger, users domain.UserDirectory, research Researcher, cfg config.Config) Runner {
	return Runner{Jobs: jobs, Contacts: contacts, Credits: credits, Users: users, Research: research, Cfg: cfg}
}

// rowOutcome is what one row pipeline hands back to the batch loop.
type rowOutcome struct {
	contacts []domain.DecisionMaker
	trace    domain.ResearchTrace
	billable bool
	err      error
}

// Run executes the job end to end. A job already in a terminal status is
// left untouched. Row research failures that are provider-level (disabled,
// malformed reply) skip the row; any other row error fails the job with
// stop_reason=company_error.
func (r Runner) Run(ctx domain.Context, jobID int64) error {
	job, err := r.Jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("op=runner.load: %w", err)
	}
	log := slog.With(slog.Int64("job_id", jobID), slog.String("user_id", job.UserID))
	if job.Status.Terminal() {
		log.Info("job already terminal, nothing to run", slog.String("status", string(job.Status)))
		return nil
	}
	if err := r.Jobs.UpdateStatus(ctx, jobID, domain.JobProcessing, nil); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			log.Info("job reached a terminal status before the run started")
			return nil
		}
		return fmt.Errorf("op=runner.start: %w", err)
	}

	known, err := r.Users.Exists(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("op=runner.user: %w", err)
	}
	if !known {
		log.Warn("job owner is unknown, failing job")
		_ = r.Jobs.UpdateStatus(ctx, jobID, domain.JobFailed, ptr(domain.StopMissingUser))
		return nil
	}

	keywords := trimKeywords(job.Options.JobTitles, 5)
	if len(keywords) == 0 {
		keywords = trimKeywords(domain.DefaultQueryKeywords(), 5)
	}
	platforms := runPlatforms(job)
	rates := domain.CostRates{
		LLMInputPerM:  r.Cfg.LLMInputCostPerM,
		LLMOutputPerM: r.Cfg.LLMOutputCostPerM,
		SerperPer1K:   r.Cfg.SerperCostPer1K,
	}

	var (
		processed    int
		found        int
		creditsSpent int64
		llmStarted   int64
		llmSucceeded int64
		serperCalls  int64
		promptToks   int64
		complToks    int64
		totToks      int64
	)
	persist := func() error {
		cost := domain.ComputeJobCost(promptToks, complToks, serperCalls, found, rates)
		return r.Jobs.UpdateProgress(ctx, jobID, domain.JobProgress{
			ProcessedCompanies:  processed,
			DecisionMakersFound: found,
			CreditsSpent:        creditsSpent,
			LLMCallsStarted:     llmStarted,
			LLMCallsSucceeded:   llmSucceeded,
			SerperCalls:         serperCalls,
			LLMPromptTokens:     promptToks,
			LLMCompletionTokens: complToks,
			LLMTotalTokens:      totToks,
			LLMCostUSD:          cost.LLMCostUSD,
			SerperCostUSD:       cost.SerperCostUSD,
			TotalCostUSD:        cost.TotalCostUSD,
			CostPerContactUSD:   cost.CostPerContactUSD,
		})
	}

	rows := job.CompaniesData
	batch := r.Cfg.JobConcurrency()
	for start := 0; start < len(rows); start += batch {
		cur, err := r.Jobs.Get(ctx, jobID)
		if err != nil {
			return fmt.Errorf("op=runner.poll: %w", err)
		}
		if cur.Status == domain.JobCancelled {
			log.Info("job cancelled externally, stopping", slog.Int("processed", processed))
			return persist()
		}

		end := min(start+batch, len(rows))
		outcomes := make([]rowOutcome, end-start)
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(slot int, row map[string]any) {
				defer wg.Done()
				defer func() {
					if rec := recover(); rec != nil {
						outcomes[slot] = rowOutcome{err: fmt.Errorf("row panic: %v", rec)}
					}
				}()
				outcomes[slot] = r.processRow(ctx, job, row, keywords, platforms)
			}(i-start, rows[i])
		}
		wg.Wait()

		for _, oc := range outcomes {
			llmStarted += oc.trace.LLMCalls
			llmSucceeded += succeededLLMCalls(oc.trace)
			serperCalls += oc.trace.SerperCalls
			if oc.trace.PlanUsage != nil {
				promptToks += oc.trace.PlanUsage.PromptTokens
				complToks += oc.trace.PlanUsage.CompletionTokens
				totToks += oc.trace.PlanUsage.TotalTokens
			}
			promptToks += oc.trace.FinalUsage.PromptTokens
			complToks += oc.trace.FinalUsage.CompletionTokens
			totToks += oc.trace.FinalUsage.TotalTokens

			if oc.err != nil {
				log.Error("row pipeline failed", slog.Any("error", oc.err))
				_ = persist()
				_ = r.Jobs.UpdateStatus(ctx, jobID, domain.JobFailed, ptr(domain.StopCompanyError))
				return fmt.Errorf("op=runner.row: %w", oc.err)
			}
			if oc.billable {
				jobRef := jobID
				err := r.Credits.Spend(ctx, domain.CreditSpend{
					UserID: job.UserID,
					Amount: 1,
					JobID:  &jobRef,
					Source: "job",
					Now:    time.Now().UTC(),
				})
				if errors.Is(err, domain.ErrInsufficientCredits) {
					log.Warn("credits exhausted, completing early", slog.Int("processed", processed))
					_ = persist()
					_ = r.Jobs.UpdateStatus(ctx, jobID, domain.JobCompleted, ptr(domain.StopCreditsExhausted))
					return nil
				}
				if err != nil {
					_ = persist()
					_ = r.Jobs.UpdateStatus(ctx, jobID, domain.JobFailed, ptr(domain.StopCompanyError))
					return fmt.Errorf("op=runner.spend: %w", err)
				}
				creditsSpent++
				if err := r.Contacts.CreateBatch(ctx, oc.contacts); err != nil {
					_ = persist()
					_ = r.Jobs.UpdateStatus(ctx, jobID, domain.JobFailed, ptr(domain.StopCompanyError))
					return fmt.Errorf("op=runner.persist: %w", err)
				}
				found += len(oc.contacts)
			}
			processed++
		}
		if err := persist(); err != nil {
			return fmt.Errorf("op=runner.progress: %w", err)
		}
	}

	if err := r.Jobs.UpdateStatus(ctx, jobID, domain.JobCompleted, nil); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil
		}
		return fmt.Errorf("op=runner.finish: %w", err)
	}
	log.Info("job completed",
		slog.Int("processed", processed),
		slog.Int("decision_makers", found),
		slog.Int64("credits_spent", creditsSpent))
	return nil
}

// processRow turns one uploaded row into validated DecisionMaker rows via
// normalization and research. Unusable rows and rows the providers could not
// serve come back empty and unbillable.
func (r Runner) processRow(ctx domain.Context, job domain.Job, row map[string]any, keywords, platforms []string) rowOutcome {
	resolved, locationHint := domain.NormalizeRow(row, job.ColumnMappings)
	if !resolved.Usable() {
		return rowOutcome{}
	}

	people, trace, err := r.Research.Research(ctx, ResearchInput{
		Company:        resolved.Name,
		Location:       locationHint,
		MapsURL:        domain.CellString(row, job.ColumnMappings["google_maps_url"]),
		Website:        resolved.Website,
		CompanyType:    resolved.Type,
		Platforms:      platforms,
		MaxPeople:      r.Cfg.MaxPeoplePerCompany(),
		DeepSearch:     job.Options.DeepSearch,
		RoleKeywords:   keywords,
		MaxSearchCalls: 3,
		ParseMode:      ParseModePeople,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMalformedLLMResponse):
			slog.Warn("extractor reply carried no JSON, row yields nothing",
				slog.Int64("job_id", job.ID), slog.String("company", resolved.Name))
			return rowOutcome{trace: trace}
		case errors.Is(err, domain.ErrProviderDisabled):
			slog.Warn("research provider disabled, skipping row",
				slog.Int64("job_id", job.ID), slog.String("company", resolved.Name))
			return rowOutcome{trace: trace}
		default:
			return rowOutcome{trace: trace, err: err}
		}
	}

	valid := make([]domain.Person, 0, len(people))
	for _, p := range people {
		if validCandidate(p, len(job.Options.JobTitles) > 0, keywords) {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		return rowOutcome{trace: trace}
	}

	rawRow, _ := json.Marshal(row)
	llmInput := marshalJSON(map[string]any{
		"plan_messages":  trace.PlanMessages,
		"final_messages": trace.FinalMessages,
	})
	serperQueries := marshalJSON(trace.SerperQueries)
	llmOutput := marshalJSON(map[string]any{
		"plan_text":  trace.PlanText,
		"final_text": trace.FinalText,
	})

	contacts := make([]domain.DecisionMaker, 0, len(valid))
	for _, p := range valid {
		merged := domain.ResolveForSave(domain.ResolvedCompany{
			Name:    resolved.Name,
			Type:    p.CompanyType,
			Website: p.CompanyWebsite,
			Address: p.CompanyAddress,
		}, resolved)
		contacts = append(contacts, domain.DecisionMaker{
			JobID:               job.ID,
			UserID:              job.UserID,
			CompanyName:         merged.Name,
			CompanyType:         merged.Type,
			CompanyCity:         merged.City,
			CompanyCountry:      merged.Country,
			CompanyWebsite:      merged.Website,
			CompanyAddress:      merged.Address,
			GmapsRating:         p.GmapsRating,
			GmapsReviews:        p.GmapsReviews,
			Name:                p.Name,
			Title:               p.Title,
			Platform:            p.Platform,
			ProfileURL:          p.ProfileURL,
			EmailsFound:         joinEmails(p.EmailsFound),
			Confidence:          p.Confidence,
			UploadedCompanyData: string(rawRow),
			LLMInput:            llmInput,
			SerperQueries:       serperQueries,
			LLMOutput:           llmOutput,
			LLMCallAt:           trace.LLMCallAt,
			SerperCallAt:        trace.SerperCallAt,
		})
	}
	return rowOutcome{contacts: contacts, trace: trace, billable: true}
}

// validCandidate rejects placeholder names, the hallucination fixtures the
// models are known to emit, and titles outside the requested role set.
func validCandidate(p domain.Person, hasJobTitles bool, keywords []string) bool {
	name := strings.ToLower(strings.TrimSpace(p.Name))
	switch name {
	case "", "unknown", "n/a", "na", "-":
		return false
	case "john doe", "jane doe":
		return false
	}
	url := strings.ToLower(p.ProfileURL)
	if strings.Contains(url, "linkedin.com/in/johndoe") || strings.Contains(url, "linkedin.com/in/janedoe") {
		return false
	}
	if hasJobTitles {
		return domain.TitleMatchesKeywords(p.Title, keywords)
	}
	ok, _ := domain.IsDecisionMakerTitle(p.Title)
	return ok
}

// runPlatforms is empty unless deep search is on; then the job's selection
// with linkedin always first.
func runPlatforms(job domain.Job) []string {
	if !job.Options.DeepSearch {
		return nil
	}
	out := []string{"linkedin"}
	for _, p := range job.SelectedPlatforms {
		v := strings.ToLower(strings.TrimSpace(p))
		if v == "" || v == "linkedin" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func succeededLLMCalls(t domain.ResearchTrace) int64 {
	var n int64
	if t.PlanText != "" {
		n++
	}
	if t.FinalText != "" {
		n++
	}
	return n
}

func joinEmails(emails []string) string {
	if len(emails) > 25 {
		emails = emails[:25]
	}
	return strings.Join(emails, ",")
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
