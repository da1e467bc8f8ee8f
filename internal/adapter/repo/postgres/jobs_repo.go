package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/lead-scout/internal/domain"
)

// JobRepo persists and loads research jobs from PostgreSQL.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

const jobColumns = `id, user_id, support_id, filename, status, stop_reason,
	total_companies, processed_companies, decision_makers_found, credits_spent,
	column_mappings, companies_data, selected_platforms, options,
	llm_calls_started, llm_calls_succeeded, serper_calls,
	llm_prompt_tokens, llm_completion_tokens, llm_total_tokens,
	llm_cost_usd, serper_cost_usd, total_cost_usd, cost_per_contact_usd,
	created_at, updated_at`

// Create inserts a new job and returns its generated id.
func (r *JobRepo) Create(ctx domain.Context, j domain.Job) (int64, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()

	mappings, err := json.Marshal(j.ColumnMappings)
	if err != nil {
		return 0, fmt.Errorf("op=job.create: %w", err)
	}
	companies, err := json.Marshal(j.CompaniesData)
	if err != nil {
		return 0, fmt.Errorf("op=job.create: %w", err)
	}
	platforms, err := json.Marshal(j.SelectedPlatforms)
	if err != nil {
		return 0, fmt.Errorf("op=job.create: %w", err)
	}
	options, err := json.Marshal(j.Options)
	if err != nil {
		return 0, fmt.Errorf("op=job.create: %w", err)
	}

	now := time.Now().UTC()
	q := `INSERT INTO jobs (user_id, support_id, filename, status, total_companies,
		column_mappings, companies_data, selected_platforms, options, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10) RETURNING id`
	var id int64
	if err := r.Pool.QueryRow(ctx, q, j.UserID, j.SupportID, j.Filename, j.Status,
		j.TotalCompanies, mappings, companies, platforms, options, now).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=job.create: %w", err)
	}
	return id, nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id int64) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()

	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id=$1`
	j, err := scanJob(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// ListByUser returns the user's jobs newest first.
func (r *JobRepo) ListByUser(ctx domain.Context, userID string, limit int) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListByUser")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=job.list: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=job.list: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list: %w", err)
	}
	return jobs, nil
}

// ListStaleProcessing returns processing jobs whose last update predates
// cutoff, oldest first. The stuck-job sweeper feeds on this.
func (r *JobRepo) ListStaleProcessing(ctx domain.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListStaleProcessing")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE status='processing' AND updated_at < $1
		ORDER BY updated_at ASC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("op=job.list_stale: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=job.list_stale: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list_stale: %w", err)
	}
	return jobs, nil
}

// UpdateStatus moves a job to status and records an optional stop reason.
// Terminal statuses are sticky: updating a finished job returns ErrConflict
// so a racing cancel can never overwrite a completed run.
func (r *JobRepo) UpdateStatus(ctx domain.Context, id int64, status domain.JobStatus, stopReason *string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateStatus")
	defer span.End()

	q := `UPDATE jobs SET status=$2, stop_reason=COALESCE($3, stop_reason), updated_at=$4
		WHERE id=$1 AND status NOT IN ('completed','failed','cancelled')`
	tag, err := r.Pool.Exec(ctx, q, id, status, stopReason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=job.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var cur domain.JobStatus
		err := r.Pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id=$1`, id).Scan(&cur)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("op=job.update_status: %w", domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("op=job.update_status: %w", err)
		}
		return fmt.Errorf("op=job.update_status: job is %s: %w", cur, domain.ErrConflict)
	}
	return nil
}

// UpdateProgress persists absolute counter and cost values for a job.
func (r *JobRepo) UpdateProgress(ctx domain.Context, id int64, p domain.JobProgress) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateProgress")
	defer span.End()

	q := `UPDATE jobs SET processed_companies=$2, decision_makers_found=$3, credits_spent=$4,
		llm_calls_started=$5, llm_calls_succeeded=$6, serper_calls=$7,
		llm_prompt_tokens=$8, llm_completion_tokens=$9, llm_total_tokens=$10,
		llm_cost_usd=$11, serper_cost_usd=$12, total_cost_usd=$13, cost_per_contact_usd=$14,
		updated_at=$15 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id,
		p.ProcessedCompanies, p.DecisionMakersFound, p.CreditsSpent,
		p.LLMCallsStarted, p.LLMCallsSucceeded, p.SerperCalls,
		p.LLMPromptTokens, p.LLMCompletionTokens, p.LLMTotalTokens,
		p.LLMCostUSD, p.SerperCostUSD, p.TotalCostUSD, p.CostPerContactUSD,
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=job.update_progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.update_progress: %w", domain.ErrNotFound)
	}
	return nil
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	var mappings, companies, platforms, options []byte
	if err := row.Scan(&j.ID, &j.UserID, &j.SupportID, &j.Filename, &j.Status, &j.StopReason,
		&j.TotalCompanies, &j.ProcessedCompanies, &j.DecisionMakersFound, &j.CreditsSpent,
		&mappings, &companies, &platforms, &options,
		&j.LLMCallsStarted, &j.LLMCallsSucceeded, &j.SerperCalls,
		&j.LLMPromptTokens, &j.LLMCompletionTokens, &j.LLMTotalTokens,
		&j.LLMCostUSD, &j.SerperCostUSD, &j.TotalCostUSD, &j.CostPerContactUSD,
		&j.CreatedAt, &j.UpdatedAt); err != nil {
		return domain.Job{}, err
	}
	if len(mappings) > 0 {
		if err := json.Unmarshal(mappings, &j.ColumnMappings); err != nil {
			return domain.Job{}, fmt.Errorf("decode column_mappings: %w", err)
		}
	}
	if len(companies) > 0 {
		if err := json.Unmarshal(companies, &j.CompaniesData); err != nil {
			return domain.Job{}, fmt.Errorf("decode companies_data: %w", err)
		}
	}
	if len(platforms) > 0 {
		if err := json.Unmarshal(platforms, &j.SelectedPlatforms); err != nil {
			return domain.Job{}, fmt.Errorf("decode selected_platforms: %w", err)
		}
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &j.Options); err != nil {
			return domain.Job{}, fmt.Errorf("decode options: %w", err)
		}
	}
	return j, nil
}
