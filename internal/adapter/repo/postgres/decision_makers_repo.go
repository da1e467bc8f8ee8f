package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/lead-scout/internal/adapter/observability"
	"github.com/fairyhunter13/lead-scout/internal/domain"
)

// DecisionMakerRepo persists validated contacts and their research traces.
type DecisionMakerRepo struct{ Pool PgxPool }

// NewDecisionMakerRepo constructs a DecisionMakerRepo with the given pool.
func NewDecisionMakerRepo(p PgxPool) *DecisionMakerRepo { return &DecisionMakerRepo{Pool: p} }

const dmColumns = `id, job_id, user_id,
	company_name, company_type, company_city, company_country, company_website, company_address,
	gmaps_rating, gmaps_reviews,
	name, title, platform, profile_url, emails_found, confidence,
	uploaded_company_data, llm_input, serper_queries, llm_output,
	llm_call_timestamp, serper_call_timestamp, created_at`

// CreateBatch inserts all contacts for one company row atomically.
func (r *DecisionMakerRepo) CreateBatch(ctx domain.Context, dms []domain.DecisionMaker) error {
	if len(dms) == 0 {
		return nil
	}
	tracer := otel.Tracer("repo.decision_makers")
	ctx, span := tracer.Start(ctx, "decision_makers.CreateBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(dms)))

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=decision_maker.create_batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `INSERT INTO decision_makers (job_id, user_id,
		company_name, company_type, company_city, company_country, company_website, company_address,
		gmaps_rating, gmaps_reviews,
		name, title, platform, profile_url, emails_found, confidence,
		uploaded_company_data, llm_input, serper_queries, llm_output,
		llm_call_timestamp, serper_call_timestamp, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`
	now := time.Now().UTC()
	for _, dm := range dms {
		if _, err := tx.Exec(ctx, q, dm.JobID, dm.UserID,
			dm.CompanyName, dm.CompanyType, dm.CompanyCity, dm.CompanyCountry, dm.CompanyWebsite, dm.CompanyAddress,
			dm.GmapsRating, dm.GmapsReviews,
			dm.Name, dm.Title, dm.Platform, dm.ProfileURL, dm.EmailsFound, dm.Confidence,
			dm.UploadedCompanyData, dm.LLMInput, dm.SerperQueries, dm.LLMOutput,
			dm.LLMCallAt, dm.SerperCallAt, now); err != nil {
			return fmt.Errorf("op=decision_maker.create_batch: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=decision_maker.create_batch: %w", err)
	}

	low := 0
	for _, dm := range dms {
		observability.ObserveDecisionMaker(dm.Confidence)
		if dm.Confidence == "LOW" {
			low++
		}
	}
	observability.DriftMonitor.RecordShare(observability.MetricLowConfidenceShare, low, len(dms))
	return nil
}

// ListByJob returns a job's contacts in insertion order.
func (r *DecisionMakerRepo) ListByJob(ctx domain.Context, jobID int64) ([]domain.DecisionMaker, error) {
	tracer := otel.Tracer("repo.decision_makers")
	ctx, span := tracer.Start(ctx, "decision_makers.ListByJob")
	defer span.End()

	q := `SELECT ` + dmColumns + ` FROM decision_makers WHERE job_id=$1 ORDER BY id ASC`
	rows, err := r.Pool.Query(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("op=decision_maker.list_by_job: %w", err)
	}
	defer rows.Close()
	return collectDecisionMakers(rows, "op=decision_maker.list_by_job")
}

// ListByUser returns the user's most recent contacts across jobs.
func (r *DecisionMakerRepo) ListByUser(ctx domain.Context, userID string, limit int) ([]domain.DecisionMaker, error) {
	tracer := otel.Tracer("repo.decision_makers")
	ctx, span := tracer.Start(ctx, "decision_makers.ListByUser")
	defer span.End()

	if limit <= 0 {
		limit = 200
	}
	q := `SELECT ` + dmColumns + ` FROM decision_makers WHERE user_id=$1 ORDER BY id DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=decision_maker.list_by_user: %w", err)
	}
	defer rows.Close()
	return collectDecisionMakers(rows, "op=decision_maker.list_by_user")
}

func collectDecisionMakers(rows pgx.Rows, op string) ([]domain.DecisionMaker, error) {
	var out []domain.DecisionMaker
	for rows.Next() {
		var dm domain.DecisionMaker
		if err := rows.Scan(&dm.ID, &dm.JobID, &dm.UserID,
			&dm.CompanyName, &dm.CompanyType, &dm.CompanyCity, &dm.CompanyCountry, &dm.CompanyWebsite, &dm.CompanyAddress,
			&dm.GmapsRating, &dm.GmapsReviews,
			&dm.Name, &dm.Title, &dm.Platform, &dm.ProfileURL, &dm.EmailsFound, &dm.Confidence,
			&dm.UploadedCompanyData, &dm.LLMInput, &dm.SerperQueries, &dm.LLMOutput,
			&dm.LLMCallAt, &dm.SerperCallAt, &dm.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, dm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
