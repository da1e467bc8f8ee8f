package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/lead-scout/internal/domain"
)

// StatsRepo serves the admin stats and export reads. All queries are
// read-only aggregates over jobs and decision_makers.
type StatsRepo struct{ Pool PgxPool }

// NewStatsRepo constructs a StatsRepo with the given pool.
func NewStatsRepo(p PgxPool) *StatsRepo { return &StatsRepo{Pool: p} }

// Summary returns system-wide job, contact, credit and cost counters.
func (r *StatsRepo) Summary(ctx domain.Context) (domain.AdminStats, error) {
	tracer := otel.Tracer("repo.stats")
	ctx, span := tracer.Start(ctx, "stats.Summary")
	defer span.End()

	var out domain.AdminStats
	q := `SELECT COUNT(*), COUNT(DISTINCT user_id),
		COALESCE(SUM(credits_spent),0),
		COALESCE(SUM(llm_cost_usd),0), COALESCE(SUM(serper_cost_usd),0), COALESCE(SUM(total_cost_usd),0)
		FROM jobs`
	if err := r.Pool.QueryRow(ctx, q).Scan(&out.TotalJobs, &out.TotalUsers,
		&out.CreditsSpent, &out.LLMCostUSD, &out.SerperCostUSD, &out.TotalCostUSD); err != nil {
		return domain.AdminStats{}, fmt.Errorf("op=stats.summary: %w", err)
	}

	rows, err := r.Pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return domain.AdminStats{}, fmt.Errorf("op=stats.summary: %w", err)
	}
	defer rows.Close()
	out.JobsByStatus = map[string]int64{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return domain.AdminStats{}, fmt.Errorf("op=stats.summary: %w", err)
		}
		out.JobsByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return domain.AdminStats{}, fmt.Errorf("op=stats.summary: %w", err)
	}

	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM decision_makers`).Scan(&out.TotalDecisionMakers); err != nil {
		return domain.AdminStats{}, fmt.Errorf("op=stats.summary: %w", err)
	}
	return out, nil
}

// RecentJobs returns the newest jobs across all users.
func (r *StatsRepo) RecentJobs(ctx domain.Context, limit int) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.stats")
	ctx, span := tracer.Start(ctx, "stats.RecentJobs")
	defer span.End()

	if limit <= 0 {
		limit = 1000
	}
	q := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC, id DESC LIMIT $1`
	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=stats.recent_jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=stats.recent_jobs: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=stats.recent_jobs: %w", err)
	}
	return jobs, nil
}

// RecentDecisionMakers returns the newest contacts across all users.
func (r *StatsRepo) RecentDecisionMakers(ctx domain.Context, limit int) ([]domain.DecisionMaker, error) {
	tracer := otel.Tracer("repo.stats")
	ctx, span := tracer.Start(ctx, "stats.RecentDecisionMakers")
	defer span.End()

	if limit <= 0 {
		limit = 1000
	}
	q := `SELECT ` + dmColumns + ` FROM decision_makers ORDER BY id DESC LIMIT $1`
	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=stats.recent_decision_makers: %w", err)
	}
	defer rows.Close()
	return collectDecisionMakers(rows, "op=stats.recent_decision_makers")
}
