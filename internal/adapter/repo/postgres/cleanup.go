package postgres

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5"
)

// CleanupService removes research data past the retention window. Credit
// ledger rows are never touched: the ledger is the billing source of truth
// and expiry is handled by the balance queries, not by deletion.
type CleanupService struct {
	Pool          PgxPool
	RetentionDays int
}

// NewCleanupService creates a cleanup service with the given retention.
func NewCleanupService(pool PgxPool, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// CleanupOldData deletes terminal jobs older than the retention window and
// their decision makers.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=cleanup.begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	dmTag, err := tx.Exec(ctx, `
		DELETE FROM decision_makers
		WHERE job_id IN (
			SELECT id FROM jobs
			WHERE created_at < $1 AND status IN ('completed','failed','cancelled')
		)`, cutoff)
	if err != nil {
		return fmt.Errorf("op=cleanup.decision_makers: %w", err)
	}

	jobsTag, err := tx.Exec(ctx, `
		DELETE FROM jobs
		WHERE created_at < $1 AND status IN ('completed','failed','cancelled')`, cutoff)
	if err != nil {
		return fmt.Errorf("op=cleanup.jobs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=cleanup.commit: %w", err)
	}

	slog.Info("data cleanup completed",
		slog.Int64("deleted_jobs", jobsTag.RowsAffected()),
		slog.Int64("deleted_decision_makers", dmTag.RowsAffected()),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// RunPeriodic runs CleanupOldData immediately and then on every tick until
// the context is cancelled.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
