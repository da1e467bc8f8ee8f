package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/lead-scout/internal/domain"
)

// staleJobStore is the slice of the job repository the sweeper needs.
type staleJobStore interface {
	ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error)
	UpdateStatus(ctx context.Context, id int64, status domain.JobStatus, stopReason *string) error
}

// StuckJobSweeper fails jobs whose worker died mid-run. A job left in
// processing past maxProcessingAge has lost its consumer; marking it failed
// unblocks the user and keeps the queue lag metrics honest.
type StuckJobSweeper struct {
	jobs             staleJobStore
	maxProcessingAge time.Duration
	interval         time.Duration
}

// NewStuckJobSweeper builds a sweeper. Zero durations fall back to a
// 10 minute max age and a 1 minute sweep interval.
func NewStuckJobSweeper(jobs staleJobStore, maxProcessingAge, interval time.Duration) *StuckJobSweeper {
	if jobs == nil {
		return nil
	}
	if maxProcessingAge <= 0 {
		maxProcessingAge = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckJobSweeper{
		jobs:             jobs,
		maxProcessingAge: maxProcessingAge,
		interval:         interval,
	}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *StuckJobSweeper) Run(ctx context.Context) {
	if s == nil || s.jobs == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck job sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckJobSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.sweeper")
	ctx, span := tracer.Start(ctx, "StuckJobSweeper.sweepOnce")
	defer span.End()

	cutoff := time.Now().Add(-s.maxProcessingAge)
	const pageSize = 100
	span.SetAttributes(
		attribute.Int("jobs.page_size", pageSize),
		attribute.Float64("jobs.max_processing_age_seconds", s.maxProcessingAge.Seconds()),
	)

	totalMarkedFailed := 0

	// Marked jobs leave the processing set, so each pass re-reads from the
	// start instead of paging by offset.
	for {
		jobs, err := s.jobs.ListStaleProcessing(ctx, cutoff, pageSize)
		if err != nil {
			span.RecordError(err)
			slog.Error("stuck job sweep failed to list jobs", slog.Any("error", err))
			return
		}
		if len(jobs) == 0 {
			break
		}

		marked := 0
		for _, j := range jobs {
			jobCtx, jobSpan := tracer.Start(ctx, "StuckJobSweeper.markFailed")
			jobSpan.SetAttributes(
				attribute.Int64("job.id", j.ID),
				attribute.String("job.status", string(j.Status)),
			)
			msg := fmt.Sprintf("job processing exceeded maximum age %v; marking as failed by sweeper", s.maxProcessingAge)
			if err := s.jobs.UpdateStatus(jobCtx, j.ID, domain.JobFailed, &msg); err != nil {
				jobSpan.RecordError(err)
				slog.Error("stuck job sweep failed to update job status", slog.Int64("job_id", j.ID), slog.Any("error", err))
			} else {
				marked++
				totalMarkedFailed++
			}
			jobSpan.End()
		}

		// A page where nothing could be marked would be re-read verbatim.
		if marked == 0 || len(jobs) < pageSize {
			break
		}
	}

	span.SetAttributes(attribute.Int("jobs.total_marked_failed", totalMarkedFailed))
}
