package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fairyhunter13/lead-scout/internal/domain"
)

type fakeStaleStore struct {
	jobs        []domain.Job
	updateCalls []struct {
		id     int64
		status domain.JobStatus
		msg    *string
	}
	listErr   error
	updateErr error
	listCalls int
}

func (r *fakeStaleStore) ListStaleProcessing(_ context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	r.listCalls++
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []domain.Job
	for _, j := range r.jobs {
		if j.Status == domain.JobProcessing && j.UpdatedAt.Before(cutoff) {
			out = append(out, j)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeStaleStore) UpdateStatus(_ context.Context, id int64, status domain.JobStatus, msg *string) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updateCalls = append(r.updateCalls, struct {
		id     int64
		status domain.JobStatus
		msg    *string
	}{id: id, status: status, msg: msg})
	for i := range r.jobs {
		if r.jobs[i].ID == id {
			r.jobs[i].Status = status
		}
	}
	return nil
}

func TestNewStuckJobSweeperDefaults(t *testing.T) {
	store := &fakeStaleStore{}
	s := NewStuckJobSweeper(store, 0, 0)
	if s == nil {
		t.Fatalf("expected non-nil sweeper")
	}
	if s.maxProcessingAge <= 0 {
		t.Fatalf("maxProcessingAge should be set to default, got %v", s.maxProcessingAge)
	}
	if s.interval <= 0 {
		t.Fatalf("interval should be set to default, got %v", s.interval)
	}
}

func TestNewStuckJobSweeperNilStore(t *testing.T) {
	if sweeper := NewStuckJobSweeper(nil, time.Minute, time.Minute); sweeper != nil {
		t.Fatalf("expected nil sweeper when store is nil")
	}
}

func TestStuckJobSweeperSweepOnceMarksStaleJobsFailed(t *testing.T) {
	now := time.Now()
	store := &fakeStaleStore{
		jobs: []domain.Job{
			{ID: 1, Status: domain.JobProcessing, UpdatedAt: now.Add(-30 * time.Minute)},
			{ID: 2, Status: domain.JobProcessing, UpdatedAt: now.Add(-1 * time.Minute)},
			{ID: 3, Status: domain.JobCompleted, UpdatedAt: now.Add(-30 * time.Minute)},
		},
	}
	s := &StuckJobSweeper{
		jobs:             store,
		maxProcessingAge: 5 * time.Minute,
		interval:         time.Minute,
	}

	s.sweepOnce(context.Background())

	if len(store.updateCalls) != 1 {
		t.Fatalf("expected 1 update call, got %d", len(store.updateCalls))
	}
	call := store.updateCalls[0]
	if call.id != 1 {
		t.Fatalf("expected job 1 to be updated, got %d", call.id)
	}
	if call.status != domain.JobFailed {
		t.Fatalf("expected status %q, got %q", domain.JobFailed, call.status)
	}
	if call.msg == nil || *call.msg == "" {
		t.Fatalf("expected non-empty failure message")
	}
}

func TestStuckJobSweeperSweepOnceDrainsBacklog(t *testing.T) {
	now := time.Now()
	store := &fakeStaleStore{}
	for i := int64(1); i <= 250; i++ {
		store.jobs = append(store.jobs, domain.Job{
			ID: i, Status: domain.JobProcessing, UpdatedAt: now.Add(-time.Hour),
		})
	}
	s := &StuckJobSweeper{
		jobs:             store,
		maxProcessingAge: 5 * time.Minute,
		interval:         time.Minute,
	}

	s.sweepOnce(context.Background())

	if len(store.updateCalls) != 250 {
		t.Fatalf("expected 250 update calls, got %d", len(store.updateCalls))
	}
}

func TestStuckJobSweeperSweepOnceStopsWhenNothingMarks(t *testing.T) {
	now := time.Now()
	store := &fakeStaleStore{
		updateErr: errors.New("db down"),
	}
	for i := int64(1); i <= 150; i++ {
		store.jobs = append(store.jobs, domain.Job{
			ID: i, Status: domain.JobProcessing, UpdatedAt: now.Add(-time.Hour),
		})
	}
	s := &StuckJobSweeper{
		jobs:             store,
		maxProcessingAge: 5 * time.Minute,
		interval:         time.Minute,
	}

	s.sweepOnce(context.Background())

	if store.listCalls != 1 {
		t.Fatalf("expected a single list when no job can be marked, got %d", store.listCalls)
	}
}

func TestStuckJobSweeperSweepOnceListError(t *testing.T) {
	store := &fakeStaleStore{listErr: errors.New("boom")}
	s := &StuckJobSweeper{
		jobs:             store,
		maxProcessingAge: 5 * time.Minute,
		interval:         time.Minute,
	}

	s.sweepOnce(context.Background())

	if len(store.updateCalls) != 0 {
		t.Fatalf("expected no update calls, got %d", len(store.updateCalls))
	}
}

func TestStuckJobSweeperRunStopsOnContextDone(t *testing.T) {
	store := &fakeStaleStore{}
	s := NewStuckJobSweeper(store, time.Minute, 10*time.Millisecond)
	if s == nil {
		t.Fatalf("expected non-nil sweeper")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(ch)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-ch:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("Run did not exit after context cancellation")
	}
}
