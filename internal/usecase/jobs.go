package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/lead-scout/internal/domain"
)

// SubmitJobInput carries one parsed job submission.
type SubmitJobInput struct {
	UserID            string
	Filename          string
	ColumnMappings    map[string]string
	Rows              []map[string]any
	SelectedPlatforms []string
	Options           domain.JobOptions
}

// JobService owns the user-facing job lifecycle: submission and enqueue,
// ownership-checked reads, and cancellation. Jobs belonging to another user
// read as not found so ids cannot be probed.
type JobService struct {
	Jobs     domain.JobRepository
	Contacts domain.DecisionMakerRepository
	Queue    domain.Queue
	MaxRows  int
}

// NewJobService constructs a JobService with its dependencies.
func NewJobService(jobs domain.JobRepository, contacts domain.DecisionMakerRepository, queue domain.Queue, maxRows int) JobService {
	return JobService{Jobs: jobs, Contacts: contacts, Queue: queue, MaxRows: maxRows}
}

// Submit persists a validated submission as a queued job and enqueues the
// research task. An enqueue failure fails the job so it never sits queued
// with no task behind it.
func (s JobService) Submit(ctx domain.Context, in SubmitJobInput) (domain.Job, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return domain.Job{}, fmt.Errorf("%w: user id required", domain.ErrInvalidArgument)
	}
	if len(in.Rows) == 0 {
		return domain.Job{}, fmt.Errorf("%w: at least one row required", domain.ErrInvalidArgument)
	}
	if s.MaxRows > 0 && len(in.Rows) > s.MaxRows {
		return domain.Job{}, fmt.Errorf("%w: row count %d exceeds limit %d", domain.ErrInvalidArgument, len(in.Rows), s.MaxRows)
	}
	if strings.TrimSpace(in.ColumnMappings["company_name"]) == "" {
		return domain.Job{}, fmt.Errorf("%w: company_name column mapping required", domain.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	job := domain.Job{
		UserID:            in.UserID,
		SupportID:         ulid.Make().String(),
		Filename:          strings.TrimSpace(in.Filename),
		Status:            domain.JobQueued,
		TotalCompanies:    len(in.Rows),
		ColumnMappings:    in.ColumnMappings,
		CompaniesData:     in.Rows,
		SelectedPlatforms: normalizePlatforms(in.SelectedPlatforms),
		Options:           in.Options,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	id, err := s.Jobs.Create(ctx, job)
	if err != nil {
		return domain.Job{}, err
	}
	job.ID = id

	if _, err := s.Queue.EnqueueResearch(ctx, domain.ResearchTaskPayload{JobID: id, UserID: in.UserID}); err != nil {
		_ = s.Jobs.UpdateStatus(ctx, id, domain.JobFailed, ptr("enqueue failed"))
		return domain.Job{}, err
	}
	slog.Info("job submitted",
		slog.Int64("job_id", id),
		slog.String("user_id", in.UserID),
		slog.Int("rows", len(in.Rows)))
	return job, nil
}

// Get returns the job when it exists and belongs to userID.
func (s JobService) Get(ctx domain.Context, userID string, jobID int64) (domain.Job, error) {
	job, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if job.UserID != userID {
		return domain.Job{}, fmt.Errorf("%w: job %d", domain.ErrNotFound, jobID)
	}
	return job, nil
}

// Results returns the job's decision makers with company fields re-resolved
// at read time.
func (s JobService) Results(ctx domain.Context, userID string, jobID int64) ([]domain.DecisionMaker, error) {
	job, err := s.Get(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	contacts, err := s.Contacts.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for i := range contacts {
		resolveContact(&contacts[i], job.ColumnMappings)
	}
	return contacts, nil
}

// Cancel marks a non-terminal job cancelled; the runner notices at its next
// batch boundary. Terminal jobs report a conflict.
func (s JobService) Cancel(ctx domain.Context, userID string, jobID int64) error {
	if _, err := s.Get(ctx, userID, jobID); err != nil {
		return err
	}
	return s.Jobs.UpdateStatus(ctx, jobID, domain.JobCancelled, nil)
}

// List returns the user's jobs, newest first.
func (s JobService) List(ctx domain.Context, userID string, limit int) ([]domain.Job, error) {
	return s.Jobs.ListByUser(ctx, userID, limit)
}

// resolveContact re-runs field resolution against the stored upload row so
// reads and exports serve the layered company fields.
func resolveContact(dm *domain.DecisionMaker, mappings map[string]string) {
	var uploaded domain.ResolvedCompany
	if dm.UploadedCompanyData != "" {
		var row map[string]any
		if err := json.Unmarshal([]byte(dm.UploadedCompanyData), &row); err == nil {
			uploaded, _ = domain.NormalizeRow(row, mappings)
		}
	}
	merged := domain.ResolveForSave(domain.ResolvedCompany{
		Name:    dm.CompanyName,
		Type:    dm.CompanyType,
		City:    dm.CompanyCity,
		Country: dm.CompanyCountry,
		Website: dm.CompanyWebsite,
		Address: dm.CompanyAddress,
	}, uploaded)
	dm.CompanyName = merged.Name
	dm.CompanyType = merged.Type
	dm.CompanyCity = merged.City
	dm.CompanyCountry = merged.Country
	dm.CompanyWebsite = merged.Website
	dm.CompanyAddress = merged.Address
}

func ptr(s string) *string { return &s }
