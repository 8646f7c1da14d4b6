// Package service implements the job coordination operations behind the
// HTTP surface: creation and submission, cancellation, queries and
// aggregate statistics.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/envlight/hdrid/internal/config"
	"github.com/envlight/hdrid/internal/ctxutil"
	"github.com/envlight/hdrid/internal/job"
	"github.com/envlight/hdrid/internal/job/repository"
	"github.com/envlight/hdrid/internal/logging/logger"
	"github.com/envlight/hdrid/internal/provider"
	"github.com/envlight/hdrid/internal/queue"
	"github.com/envlight/hdrid/internal/task"
)

// ErrNotFound is returned for queries against unknown job ids.
var ErrNotFound = repository.ErrNotFound

// ErrTerminal is returned when an operation needs a live job.
var ErrTerminal = errors.New("job already reached a terminal state")

// ErrNotReady is returned when results are requested before completion.
var ErrNotReady = errors.New("job has no results yet")

// CreateJobRequest is the submission input.
type CreateJobRequest struct {
	Name          string     `json:"name" validate:"omitempty,max=128"`
	InputFileID   string     `json:"input_file_id" validate:"required,max=128"`
	InputFileName string     `json:"input_file_name" validate:"required,max=255"`
	InputFileURL  string     `json:"input_file_url" validate:"omitempty,url"`
	Config        job.Config `json:"configuration"`
}

var validate = validator.New()

// Statistics is the aggregate view over all tracked jobs.
type Statistics struct {
	Total             int                `json:"total_jobs"`
	ByStatus          map[job.Status]int `json:"by_status"`
	AvgProcessingTime float64            `json:"average_processing_time"`
}

// Service coordinates the repository, the compute provider and the task
// queue.
type Service struct {
	repo       repository.JobRepository
	client     provider.Client
	queue      *queue.Queue
	webhookURL string
}

// New creates the job service. A nil client disables provider submission
// and routes jobs through the local processing path.
func New(repo repository.JobRepository, client provider.Client, q *queue.Queue, cfg *config.Provider) *Service {
	return &Service{
		repo:       repo,
		client:     client,
		queue:      q,
		webhookURL: cfg.WebhookURL,
	}
}

// CreateJob validates the request, persists a pending job, submits it to
// the provider when one is configured and queues the conversion task.
// Submission failures move the job to failed immediately, they are not
// retried.
func (s *Service) CreateJob(ctx context.Context, req *CreateJobRequest) (*job.Job, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	cfg := req.Config
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	name := req.Name
	if name == "" {
		name = req.InputFileName
	}

	j := job.New(name, req.InputFileID, req.InputFileName, req.InputFileURL, cfg)
	if err := s.repo.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}
	logger.Infof(ctx, "job %s created for input %s", j.ID, j.InputFileID)

	if s.client != nil && s.client.Available() {
		externalID, err := s.client.Submit(ctx, provider.BuildRequest(j.InputFileURL, cfg, s.webhookURL))
		if err != nil {
			reason := fmt.Sprintf("Failed to submit job: %v", err)
			if stored, _, ferr := s.repo.ApplyEvent(ctx, j.ID, job.Failed(reason)); ferr == nil {
				return stored, nil
			}
			return nil, fmt.Errorf("submit job %s: %w", j.ID, err)
		}
		if err := s.repo.SetExternalID(ctx, j.ID, externalID); err != nil {
			return nil, fmt.Errorf("record reference for job %s: %w", j.ID, err)
		}
		j.ExternalID = externalID
		// The provider accepted the work, so the job is processing from
		// the caller's point of view even before the first poll.
		if stored, _, err := s.repo.ApplyEvent(ctx, j.ID, job.Started()); err == nil {
			j = stored
		} else {
			logger.Errorf(ctx, "mark job %s started: %v", j.ID, err)
		}
		logger.Infof(ctx, "job %s submitted as %s", j.ID, externalID)
	}

	asyncCtx, cancel := ctxutil.WithAsyncContext(ctx, 0)
	defer cancel()
	if err := s.queue.Enqueue(asyncCtx, queue.LaneProcessing, task.NewProcessingTask(j.ID)); err != nil &&
		!errors.Is(err, queue.ErrTaskExists) {
		logger.Errorf(ctx, "queue conversion for job %s: %v", j.ID, err)
		if stored, _, ferr := s.repo.ApplyEvent(ctx, j.ID, job.Failed("Failed to queue job")); ferr == nil {
			return stored, nil
		}
		return nil, fmt.Errorf("queue job %s: %w", j.ID, err)
	}

	return j, nil
}

// GetJob returns one job by id.
func (s *Service) GetJob(ctx context.Context, id string) (*job.Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns a page of jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, offset, limit int) ([]*job.Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, offset, limit)
}

// CancelJob cancels a live job, notifying the provider best effort.
func (s *Service) CancelJob(ctx context.Context, id string) (*job.Job, error) {
	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Terminal() {
		return j, ErrTerminal
	}

	if j.ExternalID != "" && s.client != nil {
		s.client.Cancel(ctx, j.ExternalID)
	}

	stored, applied, err := s.repo.ApplyEvent(ctx, id, job.Cancelled())
	if err != nil {
		return nil, fmt.Errorf("cancel job %s: %w", id, err)
	}
	if !applied {
		// Lost the race against another terminal transition.
		return stored, ErrTerminal
	}
	logger.Infof(ctx, "job %s cancelled", id)
	return stored, nil
}

// JobResults returns the harvested artifacts of a completed job.
func (s *Service) JobResults(ctx context.Context, id string) ([]job.ResultFile, error) {
	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status != job.StatusCompleted {
		return nil, fmt.Errorf("job %s is %s: %w", id, j.Status, ErrNotReady)
	}
	return j.ResultFiles, nil
}

// GetStatistics aggregates job counts and processing time.
func (s *Service) GetStatistics(ctx context.Context) (*Statistics, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	avg, err := s.repo.AvgProcessingTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("average processing time: %w", err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	return &Statistics{Total: total, ByStatus: counts, AvgProcessingTime: avg}, nil
}
