// Package task holds the asynchronous work executed on the queue lanes:
// the conversion driver, retention cleanup and the heartbeat, plus the
// periodic scheduler that feeds the maintenance lanes.
package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/envlight/hdrid/internal/config"
	"github.com/envlight/hdrid/internal/harvest"
	"github.com/envlight/hdrid/internal/job"
	"github.com/envlight/hdrid/internal/job/repository"
	"github.com/envlight/hdrid/internal/logging/logger"
	"github.com/envlight/hdrid/internal/provider"
	"github.com/envlight/hdrid/internal/queue"
	"github.com/envlight/hdrid/internal/storage"
)

// Task kinds.
const (
	KindProcess   = "process_hdri"
	KindCleanup   = "cleanup_old_jobs"
	KindHeartbeat = "heartbeat"
)

// localMilestones is the progress sequence walked when no external
// compute reference exists for a job.
var localMilestones = []int{20, 40, 60, 80, 95}

// ProcessingID derives the task id for a job so a job can never have two
// queued conversion tasks at once.
func ProcessingID(jobID string) string {
	return "hdri:" + jobID
}

// NewProcessingTask builds the queue task driving one job's conversion.
func NewProcessingTask(jobID string) *queue.Task {
	return &queue.Task{
		ID:     ProcessingID(jobID),
		Kind:   KindProcess,
		Params: map[string]string{"job_id": jobID},
	}
}

// Processing drives a single job from started to a terminal state, either
// by polling the compute provider or by simulating the work locally.
type Processing struct {
	repo      repository.JobRepository
	client    provider.Client
	harvester *harvest.Harvester
	store     storage.Interface

	pollInterval   time.Duration
	processTimeout time.Duration
	localStepDelay time.Duration
}

// NewProcessing wires the conversion driver.
func NewProcessing(repo repository.JobRepository, client provider.Client, harvester *harvest.Harvester, store storage.Interface, qcfg *config.Queue, pcfg *config.Provider) *Processing {
	return &Processing{
		repo:           repo,
		client:         client,
		harvester:      harvester,
		store:          store,
		pollInterval:   qcfg.PollInterval,
		processTimeout: qcfg.ProcessTimeout,
		localStepDelay: pcfg.LocalStepDelay,
	}
}

// Handle executes one conversion task. Redelivery of a task whose job
// already reached a terminal state is a no-op.
func (p *Processing) Handle(ctx context.Context, t *queue.Task) (err error) {
	jobID := t.Params["job_id"]
	if jobID == "" {
		logger.Errorf(ctx, "processing task %s carries no job id, dropping", t.ID)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("processing panicked: %v", r)
			sentry.CaptureException(fmt.Errorf("%s (job %s)", msg, jobID))
			p.fail(ctx, jobID, msg)
			err = nil
		}
	}()

	j, err := p.repo.FindByID(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warnf(ctx, "processing task for unknown job %s, dropping", jobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if j.Terminal() {
		return nil
	}

	if _, _, err := p.repo.ApplyEvent(ctx, jobID, job.Started()); err != nil {
		return fmt.Errorf("start job %s: %w", jobID, err)
	}

	if j.ExternalID == "" {
		return p.runLocal(ctx, j)
	}
	return p.runRemote(ctx, j)
}

// runLocal walks the milestone sequence and synthesizes artifacts. Used
// when the job was accepted without an external compute reference.
func (p *Processing) runLocal(ctx context.Context, j *job.Job) error {
	logger.Infof(ctx, "processing job %s locally", j.ID)

	for _, milestone := range localMilestones {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.localStepDelay):
		}

		stored, _, err := p.repo.ApplyEvent(ctx, j.ID, job.ProgressUpdate(milestone))
		if err != nil {
			return fmt.Errorf("record progress for job %s: %w", j.ID, err)
		}
		if stored.Terminal() {
			// Cancelled out from under us, stop quietly.
			return nil
		}
	}

	files, err := p.synthesizeArtifacts(ctx, j)
	if err != nil {
		p.fail(ctx, j.ID, fmt.Sprintf("failed to store results: %v", err))
		return nil
	}

	if _, _, err := p.repo.ApplyEvent(ctx, j.ID, job.Completed(files)); err != nil {
		return fmt.Errorf("complete job %s: %w", j.ID, err)
	}
	logger.Infof(ctx, "job %s completed locally with %d artifacts", j.ID, len(files))
	return nil
}

// synthesizeArtifacts writes placeholder result and preview files so the
// local path produces downloadable output like the provider path does.
func (p *Processing) synthesizeArtifacts(_ context.Context, j *job.Job) ([]job.ResultFile, error) {
	resultName := fmt.Sprintf("result.%s", j.Config.OutputFormat)
	entries := []struct {
		name    string
		kind    string
		format  string
		content string
	}{
		{resultName, job.FileTypeHDRI, j.Config.OutputFormat, fmt.Sprintf("synthetic %s environment for job %s\n", j.Config.OutputFormat, j.ID)},
		{"preview.jpg", job.FileTypePreview, "jpg", fmt.Sprintf("synthetic preview for job %s\n", j.ID)},
	}

	files := make([]job.ResultFile, 0, len(entries))
	for _, e := range entries {
		storagePath := fmt.Sprintf("results/%s/%s", j.ID, e.name)
		obj, err := p.store.Put(storagePath, bytes.NewReader([]byte(e.content)))
		if err != nil {
			return nil, err
		}
		downloadURL, err := p.store.GetURL(storagePath)
		if err != nil {
			downloadURL = storagePath
		}
		files = append(files, job.ResultFile{
			Filename:    e.name,
			StoragePath: storagePath,
			DownloadURL: downloadURL,
			Type:        e.kind,
			Format:      e.format,
			Size:        obj.Size,
			Resolution:  fmt.Sprintf("%d", j.Config.Resolution),
		})
	}
	return files, nil
}

// runRemote polls the provider until the job reaches a terminal state or
// the processing timeout lapses. Progress between observations is derived
// from the elapsed fraction of the timeout.
func (p *Processing) runRemote(ctx context.Context, j *job.Job) error {
	logger.Infof(ctx, "processing job %s via provider reference %s", j.ID, j.ExternalID)
	start := time.Now()

	for {
		if elapsed := time.Since(start); elapsed > p.processTimeout {
			p.client.Cancel(ctx, j.ExternalID)
			p.fail(ctx, j.ID, "Processing timeout")
			return nil
		}

		st, err := p.client.Status(ctx, j.ExternalID)
		switch {
		case err != nil:
			// Transient poll errors are tolerated until the timeout.
			logger.Warnf(ctx, "poll job %s (%s) failed: %v", j.ID, j.ExternalID, err)
		case st == nil:
			p.fail(ctx, j.ID, "provider lost track of the job")
			return nil
		default:
			done, err := p.observe(ctx, j, st, start)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

// observe folds one provider status observation into the job. It reports
// whether the loop should stop.
func (p *Processing) observe(ctx context.Context, j *job.Job, st *provider.JobStatus, start time.Time) (bool, error) {
	switch st.Status {
	case provider.StatusInQueue, provider.StatusInProgress:
		// Progress advances with elapsed time on every poll, including
		// while the job still waits in the provider's queue.
		progress := 10 + int(time.Since(start).Seconds()/p.processTimeout.Seconds()*80)
		if progress > 90 {
			progress = 90
		}
		stored, _, err := p.repo.ApplyEvent(ctx, j.ID, job.ProgressUpdate(progress))
		if err != nil {
			return false, fmt.Errorf("record progress for job %s: %w", j.ID, err)
		}
		// The webhook path may have finished the job already.
		return stored.Terminal(), nil

	case provider.StatusCompleted:
		files, err := p.harvester.Collect(ctx, j.ID, st.Output)
		if err != nil {
			sentry.CaptureException(err)
			p.fail(ctx, j.ID, fmt.Sprintf("failed to collect results: %v", err))
			return true, nil
		}
		if _, _, err := p.repo.ApplyEvent(ctx, j.ID, job.Completed(files)); err != nil {
			return false, fmt.Errorf("complete job %s: %w", j.ID, err)
		}
		logger.Infof(ctx, "job %s completed with %d artifacts", j.ID, len(files))
		return true, nil

	case provider.StatusFailed:
		reason := st.Error
		if reason == "" {
			reason = "Processing failed"
		}
		p.fail(ctx, j.ID, reason)
		return true, nil

	case provider.StatusCancelled:
		if _, _, err := p.repo.ApplyEvent(ctx, j.ID, job.Cancelled()); err != nil {
			return false, fmt.Errorf("cancel job %s: %w", j.ID, err)
		}
		return true, nil
	}

	logger.Warnf(ctx, "job %s reported unknown provider status %q", j.ID, st.Status)
	return false, nil
}

// fail moves the job to failed, tolerating races with other writers.
func (p *Processing) fail(ctx context.Context, jobID, reason string) {
	if _, _, err := p.repo.ApplyEvent(ctx, jobID, job.Failed(reason)); err != nil {
		logger.Errorf(ctx, "mark job %s failed: %v", jobID, err)
	}
	logger.Warnf(ctx, "job %s failed: %s", jobID, reason)
}
