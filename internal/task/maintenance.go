package task

import (
	"context"
	"fmt"
	"time"

	"github.com/envlight/hdrid/internal/config"
	"github.com/envlight/hdrid/internal/job/repository"
	"github.com/envlight/hdrid/internal/logging/logger"
	"github.com/envlight/hdrid/internal/queue"
	"github.com/envlight/hdrid/internal/storage"
)

// Maintenance holds the periodic housekeeping handlers.
type Maintenance struct {
	repo         repository.JobRepository
	store        storage.Interface
	retentionAge time.Duration
	startedAt    time.Time
}

// NewMaintenance wires the housekeeping handlers.
func NewMaintenance(repo repository.JobRepository, store storage.Interface, cfg *config.Maintenance) *Maintenance {
	return &Maintenance{
		repo:         repo,
		store:        store,
		retentionAge: cfg.RetentionAge,
		startedAt:    time.Now(),
	}
}

// HandleCleanup removes stored artifacts of terminal jobs older than the
// retention age and clears their result references. The job records
// themselves are kept.
func (m *Maintenance) HandleCleanup(ctx context.Context, _ *queue.Task) error {
	cutoff := time.Now().Add(-m.retentionAge)
	jobs, err := m.repo.TerminalOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("find expired jobs: %w", err)
	}

	cleaned := 0
	for _, j := range jobs {
		if len(j.ResultFiles) == 0 {
			continue
		}
		for _, rf := range j.ResultFiles {
			if rf.StoragePath == "" {
				continue
			}
			if err := m.store.Delete(rf.StoragePath); err != nil {
				logger.Warnf(ctx, "delete artifact %s of job %s: %v", rf.StoragePath, j.ID, err)
			}
		}
		if err := m.repo.ClearResultFiles(ctx, j.ID); err != nil {
			logger.Errorf(ctx, "clear result files of job %s: %v", j.ID, err)
			continue
		}
		cleaned++
	}

	logger.Infof(ctx, "retention cleanup done, %d of %d expired jobs cleaned", cleaned, len(jobs))
	return nil
}

// HandleHeartbeat emits a liveness record on the monitoring lane.
func (m *Maintenance) HandleHeartbeat(ctx context.Context, _ *queue.Task) error {
	counts, err := m.repo.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count jobs: %w", err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	logger.Infof(ctx, "heartbeat: up %s, %d jobs tracked", time.Since(m.startedAt).Round(time.Second), total)
	return nil
}
