// Package webhook verifies and applies push notifications from the
// compute provider. The webhook is the fast path; the polling loop is the
// safety net. Both feed the same state machine, so replays and races
// collapse into no-ops.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/envlight/hdrid/internal/config"
	"github.com/envlight/hdrid/internal/harvest"
	"github.com/envlight/hdrid/internal/job"
	"github.com/envlight/hdrid/internal/job/repository"
	"github.com/envlight/hdrid/internal/logging/logger"
	"github.com/envlight/hdrid/internal/provider"
)

// signaturePrefix is the scheme tag carried in the signature header.
const signaturePrefix = "sha256="

// Payload is the notification body sent by the provider.
type Payload struct {
	ID       string           `json:"id"`
	Status   string           `json:"status"`
	Progress *int             `json:"progress,omitempty"`
	Output   *provider.Output `json:"output,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Reconciler folds provider notifications into job state.
type Reconciler struct {
	repo      repository.JobRepository
	harvester *harvest.Harvester
	secret    string
}

// New creates a reconciler with the shared webhook secret.
func New(repo repository.JobRepository, harvester *harvest.Harvester, cfg *config.Webhook) *Reconciler {
	return &Reconciler{repo: repo, harvester: harvester, secret: cfg.Secret}
}

// VerifySignature checks the HMAC-SHA256 signature over the raw body.
// Comparison is constant time.
func (r *Reconciler) VerifySignature(body []byte, header string) bool {
	mac := hmac.New(sha256.New, []byte(r.secret))
	mac.Write(body)
	expected := signaturePrefix + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

// Sign computes the signature header for a body. Used by the test
// endpoint to produce valid self-notifications.
func (r *Reconciler) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(r.secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Reconcile applies one verified notification. Unknown references are
// acknowledged without effect so the provider stops retrying. It returns
// the stored job (nil for unknown references) and whether the
// notification changed it.
func (r *Reconciler) Reconcile(ctx context.Context, p *Payload) (*job.Job, bool, error) {
	if p.ID == "" {
		return nil, false, fmt.Errorf("notification carries no job reference")
	}

	j, err := r.repo.FindByExternalID(ctx, p.ID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warnf(ctx, "notification for unknown reference %s, acknowledging", p.ID)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find job by reference %s: %w", p.ID, err)
	}
	if j.Terminal() {
		// Terminal jobs ignore every event; in particular a replayed
		// completion must not harvest its artifacts again.
		return j, false, nil
	}

	event, err := r.eventFor(ctx, j, p)
	if err != nil {
		return nil, false, err
	}
	if event == nil {
		return j, false, nil
	}

	stored, applied, err := r.repo.ApplyEvent(ctx, j.ID, *event)
	if err != nil {
		return nil, false, fmt.Errorf("apply %s notification to job %s: %w", p.Status, j.ID, err)
	}
	if applied {
		logger.Infof(ctx, "job %s moved to %s via notification", j.ID, stored.Status)
	}
	return stored, applied, nil
}

// eventFor maps a provider status onto a lifecycle event, harvesting
// artifacts first for completions.
func (r *Reconciler) eventFor(ctx context.Context, j *job.Job, p *Payload) (*job.Event, error) {
	switch p.Status {
	case provider.StatusInQueue:
		e := job.Started()
		return &e, nil

	case provider.StatusInProgress:
		if p.Progress != nil {
			e := job.ProgressUpdate(*p.Progress)
			return &e, nil
		}
		e := job.Started()
		return &e, nil

	case provider.StatusCompleted:
		files, err := r.harvester.Collect(ctx, j.ID, p.Output)
		if err != nil {
			logger.Errorf(ctx, "harvest for job %s failed: %v", j.ID, err)
			e := job.Failed(fmt.Sprintf("failed to collect results: %v", err))
			return &e, nil
		}
		e := job.Completed(files)
		return &e, nil

	case provider.StatusFailed:
		reason := p.Error
		if reason == "" {
			reason = "Processing failed"
		}
		e := job.Failed(reason)
		return &e, nil

	case provider.StatusCancelled:
		e := job.Cancelled()
		return &e, nil
	}

	logger.Warnf(ctx, "notification for job %s has unknown status %q, ignoring", j.ID, p.Status)
	return nil, nil
}
