package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/envlight/hdrid/internal/config"
)

// Simulator is a self-contained client that stands in for the remote
// compute service in tests and local development. Status advances purely
// as a function of elapsed time since submission: queued, then running,
// then completed.
type Simulator struct {
	queueFor   time.Duration
	runningFor time.Duration
	now        func() time.Time

	mu   sync.Mutex
	jobs map[string]*simJob
}

type simJob struct {
	req         *Request
	submittedAt time.Time
	cancelled   bool
}

// NewSimulator creates a simulator with the configured pacing.
func NewSimulator(cfg *config.Provider) *Simulator {
	queueFor := cfg.SimQueueFor
	if queueFor == 0 {
		queueFor = 10 * time.Second
	}
	runningFor := cfg.SimRunningFor
	if runningFor == 0 {
		runningFor = 30 * time.Second
	}

	return &Simulator{
		queueFor:   queueFor,
		runningFor: runningFor,
		now:        time.Now,
		jobs:       make(map[string]*simJob),
	}
}

// Available always reports true for the simulator.
func (s *Simulator) Available() bool {
	return true
}

// Submit records the request and returns a generated reference.
func (s *Simulator) Submit(_ context.Context, req *Request) (string, error) {
	id := uuid.New().String()

	s.mu.Lock()
	s.jobs[id] = &simJob{req: req, submittedAt: s.now()}
	s.mu.Unlock()

	return id, nil
}

// Status derives the job state from elapsed time since submission.
func (s *Simulator) Status(_ context.Context, externalID string) (*JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[externalID]
	if !ok {
		return nil, nil
	}
	if j.cancelled {
		return &JobStatus{ID: externalID, Status: StatusCancelled}, nil
	}

	elapsed := s.now().Sub(j.submittedAt)
	switch {
	case elapsed < s.queueFor:
		return &JobStatus{ID: externalID, Status: StatusInQueue}, nil
	case elapsed < s.runningFor:
		return &JobStatus{ID: externalID, Status: StatusInProgress}, nil
	}

	cfg := j.req.Configuration
	return &JobStatus{
		ID:     externalID,
		Status: StatusCompleted,
		Output: &Output{
			ResultURLs: []string{
				fmt.Sprintf("https://simulated.invalid/%s/result.hdr", externalID),
				fmt.Sprintf("https://simulated.invalid/%s/preview.jpg", externalID),
			},
			Metadata: map[string]any{
				"processing_time": elapsed.Seconds(),
				"resolution":      cfg["resolution"],
				"format":          cfg["output_format"],
			},
		},
	}, nil
}

// Cancel marks the simulated job cancelled.
func (s *Simulator) Cancel(_ context.Context, externalID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[externalID]
	if !ok {
		return false
	}
	j.cancelled = true
	return true
}
