package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/envlight/hdrid/internal/config"
	"github.com/envlight/hdrid/internal/logging/logger"
	"github.com/envlight/hdrid/internal/queue"
)

// Scheduler feeds the periodic tasks onto their lanes, standing in for an
// external beat process.
type Scheduler struct {
	queue             *queue.Queue
	cleanupInterval   time.Duration
	heartbeatInterval time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewScheduler creates the periodic scheduler.
func NewScheduler(q *queue.Queue, cfg *config.Maintenance) *Scheduler {
	return &Scheduler{
		queue:             q,
		cleanupInterval:   cfg.CleanupInterval,
		heartbeatInterval: cfg.HeartbeatInterval,
		stop:              make(chan struct{}),
	}
}

// Start launches the tickers.
func (s *Scheduler) Start() {
	s.wg.Add(2)
	go s.tick(s.cleanupInterval, queue.LaneMaintenance, KindCleanup)
	go s.tick(s.heartbeatInterval, queue.LaneMonitoring, KindHeartbeat)
}

// Stop halts the tickers and waits for them to exit.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) tick(interval time.Duration, lane, kind string) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx := context.Background()
			if err := s.queue.Enqueue(ctx, lane, queue.NewTask(kind, nil)); err != nil &&
				!errors.Is(err, queue.ErrTaskExists) {
				logger.Errorf(ctx, "schedule %s on lane %s: %v", kind, lane, err)
			}
		}
	}
}
