package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/envlight/hdrid/internal/ctxutil"
	"github.com/envlight/hdrid/internal/logging/logger"
)

// laneMetrics tracks a lane pool's operational metrics
type laneMetrics struct {
	ActiveWorkers  atomic.Int64
	CompletedTasks atomic.Int64
	FailedTasks    atomic.Int64
	ProcessingTime atomic.Int64 // nanoseconds
}

// lanePool runs a fixed set of workers draining one lane.
type lanePool struct {
	name    string
	workers int
	queue   *Queue

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	metrics *laneMetrics
}

func newLanePool(name string, workers int, q *Queue) *lanePool {
	ctx, cancel := context.WithCancel(context.Background())
	return &lanePool{
		name:    name,
		workers: workers,
		queue:   q,
		ctx:     ctx,
		cancel:  cancel,
		metrics: &laneMetrics{},
	}
}

func (lp *lanePool) start() {
	for i := 0; i < lp.workers; i++ {
		lp.wg.Add(1)
		go lp.worker()
	}
}

// stop cancels the workers and waits for in-flight tasks up to ctx.
func (lp *lanePool) stop(ctx context.Context) {
	lp.cancel()

	done := make(chan struct{})
	go func() {
		lp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (lp *lanePool) worker() {
	defer lp.wg.Done()

	for {
		t, err := lp.queue.broker.Dequeue(lp.ctx, lp.name)
		if err != nil {
			if lp.ctx.Err() != nil {
				return
			}
			logger.Errorf(lp.ctx, "dequeue on lane %s failed: %v", lp.name, err)
			select {
			case <-lp.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if t == nil {
			continue
		}
		lp.processTask(t)
	}
}

func (lp *lanePool) processTask(t *Task) {
	start := time.Now()
	lp.metrics.ActiveWorkers.Add(1)

	taskCtx, _ := ctxutil.EnsureTraceID(lp.ctx)

	defer func() {
		lp.metrics.ActiveWorkers.Add(-1)
		lp.metrics.ProcessingTime.Add(time.Since(start).Nanoseconds())
	}()

	if lp.queue.dispatch(taskCtx, lp.name, t) {
		lp.metrics.CompletedTasks.Add(1)
	} else {
		lp.metrics.FailedTasks.Add(1)
	}
}

func (lp *lanePool) metricsSnapshot() map[string]int64 {
	return map[string]int64{
		"active_workers":  lp.metrics.ActiveWorkers.Load(),
		"completed_tasks": lp.metrics.CompletedTasks.Load(),
		"failed_tasks":    lp.metrics.FailedTasks.Load(),
		"processing_time": lp.metrics.ProcessingTime.Load(),
	}
}
