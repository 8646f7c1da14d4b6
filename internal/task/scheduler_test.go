package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/envlight/hdrid/internal/config"
	"github.com/envlight/hdrid/internal/queue"
)

func TestScheduler_FeedsMaintenanceLanes(t *testing.T) {
	q, err := queue.New(&config.Queue{Broker: "memory", VisibilityTimeout: time.Minute})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	var cleanups, beats atomic.Int64
	q.Register(KindCleanup, func(context.Context, *queue.Task) error {
		cleanups.Add(1)
		return nil
	})
	q.Register(KindHeartbeat, func(context.Context, *queue.Task) error {
		beats.Add(1)
		return nil
	})
	q.AddLane(queue.LaneMaintenance, 1)
	q.AddLane(queue.LaneMonitoring, 1)
	q.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	}()

	s := NewScheduler(q, &config.Maintenance{
		CleanupInterval:   20 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
	})
	s.Start()

	deadline := time.After(3 * time.Second)
	for cleanups.Load() == 0 || beats.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("scheduler did not feed lanes: cleanups=%d beats=%d", cleanups.Load(), beats.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	s.Stop()
	// Stop is idempotent.
	s.Stop()
}
