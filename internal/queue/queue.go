// Package queue provides the asynchronous task backbone: named lanes, a
// pluggable broker (in-memory or Redis), and per-lane worker pools with
// retry and visibility-timeout semantics.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/envlight/hdrid/internal/config"
	"github.com/envlight/hdrid/internal/logging/logger"
)

// Lane names. Each lane is an independent delivery stream with its own
// worker pool.
const (
	LaneProcessing  = "hdri_processing"
	LaneMaintenance = "maintenance"
	LaneMonitoring  = "monitoring"
)

var (
	ErrQueueFull   = errors.New("task queue is full")
	ErrTaskExists  = errors.New("task already queued")
	ErrInvalidTask = errors.New("invalid task")
	ErrUnknownKind = errors.New("no handler registered for task kind")
	ErrQueueClosed = errors.New("queue is closed")
)

// Task is one unit of asynchronous work.
type Task struct {
	ID       string            `json:"id"`
	Kind     string            `json:"kind"`
	Params   map[string]string `json:"params,omitempty"`
	Attempts int               `json:"attempts"`
}

// NewTask creates a task with a generated id.
func NewTask(kind string, params map[string]string) *Task {
	return &Task{
		ID:     gonanoid.Must(16),
		Kind:   kind,
		Params: params,
	}
}

// Handler executes one task. A returned error triggers retry until the
// attempt budget is exhausted.
type Handler func(ctx context.Context, t *Task) error

// Broker moves tasks between producers and lane workers.
type Broker interface {
	// Enqueue makes the task deliverable after the given delay.
	Enqueue(ctx context.Context, lane string, t *Task, delay time.Duration) error
	// Dequeue blocks until a task is available or ctx is done. A dequeued
	// task is invisible to other workers until acked, nacked, or its
	// visibility timeout lapses.
	Dequeue(ctx context.Context, lane string) (*Task, error)
	// Ack removes a delivered task for good.
	Ack(ctx context.Context, lane string, t *Task) error
	// Nack returns a delivered task to the lane after the given delay.
	Nack(ctx context.Context, lane string, t *Task, delay time.Duration) error
	// Close releases broker resources.
	Close() error
}

// Queue owns the broker and one worker pool per lane.
type Queue struct {
	cfg      *config.Queue
	broker   Broker
	handlers map[string]Handler
	lanes    map[string]*lanePool
}

// New creates a queue with the configured broker.
func New(cfg *config.Queue) (*Queue, error) {
	var broker Broker
	switch cfg.Broker {
	case "", "memory":
		broker = NewMemoryBroker(cfg.VisibilityTimeout)
	case "redis":
		b, err := NewRedisBroker(cfg)
		if err != nil {
			return nil, fmt.Errorf("create redis broker: %w", err)
		}
		broker = b
	default:
		return nil, fmt.Errorf("unsupported queue broker: %s", cfg.Broker)
	}

	return &Queue{
		cfg:      cfg,
		broker:   broker,
		handlers: make(map[string]Handler),
		lanes:    make(map[string]*lanePool),
	}, nil
}

// Register binds a handler to a task kind. Must be called before Start.
func (q *Queue) Register(kind string, h Handler) {
	q.handlers[kind] = h
}

// AddLane declares a lane with the given worker count. Must be called
// before Start.
func (q *Queue) AddLane(name string, workers int) {
	if workers < 1 {
		workers = 1
	}
	q.lanes[name] = newLanePool(name, workers, q)
}

// Start launches the worker pools.
func (q *Queue) Start() {
	for _, lp := range q.lanes {
		lp.start()
	}
}

// Stop drains the worker pools and closes the broker.
func (q *Queue) Stop(ctx context.Context) error {
	for _, lp := range q.lanes {
		lp.stop(ctx)
	}
	return q.broker.Close()
}

// Enqueue submits a task for immediate delivery on a lane.
func (q *Queue) Enqueue(ctx context.Context, lane string, t *Task) error {
	return q.EnqueueIn(ctx, lane, t, 0)
}

// EnqueueIn submits a task deliverable after the given delay.
func (q *Queue) EnqueueIn(ctx context.Context, lane string, t *Task, delay time.Duration) error {
	if t == nil || t.ID == "" || t.Kind == "" {
		return ErrInvalidTask
	}
	if _, ok := q.handlers[t.Kind]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, t.Kind)
	}
	if _, ok := q.lanes[lane]; !ok {
		return fmt.Errorf("unknown lane: %s", lane)
	}
	return q.broker.Enqueue(ctx, lane, t, delay)
}

// Metrics returns per-lane worker metrics.
func (q *Queue) Metrics() map[string]map[string]int64 {
	out := make(map[string]map[string]int64, len(q.lanes))
	for name, lp := range q.lanes {
		out[name] = lp.metricsSnapshot()
	}
	return out
}

// dispatch runs a task through its registered handler with the configured
// timeout, retrying on failure until the attempt budget is spent. It
// reports whether this delivery succeeded.
func (q *Queue) dispatch(ctx context.Context, lane string, t *Task) bool {
	h, ok := q.handlers[t.Kind]
	if !ok {
		logger.Errorf(ctx, "task %s on lane %s has unknown kind %s, dropping", t.ID, lane, t.Kind)
		_ = q.broker.Ack(ctx, lane, t)
		return false
	}

	taskCtx := ctx
	var cancel context.CancelFunc
	if q.cfg.TaskTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, q.cfg.TaskTimeout)
		defer cancel()
	}

	err := runRecovered(taskCtx, h, t)
	if err == nil {
		_ = q.broker.Ack(ctx, lane, t)
		return true
	}

	if t.Attempts >= q.cfg.MaxRetries {
		logger.Errorf(ctx, "task %s (%s) failed after %d attempts: %v", t.ID, t.Kind, t.Attempts+1, err)
		_ = q.broker.Ack(ctx, lane, t)
		return false
	}

	t.Attempts++
	logger.Warnf(ctx, "task %s (%s) attempt %d failed, retrying in %s: %v",
		t.ID, t.Kind, t.Attempts, q.cfg.RetryDelay, err)
	if nerr := q.broker.Nack(ctx, lane, t, q.cfg.RetryDelay); nerr != nil {
		logger.Errorf(ctx, "requeue task %s failed: %v", t.ID, nerr)
	}
	return false
}

// runRecovered converts a handler panic into an error so a misbehaving
// task cannot take a worker down.
func runRecovered(ctx context.Context, h Handler, t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return h(ctx, t)
}
