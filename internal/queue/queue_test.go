package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/envlight/hdrid/internal/config"
)

func testQueueConfig() *config.Queue {
	return &config.Queue{
		Broker:            "memory",
		ProcessingWorkers: 2,
		MaxRetries:        3,
		RetryDelay:        50 * time.Millisecond,
		VisibilityTimeout: time.Minute,
		TaskTimeout:       5 * time.Second,
	}
}

func TestMemoryBroker_EnqueueDequeueAck(t *testing.T) {
	b := NewMemoryBroker(time.Minute)
	defer b.Close()
	ctx := context.Background()

	task := NewTask("convert", map[string]string{"job_id": "j1"})
	if err := b.Enqueue(ctx, "lane", task, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := b.Enqueue(ctx, "lane", task, 0); !errors.Is(err, ErrTaskExists) {
		t.Errorf("expected ErrTaskExists, got %v", err)
	}

	got, err := b.Dequeue(ctx, "lane")
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.ID != task.ID || got.Params["job_id"] != "j1" {
		t.Errorf("unexpected task %+v", got)
	}

	if err := b.Ack(ctx, "lane", got); err != nil {
		t.Fatalf("ack: %v", err)
	}
	// After ack the id may be reused.
	if err := b.Enqueue(ctx, "lane", task, 0); err != nil {
		t.Errorf("re-enqueue after ack: %v", err)
	}
}

func TestMemoryBroker_DequeueRespectsContext(t *testing.T) {
	b := NewMemoryBroker(time.Minute)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := b.Dequeue(ctx, "empty"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestMemoryBroker_DelayedDelivery(t *testing.T) {
	b := NewMemoryBroker(time.Minute)
	defer b.Close()
	ctx := context.Background()

	task := NewTask("cleanup", nil)
	if err := b.Enqueue(ctx, "lane", task, 100*time.Millisecond); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	quick, cancelQuick := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancelQuick()
	if _, err := b.Dequeue(quick, "lane"); err == nil {
		t.Error("task delivered before its delay")
	}

	slow, cancelSlow := context.WithTimeout(ctx, 2*time.Second)
	defer cancelSlow()
	got, err := b.Dequeue(slow, "lane")
	if err != nil {
		t.Fatalf("dequeue after delay: %v", err)
	}
	if got.ID != task.ID {
		t.Errorf("unexpected task %+v", got)
	}
}

func TestMemoryBroker_NackRedelivers(t *testing.T) {
	b := NewMemoryBroker(time.Minute)
	defer b.Close()
	ctx := context.Background()

	task := NewTask("convert", nil)
	if err := b.Enqueue(ctx, "lane", task, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := b.Dequeue(ctx, "lane")
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	got.Attempts++
	if err := b.Nack(ctx, "lane", got, 0); err != nil {
		t.Fatalf("nack: %v", err)
	}

	again, err := b.Dequeue(ctx, "lane")
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if again.Attempts != 1 {
		t.Errorf("expected attempt count 1, got %d", again.Attempts)
	}
}

func TestQueue_ProcessesTasks(t *testing.T) {
	q, err := New(testQueueConfig())
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	var processed atomic.Int64
	done := make(chan string, 4)
	q.Register("convert", func(_ context.Context, task *Task) error {
		processed.Add(1)
		done <- task.Params["job_id"]
		return nil
	})
	q.AddLane(LaneProcessing, 2)
	q.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	}()

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		task := NewTask("convert", map[string]string{"job_id": id})
		if err := q.Enqueue(ctx, LaneProcessing, task); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case id := <-done:
			seen[id] = true
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out after %d tasks, processed=%d", i, processed.Load())
		}
	}
	if !seen["a"] || !seen["b"] || !seen["c"] {
		t.Errorf("missing tasks: %v", seen)
	}
}

func TestQueue_RetriesUntilBudget(t *testing.T) {
	cfg := testQueueConfig()
	cfg.MaxRetries = 2
	cfg.RetryDelay = 10 * time.Millisecond
	q, err := New(cfg)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	var attempts atomic.Int64
	gone := make(chan struct{})
	q.Register("flaky", func(_ context.Context, task *Task) error {
		n := attempts.Add(1)
		if n == 3 {
			close(gone)
		}
		return errors.New("boom")
	})
	q.AddLane(LaneProcessing, 1)
	q.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	}()

	if err := q.Enqueue(context.Background(), LaneProcessing, NewTask("flaky", nil)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-gone:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected 3 attempts, saw %d", attempts.Load())
	}

	// No further delivery after the budget is spent.
	time.Sleep(200 * time.Millisecond)
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}
}

func TestQueue_RecoverFromPanic(t *testing.T) {
	cfg := testQueueConfig()
	cfg.MaxRetries = 0
	q, err := New(cfg)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	panicked := make(chan struct{})
	ok := make(chan struct{})
	q.Register("panicky", func(_ context.Context, task *Task) error {
		close(panicked)
		panic("broken handler")
	})
	q.Register("fine", func(_ context.Context, task *Task) error {
		close(ok)
		return nil
	})
	q.AddLane(LaneProcessing, 1)
	q.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	}()

	ctx := context.Background()
	if err := q.Enqueue(ctx, LaneProcessing, NewTask("panicky", nil)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-panicked
	if err := q.Enqueue(ctx, LaneProcessing, NewTask("fine", nil)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-ok:
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestQueue_RejectsUnknownKindAndLane(t *testing.T) {
	q, err := New(testQueueConfig())
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	q.Register("known", func(context.Context, *Task) error { return nil })
	q.AddLane(LaneProcessing, 1)

	ctx := context.Background()
	if err := q.Enqueue(ctx, LaneProcessing, NewTask("mystery", nil)); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	if err := q.Enqueue(ctx, "nope", NewTask("known", nil)); err == nil {
		t.Error("expected error for unknown lane")
	}
	if err := q.Enqueue(ctx, LaneProcessing, &Task{Kind: "known"}); !errors.Is(err, ErrInvalidTask) {
		t.Errorf("expected ErrInvalidTask, got %v", err)
	}
}
