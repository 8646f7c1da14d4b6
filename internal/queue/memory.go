package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

const (
	memLaneCapacity   = 1024
	memReaperInterval = 250 * time.Millisecond
)

// delayedTask is a task waiting for its delivery time.
type delayedTask struct {
	task    *Task
	readyAt time.Time
}

// delayHeap orders delayed tasks by readyAt.
type delayHeap []*delayedTask

func (h *delayHeap) Len() int           { return len(*h) }
func (h *delayHeap) Less(i, j int) bool { return (*h)[i].readyAt.Before((*h)[j].readyAt) }
func (h *delayHeap) Swap(i, j int)      { (*h)[i], (*h)[j] = (*h)[j], (*h)[i] }
func (h *delayHeap) Push(x any)         { *h = append(*h, x.(*delayedTask)) }
func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]
	return item
}

// inflightEntry tracks one delivered but unacked task.
type inflightEntry struct {
	task     *Task
	deadline time.Time
}

type memLane struct {
	ready    chan *Task
	delayed  *delayHeap
	inflight map[string]*inflightEntry
	seen     map[string]struct{}
}

// MemoryBroker is the single-process broker. Delayed tasks sit in a min
// heap until due; delivered tasks that are neither acked nor nacked
// within the visibility timeout are redelivered.
type MemoryBroker struct {
	visibility time.Duration

	mu     sync.Mutex
	lanes  map[string]*memLane
	closed bool
	stop   chan struct{}
	done   sync.WaitGroup
}

// NewMemoryBroker creates the in-process broker.
func NewMemoryBroker(visibility time.Duration) *MemoryBroker {
	if visibility <= 0 {
		visibility = 15 * time.Minute
	}
	b := &MemoryBroker{
		visibility: visibility,
		lanes:      make(map[string]*memLane),
		stop:       make(chan struct{}),
	}
	b.done.Add(1)
	go b.reaper()
	return b
}

func (b *MemoryBroker) lane(name string) *memLane {
	l, ok := b.lanes[name]
	if !ok {
		l = &memLane{
			ready:    make(chan *Task, memLaneCapacity),
			delayed:  &delayHeap{},
			inflight: make(map[string]*inflightEntry),
			seen:     make(map[string]struct{}),
		}
		b.lanes[name] = l
	}
	return l
}

// Enqueue makes the task deliverable after the given delay. A task id
// already present on the lane is rejected with ErrTaskExists.
func (b *MemoryBroker) Enqueue(_ context.Context, lane string, t *Task, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrQueueClosed
	}

	l := b.lane(lane)
	if _, dup := l.seen[t.ID]; dup {
		return ErrTaskExists
	}

	if err := b.admit(l, t, delay); err != nil {
		return err
	}
	l.seen[t.ID] = struct{}{}
	return nil
}

// admit places an already-accounted task into ready or delayed.
func (b *MemoryBroker) admit(l *memLane, t *Task, delay time.Duration) error {
	if delay <= 0 {
		select {
		case l.ready <- t:
			return nil
		default:
			return ErrQueueFull
		}
	}
	heap.Push(l.delayed, &delayedTask{task: t, readyAt: time.Now().Add(delay)})
	return nil
}

// Dequeue blocks until a task is ready or ctx is done.
func (b *MemoryBroker) Dequeue(ctx context.Context, lane string) (*Task, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrQueueClosed
	}
	ready := b.lane(lane).ready
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case t, ok := <-ready:
		if !ok {
			return nil, ErrQueueClosed
		}
		b.mu.Lock()
		b.lane(lane).inflight[t.ID] = &inflightEntry{task: t, deadline: time.Now().Add(b.visibility)}
		b.mu.Unlock()
		return t, nil
	}
}

// Ack removes a delivered task for good.
func (b *MemoryBroker) Ack(_ context.Context, lane string, t *Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	l := b.lane(lane)
	delete(l.inflight, t.ID)
	delete(l.seen, t.ID)
	return nil
}

// Nack returns a delivered task to the lane after the given delay.
func (b *MemoryBroker) Nack(_ context.Context, lane string, t *Task, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrQueueClosed
	}

	l := b.lane(lane)
	delete(l.inflight, t.ID)
	return b.admit(l, t, delay)
}

// Close stops the reaper. Pending tasks are dropped.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.stop)
	b.mu.Unlock()

	b.done.Wait()
	return nil
}

// reaper promotes due delayed tasks and redelivers expired in-flight ones.
func (b *MemoryBroker) reaper() {
	defer b.done.Done()

	ticker := time.NewTicker(memReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.sweep(time.Now())
		}
	}
}

func (b *MemoryBroker) sweep(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, l := range b.lanes {
		for l.delayed.Len() > 0 && (*l.delayed)[0].readyAt.Before(now) {
			dt := heap.Pop(l.delayed).(*delayedTask)
			select {
			case l.ready <- dt.task:
			default:
				// Lane is full, keep it delayed and try next sweep.
				heap.Push(l.delayed, &delayedTask{task: dt.task, readyAt: now})
			}
		}

		for id, entry := range l.inflight {
			if entry.deadline.Before(now) {
				delete(l.inflight, id)
				select {
				case l.ready <- entry.task:
				default:
					heap.Push(l.delayed, &delayedTask{task: entry.task, readyAt: now})
				}
			}
		}
	}
}
