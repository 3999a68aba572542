package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryQueue keeps pending jobs as in-process timers. Jobs are lost on exit;
// the monitoring controller re-arms active schedules at boot.
type MemoryQueue struct {
	mu      sync.Mutex
	pending map[string]*memoryEntry
	out     chan Job
	done    chan struct{}
	closed  bool
	logger  *zap.Logger
}

type memoryEntry struct {
	timer *time.Timer
	due   time.Time
}

// NewMemoryQueue creates an in-process queue with the given delivery buffer
func NewMemoryQueue(buffer int, logger *zap.Logger) *MemoryQueue {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryQueue{
		pending: make(map[string]*memoryEntry),
		out:     make(chan Job, buffer),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

// Enqueue schedules job after delay. A pending job with the same key is kept
// and moved earlier if the new due time is sooner.
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	due := time.Now().Add(delay)
	key := job.Key()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	if existing, ok := q.pending[key]; ok {
		if !due.Before(existing.due) {
			return nil
		}
		if !existing.timer.Stop() {
			// already firing; let it deliver
			return nil
		}
		delete(q.pending, key)
	}

	entry := &memoryEntry{due: due}
	entry.timer = time.AfterFunc(delay, func() { q.fire(key, entry, job) })
	q.pending[key] = entry
	return nil
}

func (q *MemoryQueue) fire(key string, entry *memoryEntry, job Job) {
	q.mu.Lock()
	if current, ok := q.pending[key]; ok && current == entry {
		delete(q.pending, key)
	}
	closed := q.closed
	q.mu.Unlock()

	if closed {
		return
	}

	select {
	case q.out <- job:
	case <-q.done:
		q.logger.Debug("Dropping job on shutdown", zap.String("key", key))
	}
}

// Jobs delivers due jobs
func (q *MemoryQueue) Jobs() <-chan Job {
	return q.out
}

// Start is a no-op; timers deliver on their own
func (q *MemoryQueue) Start(ctx context.Context) error {
	return nil
}

// Pending returns the number of scheduled jobs
func (q *MemoryQueue) Pending(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), nil
}

// Close stops every timer. Jobs already due may still be read from Jobs.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	for key, entry := range q.pending {
		entry.timer.Stop()
		delete(q.pending, key)
	}
	close(q.done)
	return nil
}
