// Package writeback runs durable writes off the broadcast path while keeping
// writes for one key in submission order.
package writeback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"rescueops-hub/internal/fleet"
	"rescueops-hub/internal/keylock"
	"rescueops-hub/internal/logging"
	"rescueops-hub/internal/metrics"
)

// Task is one durable write.
type Task func(ctx context.Context) error

type job struct {
	collection string
	key        string
	fn         Task
}

// Queue fans writes out to a fixed set of lanes. A key always hashes to the
// same lane, so writes for one key are applied in the order they were
// submitted while different keys proceed in parallel.
type Queue struct {
	lanes   []chan job
	log     *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Config sizes the queue.
type Config struct {
	Workers int
	Depth   int
	Timeout time.Duration
}

// New starts the lane workers. Dropped and failed writes are logged through
// the logger stored in ctx; ctx does not bound the workers, Close does.
func New(ctx context.Context, cfg Config) *Queue {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.Depth < 1 {
		cfg.Depth = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	q := &Queue{lanes: make([]chan job, cfg.Workers), log: logging.FromContext(ctx), timeout: cfg.Timeout}
	for i := range q.lanes {
		q.lanes[i] = make(chan job, cfg.Depth)
		q.wg.Add(1)
		go q.run(i, q.lanes[i])
	}
	return q
}

// Submit enqueues fn without blocking. It returns false when the lane is
// full or the queue is closed; the write is then dropped and counted.
func (q *Queue) Submit(collection, key string, fn Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		metrics.IncPersistenceError(collection, "closed")
		return false
	}
	lane := q.lanes[keylock.Index(key, len(q.lanes))]
	select {
	case lane <- job{collection: collection, key: key, fn: fn}:
		return true
	default:
		metrics.IncPersistenceError(collection, "queue_full")
		q.log.Warn("write dropped, lane full", "collection", collection, "key", key)
		return false
	}
}

// Close stops accepting writes and waits for queued ones to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, l := range q.lanes {
		close(l)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) run(id int, lane <-chan job) {
	defer q.wg.Done()
	for j := range lane {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := j.fn(ctx)
		cancel()
		if err != nil {
			perr := &fleet.PersistenceError{Collection: j.collection, Key: j.key, Err: err}
			metrics.IncPersistenceError(j.collection, "error")
			q.log.Error("durable write failed", "lane", id, "err", perr)
		}
	}
}
