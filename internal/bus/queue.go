package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrQueueClosed     = errors.New("bus: queue closed")
	ErrEnqueueCanceled = errors.New("bus: enqueue canceled")
	ErrQueueRunning    = errors.New("bus: queue already running")
)

const defaultQueueSize = 256

// Queue is the FIFO between webhook intake and the single worker. Jobs are
// drained by exactly one consumer so turns of a chat never interleave.
type Queue struct {
	jobs chan Job

	mu      sync.RWMutex // guards closed; held shared while sending
	closed  bool
	running atomic.Bool

	enqueued  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	inFlight  atomic.Int64
}

// Stats is a point-in-time view of the queue for the health endpoint.
type Stats struct {
	Running   bool   `json:"running"`
	Depth     int    `json:"depth"`
	Capacity  int    `json:"capacity"`
	InFlight  int64  `json:"in_flight"`
	Enqueued  uint64 `json:"enqueued"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Queue{jobs: make(chan Job, size)}
}

// Enqueue appends job, blocking while the buffer is full until ctx ends.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		q.enqueued.Add(1)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrEnqueueCanceled, ctx.Err())
	}
}

// Close stops accepting jobs. Run drains what is buffered and returns.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.jobs)
}

func (q *Queue) Stats() Stats {
	return Stats{
		Running:   q.running.Load(),
		Depth:     len(q.jobs),
		Capacity:  cap(q.jobs),
		InFlight:  q.inFlight.Load(),
		Enqueued:  q.enqueued.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
	}
}

// Run consumes jobs in order until ctx is canceled or the queue is closed
// and drained. Handler errors and panics are logged and the job skipped.
func (q *Queue) Run(ctx context.Context, handle JobHandler) error {
	if !q.running.CompareAndSwap(false, true) {
		return ErrQueueRunning
	}
	defer q.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-q.jobs:
			if !ok {
				return nil
			}
			q.process(ctx, job, handle)
		}
	}
}

func (q *Queue) process(ctx context.Context, job Job, handle JobHandler) {
	q.inFlight.Add(1)
	defer q.inFlight.Add(-1)

	start := time.Now()
	err := safeHandle(ctx, job, handle)
	if err != nil {
		q.failed.Add(1)
		slog.Error("job failed", "message_id", job.MessageID, "from", job.From, "error", err)
		return
	}
	q.completed.Add(1)
	slog.Debug("job done", "message_id", job.MessageID, "duration_ms", time.Since(start).Milliseconds())
}

func safeHandle(ctx context.Context, job Job, handle JobHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handle(ctx, job)
}
