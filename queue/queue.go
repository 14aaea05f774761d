// Package queue moves upload and fee jobs between the synchronous API path
// and the background workers. Delivery is at least once; handlers are
// expected to be idempotent.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/permapay/permapay/logger"
)

// ErrClosed is returned by Enqueue after the queue has been closed.
var ErrClosed = errors.New("queue is closed")

// Handler processes one job payload. A returned error requeues the job
// until the attempt budget runs out.
type Handler func(ctx context.Context, payload []byte) error

// Queue is one named job stream.
type Queue interface {
	// Enqueue serializes the payload and appends it to the stream.
	Enqueue(ctx context.Context, payload any) error
	// Run consumes jobs with the handler until the context is cancelled.
	Run(ctx context.Context, handler Handler) error
	Close() error
}

const defaultMaxAttempts = 5

// NewMemory builds an in-process queue suitable for tests and
// single-process deployments.
func NewMemory(buffer int, log logger.Logger) Queue {
	if buffer <= 0 {
		buffer = 128
	}
	return &memoryQueue{
		jobs:        make(chan memoryJob, buffer),
		done:        make(chan struct{}),
		log:         log,
		maxAttempts: defaultMaxAttempts,
	}
}

type memoryJob struct {
	payload []byte
	attempt int
}

// memoryQueue never closes the jobs channel; shutdown is signalled through
// done so a delayed requeue can never send on a closed channel.
type memoryQueue struct {
	jobs        chan memoryJob
	done        chan struct{}
	log         logger.Logger
	maxAttempts int

	closeOnce sync.Once
}

func (q *memoryQueue) Enqueue(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case q.jobs <- memoryJob{payload: data, attempt: 1}:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *memoryQueue) Run(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			return nil
		case job := <-q.jobs:
			if err := handler(ctx, job.payload); err != nil {
				q.retry(ctx, job, err)
			}
		}
	}
}

func (q *memoryQueue) retry(ctx context.Context, job memoryJob, cause error) {
	if job.attempt >= q.maxAttempts {
		q.log.Error("job dropped after max attempts", map[string]any{
			"attempts": job.attempt,
			"error":    cause.Error(),
		})
		return
	}
	q.log.Warn("job failed, requeueing", map[string]any{
		"attempt": job.attempt,
		"error":   cause.Error(),
	})
	job.attempt++
	go func() {
		select {
		case <-time.After(backoffDelay(job.attempt)):
		case <-q.done:
			return
		case <-ctx.Done():
			return
		}
		select {
		case q.jobs <- job:
		case <-q.done:
		case <-ctx.Done():
		}
	}()
}

func (q *memoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

// backoffDelay grows exponentially with the attempt number, capped at 30s.
func backoffDelay(attempt int) time.Duration {
	d := time.Second << uint(attempt-1)
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
