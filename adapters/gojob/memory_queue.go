package gojob

import (
	"context"
	"fmt"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-qbexport/core"
)

// MemoryQueue is an in-process go-job queue for running batches of export
// jobs from a single command. Nacked messages are requeued after their delay
// or kept as dead letters.
type MemoryQueue struct {
	mu      sync.Mutex
	now     func() time.Time
	pending []pendingMessage
	dead    []DeadLetter
	done    int
}

type pendingMessage struct {
	msg         *job.ExecutionMessage
	availableAt time.Time
}

// DeadLetter is a message the queue gave up on, with the last nack reason.
type DeadLetter struct {
	Message *job.ExecutionMessage
	Reason  string
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{now: time.Now}
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, pendingMessage{msg: msg, availableAt: q.now()})
	return nil
}

// Dequeue returns the first message whose delay has elapsed, or nil when
// nothing is ready.
func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for i, item := range q.pending {
		if item.availableAt.After(now) {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		return &memoryDelivery{queue: q, msg: item.msg}, nil
	}
	return nil, nil
}

// Len counts messages still waiting, including delayed ones.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// NextAvailable reports how long until the earliest pending message is ready.
func (q *MemoryQueue) NextAvailable() (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return 0, false
	}
	now := q.now()
	wait := q.pending[0].availableAt.Sub(now)
	for _, item := range q.pending[1:] {
		if d := item.availableAt.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

func (q *MemoryQueue) Completed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.done
}

func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

type memoryDelivery struct {
	queue   *MemoryQueue
	msg     *job.ExecutionMessage
	settled bool
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	q := d.queue
	q.mu.Lock()
	defer q.mu.Unlock()
	if d.settled {
		return fmt.Errorf("gojob: delivery already settled")
	}
	d.settled = true
	q.done++
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	q := d.queue
	q.mu.Lock()
	defer q.mu.Unlock()
	if d.settled {
		return fmt.Errorf("gojob: delivery already settled")
	}
	d.settled = true
	if opts.Requeue && !opts.DeadLetter {
		q.pending = append(q.pending, pendingMessage{msg: d.msg, availableAt: q.now().Add(opts.Delay)})
		return nil
	}
	q.dead = append(q.dead, DeadLetter{Message: d.msg, Reason: opts.Reason})
	return nil
}

// Runner runs one queued job at a time.
type Runner interface {
	RunOnce(ctx context.Context, dequeuer core.JobDequeuer) error
}

// Drain runs jobs until the queue is empty, waiting out requeue delays.
// Job failures are left to the retry policy and reported through the
// runner's hook; only context errors stop the loop early.
func Drain(ctx context.Context, q *MemoryQueue, runner Runner, dequeuer core.JobDequeuer) error {
	if q == nil || runner == nil {
		return fmt.Errorf("gojob: drain requires a queue and a runner")
	}
	if dequeuer == nil {
		dequeuer = NewDequeuerAdapter(q, DefaultRetryPolicy())
	}
	for q.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if wait, ok := q.NextAvailable(); ok && wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := runner.RunOnce(ctx, dequeuer); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
