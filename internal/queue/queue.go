package queue

import (
	"context"
	"errors"

	"rest-lifecycle/internal/model"
)

// ErrQueueFull is returned by MemoryQueue.Enqueue when the buffer is full.
var ErrQueueFull = errors.New("queue: full")

// Queue holds transport jobs between Start and a worker.
// In production this is backed by Redis; MemoryQueue serves single-process setups and tests.
type Queue interface {
	Enqueue(ctx context.Context, job *model.Job) error
	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (*Delivery, error)
}

// Delivery is a dequeued job. Ack removes it from the queue for good.
type Delivery struct {
	Job *model.Job
	ack func(ctx context.Context) error
}

func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// MemoryQueue is a channel-based queue
type MemoryQueue struct {
	ch chan *model.Job
}

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{
		ch: make(chan *model.Job, size),
	}
}

// Enqueue never blocks; a full buffer is reported as ErrQueueFull.
func (q *MemoryQueue) Enqueue(ctx context.Context, job *model.Job) error {
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case job := <-q.ch:
		return &Delivery{Job: job}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) Len() int {
	return len(q.ch)
}
