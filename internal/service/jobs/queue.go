package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueClosed is returned once a broker has been closed.
var ErrQueueClosed = errors.New("queue closed")

// Queue is the producer side used by the conversation engine. Enqueue is a
// fast local or broker write; it never calls external services.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// Broker is a durable at-least-once queue: the producer side plus the
// consumer side used by workers.
type Broker interface {
	Queue
	// Receive blocks until a job is available or ctx is done.
	Receive(ctx context.Context) (*Delivery, error)
}

// Stats reports queue depth where the backend can compute it.
type Stats struct {
	Pending int64 `json:"pending"`
	Delayed int64 `json:"delayed"`
	Running int64 `json:"running"`
	Dead    int64 `json:"dead"`
}

// StatsReporter is implemented by brokers that can report depth.
type StatsReporter interface {
	Stats(ctx context.Context) (Stats, error)
}

// Acker settles deliveries for a broker.
type Acker interface {
	Complete(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, delay time.Duration, cause error) error
	Fail(ctx context.Context, id string, cause error) error
}

// Delivery is one received job. Exactly one of Complete, Retry or Fail
// must be called.
type Delivery struct {
	ID      string
	Job     Job
	Attempt int

	acker Acker
}

// NewDelivery is used by broker implementations.
func NewDelivery(id string, job Job, attempt int, acker Acker) *Delivery {
	return &Delivery{ID: id, Job: job, Attempt: attempt, acker: acker}
}

// Complete removes the job from the queue.
func (d *Delivery) Complete(ctx context.Context) error {
	return d.acker.Complete(ctx, d.ID)
}

// Retry makes the job available again after delay.
func (d *Delivery) Retry(ctx context.Context, delay time.Duration, cause error) error {
	return d.acker.Retry(ctx, d.ID, delay, cause)
}

// Fail parks the job as dead.
func (d *Delivery) Fail(ctx context.Context, cause error) error {
	return d.acker.Fail(ctx, d.ID, cause)
}

// NewJobID returns a fresh job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// =============================================================================
// MemoryBroker - in-process queue
// =============================================================================

// MemoryBroker is an unbounded in-process FIFO. It is only durable for the
// lifetime of the process and is meant for single-process deployments and
// tests.
type MemoryBroker struct {
	mu       sync.Mutex
	pending  []memoryItem
	inflight map[string]memoryItem
	delayed  int
	dead     []memoryItem
	closed   bool
	signal   chan struct{}
}

type memoryItem struct {
	id      string
	job     Job
	attempt int
}

// NewMemoryBroker creates an empty MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		inflight: make(map[string]memoryItem),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue appends a job.
func (b *MemoryBroker) Enqueue(_ context.Context, job Job) error {
	return b.push(memoryItem{id: NewJobID(), job: job})
}

func (b *MemoryBroker) push(it memoryItem) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrQueueClosed
	}
	b.pending = append(b.pending, it)
	select {
	case b.signal <- struct{}{}:
	default:
	}
	return nil
}

// Receive pops the oldest job.
func (b *MemoryBroker) Receive(ctx context.Context) (*Delivery, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrQueueClosed
		}
		if len(b.pending) > 0 {
			it := b.pending[0]
			b.pending = b.pending[1:]
			it.attempt++
			b.inflight[it.id] = it
			b.mu.Unlock()
			return NewDelivery(it.id, it.job, it.attempt, b), nil
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.signal:
		}
	}
}

// Complete implements Acker.
func (b *MemoryBroker) Complete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inflight, id)
	return nil
}

// Retry implements Acker.
func (b *MemoryBroker) Retry(_ context.Context, id string, delay time.Duration, _ error) error {
	b.mu.Lock()
	it, ok := b.inflight[id]
	delete(b.inflight, id)
	if ok {
		b.delayed++
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}

	time.AfterFunc(delay, func() {
		b.mu.Lock()
		b.delayed--
		b.mu.Unlock()
		_ = b.push(it)
	})
	return nil
}

// Fail implements Acker.
func (b *MemoryBroker) Fail(_ context.Context, id string, _ error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if it, ok := b.inflight[id]; ok {
		delete(b.inflight, id)
		b.dead = append(b.dead, it)
	}
	return nil
}

// Stats implements StatsReporter.
func (b *MemoryBroker) Stats(context.Context) (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Pending: int64(len(b.pending)),
		Delayed: int64(b.delayed),
		Running: int64(len(b.inflight)),
		Dead:    int64(len(b.dead)),
	}, nil
}

// Close wakes blocked receivers and rejects further work.
func (b *MemoryBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.signal)
}
