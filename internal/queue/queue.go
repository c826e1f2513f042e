package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TopicNewsletterSends carries one DeliveryJob per recipient.
const TopicNewsletterSends = "newsletter_sends"

// DefaultMaxRetries is how many times a failed job is redelivered before it is dropped.
const DefaultMaxRetries = 3

var (
	ErrNoSubscribers = errors.New("queue: no subscribers for topic")
	ErrClosed        = errors.New("queue: closed")
)

// DeliveryJob asks a worker to send one newsletter delivery.
type DeliveryJob struct {
	DeliveryID uuid.UUID `json:"delivery_id"`
}

// Handler processes one message body. A returned error triggers a retry.
type Handler func(ctx context.Context, body []byte) error

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(topic string, handler Handler) error
	Close() error
}

// InMemoryQueue runs handlers on a bounded worker pool per topic and retries
// failed jobs with a growing backoff. Each topic keeps an unbounded backlog,
// so Publish never waits for the workers.
type InMemoryQueue struct {
	mu      sync.RWMutex
	topics  map[string]*backlog
	closed  bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	log     *zap.Logger
	workers int

	MaxRetries int
	Backoff    time.Duration
}

// job wraps a message body with retry info
type job struct {
	Body       []byte
	RetryCount int
}

// backlog is a FIFO of jobs shared by a topic's workers.
type backlog struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []job
	closed bool
}

func newBacklog() *backlog {
	b := &backlog{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *backlog) push(j job) {
	b.mu.Lock()
	b.jobs = append(b.jobs, j)
	b.mu.Unlock()
	b.cond.Signal()
}

// pop blocks until a job is available. ok is false once the backlog is
// closed and empty.
func (b *backlog) pop() (j job, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.jobs) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.jobs) == 0 {
		return job{}, false
	}
	j = b.jobs[0]
	b.jobs[0] = job{}
	b.jobs = b.jobs[1:]
	return j, true
}

func (b *backlog) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Len reports how many jobs of the topic are waiting for a worker.
func (q *InMemoryQueue) Len(topic string) int {
	q.mu.RLock()
	b, ok := q.topics[topic]
	q.mu.RUnlock()
	if !ok {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.jobs)
}

// NewInMemoryQueue creates a queue running workers goroutines per topic.
func NewInMemoryQueue(log *zap.Logger, workers int) *InMemoryQueue {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryQueue{
		topics:     make(map[string]*backlog),
		ctx:        ctx,
		cancel:     cancel,
		log:        log,
		workers:    workers,
		MaxRetries: DefaultMaxRetries,
		Backoff:    500 * time.Millisecond,
	}
}

// Publish encodes payload as JSON and appends it to the topic's backlog.
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}
	b, ok := q.topics[topic]
	if !ok {
		return fmt.Errorf("%w %s", ErrNoSubscribers, topic)
	}
	b.push(job{Body: body})
	return nil
}

// Subscribe starts the worker pool for a topic. One handler per topic.
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if _, ok := q.topics[topic]; ok {
		return fmt.Errorf("queue: topic %s already has a subscriber", topic)
	}

	b := newBacklog()
	q.topics[topic] = b
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				j, ok := b.pop()
				if !ok {
					return
				}
				q.processJob(topic, handler, j)
			}
		}()
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(topic string, handler Handler, j job) {
	for {
		err := handler(q.ctx, j.Body)
		if err == nil {
			return
		}

		j.RetryCount++
		if j.RetryCount > q.MaxRetries || q.ctx.Err() != nil {
			q.log.Error("Job permanently failed",
				zap.String("topic", topic),
				zap.Int("attempts", j.RetryCount),
				zap.ByteString("body", j.Body),
				zap.Error(err),
			)
			return
		}

		q.log.Warn("Job failed, retrying",
			zap.String("topic", topic),
			zap.Int("retry", j.RetryCount),
			zap.Int("max_retries", q.MaxRetries),
			zap.Error(err),
		)

		select {
		case <-time.After(time.Duration(j.RetryCount) * q.Backoff):
		case <-q.ctx.Done():
			return
		}
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for _, b := range q.topics {
		b.close()
	}
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()
	return nil
}

var _ Queue = (*InMemoryQueue)(nil)
