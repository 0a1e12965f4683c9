package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/push-relay/internal/domain"
	"github.com/kursadbilgin/push-relay/internal/netstate"
	"github.com/kursadbilgin/push-relay/internal/observability"
	"github.com/kursadbilgin/push-relay/internal/provider"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts  = 3
	defaultAttemptLimit = 10 * time.Second
	baseReplayDelay     = time.Second
	maxReplayDelay      = 30 * time.Second
)

// Operation is a deferred delivery attempt.
type Operation func(ctx context.Context) error

// Pending is the caller's handle on a deferred operation. It resolves exactly
// once: with nil on successful replay, or with the terminal error.
type Pending struct {
	id   string
	done chan struct{}
	err  error
	once sync.Once
}

func (p *Pending) ID() string { return p.id }

// Done is closed when the operation reaches a terminal outcome.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the terminal error. Only meaningful after Done is closed.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the operation resolves or ctx expires.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return p.err
	}
}

func (p *Pending) resolve(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

type item struct {
	id          string
	name        string
	op          Operation
	enqueuedAt  time.Time
	attempts    int
	maxAttempts int
	pending     *Pending
}

// OfflineQueue holds operations that cannot currently succeed because the
// device is offline and replays them in order once connectivity returns.
//
// Replay is earliest-first; an item that fails a replay attempt goes back to
// the head rather than the tail, so older work keeps priority over anything
// enqueued while it was waiting.
type OfflineQueue struct {
	mu         sync.Mutex
	items      []*item
	processing atomic.Bool

	observer netstate.Observer
	logger   *zap.Logger
	metrics  *observability.Metrics

	attemptLimit time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewOfflineQueue(observer netstate.Observer, logger *zap.Logger, metrics *observability.Metrics) (*OfflineQueue, error) {
	if observer == nil {
		return nil, fmt.Errorf("network observer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OfflineQueue{
		observer:     observer,
		logger:       logger,
		metrics:      metrics,
		attemptLimit: defaultAttemptLimit,
		now:          time.Now,
		sleep:        sleepWithContext,
	}, nil
}

// Enqueue defers op for replay and kicks off processing immediately in case
// connectivity is already back but the observer has not flipped yet.
func (q *OfflineQueue) Enqueue(ctx context.Context, name string, op Operation, maxAttempts int) *Pending {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	pending := &Pending{
		id:   uuid.NewString(),
		done: make(chan struct{}),
	}

	q.mu.Lock()
	q.items = append(q.items, &item{
		id:          pending.id,
		name:        name,
		op:          op,
		enqueuedAt:  q.now().UTC(),
		maxAttempts: maxAttempts,
		pending:     pending,
	})
	depth := len(q.items)
	q.mu.Unlock()

	q.logger.Info("operation queued for offline replay",
		zap.String("itemId", pending.id),
		zap.String("operation", name),
		zap.Int("queueDepth", depth),
	)
	q.metrics.SetOfflineQueueDepth(depth)

	go q.Process(ctx)

	return pending
}

// Process drains the queue while it is non-empty and connectivity is up.
// Reentrant-safe: a second concurrent invocation is a no-op.
func (q *OfflineQueue) Process(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !q.processing.CompareAndSwap(false, true) {
		return
	}
	defer q.processing.Store(false)

	for ctx.Err() == nil && q.observer.IsOnline() {
		next := q.popHead()
		if next == nil {
			return
		}

		next.attempts++
		err := q.runOnce(ctx, next.op)
		if err == nil {
			q.logger.Info("queued operation replayed",
				zap.String("itemId", next.id),
				zap.String("operation", next.name),
				zap.Int("attempts", next.attempts),
			)
			next.pending.resolve(nil)
			q.metrics.SetOfflineQueueDepth(q.Len())
			continue
		}

		classification := provider.Classify(err)
		if classification.Retryable && next.attempts < next.maxAttempts {
			q.pushHead(next)
			delay := replayDelay(next.attempts)
			q.logger.Warn("queued operation failed, will replay",
				zap.String("itemId", next.id),
				zap.String("operation", next.name),
				zap.Int("attempts", next.attempts),
				zap.Duration("delay", delay),
				zap.String("kind", classification.Kind.String()),
			)
			if sleepErr := q.sleep(ctx, delay); sleepErr != nil {
				return
			}
			continue
		}

		q.logger.Error("queued operation abandoned",
			zap.String("itemId", next.id),
			zap.String("operation", next.name),
			zap.Int("attempts", next.attempts),
			zap.String("kind", classification.Kind.String()),
			zap.Error(err),
		)
		next.pending.resolve(err)
		q.metrics.SetOfflineQueueDepth(q.Len())
	}
}

// Start subscribes to connectivity transitions and triggers processing on each
// offline-to-online edge. Blocks until ctx is done.
func (q *OfflineQueue) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	changes, cancel := q.observer.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case online := <-changes:
			if online {
				q.Process(ctx)
			}
		}
	}
}

// Drain rejects every queued item with ErrQueueCleared. Used on shutdown so no
// pending result is silently dropped.
func (q *OfflineQueue) Drain() {
	q.mu.Lock()
	drained := q.items
	q.items = nil
	q.mu.Unlock()

	for _, it := range drained {
		it.pending.resolve(fmt.Errorf("%w: %s", domain.ErrQueueCleared, it.name))
	}
	if len(drained) > 0 {
		q.logger.Info("offline queue drained", zap.Int("rejected", len(drained)))
	}
	q.metrics.SetOfflineQueueDepth(0)
}

func (q *OfflineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *OfflineQueue) popHead() *item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head
}

func (q *OfflineQueue) pushHead(it *item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]*item{it}, q.items...)
}

func (q *OfflineQueue) runOnce(ctx context.Context, op Operation) error {
	attemptCtx, cancel := context.WithTimeout(ctx, q.attemptLimit)
	defer cancel()
	return op(attemptCtx)
}

func replayDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	delay := baseReplayDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxReplayDelay {
			return maxReplayDelay
		}
	}
	return delay
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
