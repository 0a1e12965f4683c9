package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/kursadbilgin/push-relay/internal/domain"
	"github.com/kursadbilgin/push-relay/internal/netstate"
	"github.com/kursadbilgin/push-relay/internal/observability"
	"github.com/kursadbilgin/push-relay/internal/provider"
	"github.com/kursadbilgin/push-relay/internal/queue"
	"go.uber.org/zap"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
	defaultMaxDelay   = 30 * time.Second
	defaultMultiplier = 2.0
	defaultJitterMax  = time.Second
	defaultTimeout    = 10 * time.Second

	// UNKNOWN failures get one conservative retry, then surface.
	maxUnknownFailures = 2
)

// Config controls one retried operation.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	JitterMax  time.Duration
	Timeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.Multiplier <= 1 {
		c.Multiplier = defaultMultiplier
	}
	if c.JitterMax < 0 {
		c.JitterMax = defaultJitterMax
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// Operation is one attemptable unit of work.
type Operation func(ctx context.Context) error

type state int

const (
	stateAttempting state = iota
	stateWaiting
	stateSucceeded
	stateFailed
)

// Executor wraps operations with a per-attempt timeout, exponential backoff
// with jitter, and classification-driven retry decisions.
type Executor struct {
	logger   *zap.Logger
	metrics  *observability.Metrics
	observer netstate.Observer
	offline  *queue.OfflineQueue

	randIntn func(n int) int
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewExecutor(logger *zap.Logger, metrics *observability.Metrics) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Executor{
		logger:   logger,
		metrics:  metrics,
		randIntn: rand.Intn,
		sleep:    sleepWithContext,
	}
}

// WithOfflineFallback enables the graceful-degradation path: network-classified
// terminal failures are handed to the offline queue while the observer reports
// the process offline.
func (e *Executor) WithOfflineFallback(observer netstate.Observer, offline *queue.OfflineQueue) *Executor {
	e.observer = observer
	e.offline = offline
	return e
}

// Execute runs op until it succeeds, fails terminally, or exhausts retries.
// Returns the number of retries consumed alongside the terminal error.
func (e *Executor) Execute(ctx context.Context, name string, cfg Config, op Operation) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.withDefaults()

	var lastErr error
	attempt := 0
	unknownFailures := 0

	st := stateAttempting
	for {
		switch st {
		case stateAttempting:
			attempt++
			err := e.runAttempt(ctx, cfg.Timeout, op)
			if err == nil {
				st = stateSucceeded
				continue
			}

			lastErr = err
			classification := provider.Classify(err)
			e.logger.Warn("attempt failed",
				zap.String("operation", name),
				zap.Int("attempt", attempt),
				zap.String("kind", classification.Kind.String()),
				zap.Bool("retryable", classification.Retryable),
				zap.Error(err),
			)
			e.metrics.IncRetryAttempt(name, classification.Kind.String())

			if classification.Kind == domain.ErrorKindUnknown {
				unknownFailures++
			}

			switch {
			case !classification.Retryable:
				st = stateFailed
			case classification.Kind == domain.ErrorKindUnknown && unknownFailures >= maxUnknownFailures:
				st = stateFailed
			case attempt >= cfg.MaxRetries:
				st = stateFailed
			default:
				st = stateWaiting
			}

		case stateWaiting:
			delay := e.backoffDelay(cfg, attempt)
			e.logger.Debug("waiting before retry",
				zap.String("operation", name),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			if err := e.sleep(ctx, delay); err != nil {
				return attempt - 1, err
			}
			st = stateAttempting

		case stateSucceeded:
			return attempt - 1, nil

		case stateFailed:
			return attempt - 1, lastErr
		}
	}
}

// ExecuteOrQueue is Execute plus the graceful-degradation path: when the
// terminal failure is network-classified and the process is offline, the
// operation is adopted by the offline queue and a pending handle is returned
// instead of an error.
func (e *Executor) ExecuteOrQueue(ctx context.Context, name string, cfg Config, op Operation) (int, *queue.Pending, error) {
	retries, err := e.Execute(ctx, name, cfg, op)
	if err == nil {
		return retries, nil, nil
	}

	if e.offline == nil || e.observer == nil || e.observer.IsOnline() {
		return retries, nil, err
	}
	if provider.Classify(err).Kind != domain.ErrorKindNetwork {
		return retries, nil, err
	}

	cfg = cfg.withDefaults()
	pending := e.offline.Enqueue(context.WithoutCancel(ctx), name, queue.Operation(op), cfg.MaxRetries)
	e.logger.Info("operation handed to offline queue",
		zap.String("operation", name),
		zap.String("itemId", pending.ID()),
	)
	return retries, pending, nil
}

// backoffDelay computes min(base * multiplier^(attempt-1), max) plus uniform
// jitter in [0, jitterMax].
func (e *Executor) backoffDelay(cfg Config, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay >= cfg.MaxDelay {
			delay = cfg.MaxDelay
			break
		}
	}
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}

	if cfg.JitterMax > 0 && e.randIntn != nil {
		delay += time.Duration(e.randIntn(int(cfg.JitterMax.Milliseconds())+1)) * time.Millisecond
	}
	return delay
}

// runAttempt races op against the per-attempt timeout. A timeout is reported
// as context.DeadlineExceeded, which classifies as a network failure.
func (e *Executor) runAttempt(ctx context.Context, timeout time.Duration, op Operation) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(attemptCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("attempt timed out after %s: %w", timeout, context.DeadlineExceeded)
	}
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
