package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/push-relay/internal/domain"
	"github.com/kursadbilgin/push-relay/internal/monitor"
	"github.com/kursadbilgin/push-relay/internal/observability"
	"github.com/kursadbilgin/push-relay/internal/provider"
	"github.com/kursadbilgin/push-relay/internal/queue"
	"github.com/kursadbilgin/push-relay/internal/ratelimit"
	"github.com/kursadbilgin/push-relay/internal/registry"
	"github.com/kursadbilgin/push-relay/internal/retry"
	"go.uber.org/zap"
)

// Dispatcher turns one logical payload into provider-sized chunk submissions
// and aggregates their outcomes into a single batch result.
//
// Per-recipient failures never surface as errors; Dispatch only errors on
// malformed payloads.
type Dispatcher struct {
	provider  provider.Provider
	executor  *retry.Executor
	registry  registry.Registry
	limiter   ratelimit.RateLimiter
	monitor   *monitor.Monitor
	metrics   *observability.Metrics
	logger    *zap.Logger
	batchSize int
	retryCfg  retry.Config
	now       func() time.Time
}

func NewDispatcher(
	pushProvider provider.Provider,
	executor *retry.Executor,
	recipientRegistry registry.Registry,
	limiter ratelimit.RateLimiter,
	deliveryMonitor *monitor.Monitor,
	metrics *observability.Metrics,
	batchSize int,
	retryCfg retry.Config,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if pushProvider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("retry executor is required")
	}
	if batchSize <= 0 || batchSize > provider.MaxBatchSize {
		batchSize = provider.MaxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		provider:  pushProvider,
		executor:  executor,
		registry:  recipientRegistry,
		limiter:   limiter,
		monitor:   deliveryMonitor,
		metrics:   metrics,
		logger:    logger,
		batchSize: batchSize,
		retryCfg:  retryCfg,
		now:       time.Now,
	}, nil
}

// Dispatch delivers payload to every recipient, chunk by chunk in order.
// Chunks that fail terminally while offline are adopted by the offline queue
// and counted under Queued; their recipients are neither successful nor failed
// until the replay resolves.
func (d *Dispatcher) Dispatch(ctx context.Context, payload domain.Payload) (*domain.BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	logger := observability.WithContextLogger(d.logger, ctx)
	start := d.now()
	kind := payload.Data.Kind

	result := &domain.BatchResult{
		TotalRecipients: len(payload.Recipients),
	}

	var invalidAddresses []string
	chunks := domain.SplitRecipients(payload.Recipients, d.batchSize)
	for _, chunk := range chunks {
		chunkStart := d.now()
		outcome := d.sendChunk(ctx, payload, chunk)
		latency := d.now().Sub(chunkStart)

		result.Outcomes = append(result.Outcomes, outcome.AttemptOutcome)
		switch {
		case outcome.Queued:
			result.Queued += len(chunk.Recipients)
		default:
			result.Successful += outcome.delivered
			result.Failed += len(chunk.Recipients) - outcome.delivered
			if outcome.Message != "" {
				result.ErrorMessages = append(result.ErrorMessages, outcome.Message)
			}
			invalidAddresses = append(invalidAddresses, outcome.invalidAddresses...)

			if d.monitor != nil {
				d.monitor.LogDelivery(kind, len(chunk.Recipients), outcome.Success, latency, outcome.Retries, outcome.ErrorKind)
			}
		}
	}

	// Deactivation never blocks outcome reporting: it runs after aggregation
	// and failures are logged, not retried.
	d.reportInvalidAddresses(ctx, logger, invalidAddresses)

	result.Elapsed = d.now().Sub(start)
	d.recordBatch(logger, kind, result)

	return result, nil
}

// chunkOutcome carries the per-chunk bookkeeping the batch loop needs beyond
// the public outcome shape.
type chunkOutcome struct {
	domain.AttemptOutcome
	delivered        int
	invalidAddresses []string
}

func (d *Dispatcher) sendChunk(ctx context.Context, payload domain.Payload, chunk domain.Chunk) chunkOutcome {
	kindLabel := strings.ToLower(payload.Data.Kind.String())
	name := fmt.Sprintf("dispatch:%s:chunk-%d", kindLabel, chunk.Index)

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, kindLabel); err != nil {
			classification := provider.Classify(err)
			return chunkOutcome{AttemptOutcome: domain.AttemptOutcome{
				ChunkIndex: chunk.Index,
				ErrorKind:  classification.Kind,
				Message:    fmt.Sprintf("rate limiter wait failed: %v", err),
				Retryable:  classification.Retryable,
			}}
		}
	}

	// The executor abandons an attempt that outlives its deadline, but the
	// provider call keeps running until it returns. Its late result must not
	// clobber a newer attempt's, so writes are guarded and a write from a
	// cancelled attempt context is discarded.
	var (
		receiptMu sync.Mutex
		receipt   *provider.ChunkReceipt
	)
	op := func(ctx context.Context) error {
		r, err := d.provider.SendChunk(ctx, provider.ChunkRequest{
			Recipients: chunk.Recipients,
			Title:      payload.Title,
			Body:       payload.Body,
			Data:       payload.Data,
			Priority:   payload.Priority,
		})
		if err != nil {
			return err
		}
		receiptMu.Lock()
		if ctx.Err() == nil {
			receipt = r
		}
		receiptMu.Unlock()
		return nil
	}

	retries, pending, err := d.executor.ExecuteOrQueue(ctx, name, d.retryCfg, op)
	if pending != nil {
		d.watchPending(payload.Data.Kind, chunk, pending)
		return chunkOutcome{AttemptOutcome: domain.AttemptOutcome{
			ChunkIndex: chunk.Index,
			Queued:     true,
			Retries:    retries,
		}}
	}
	if err != nil {
		classification := provider.Classify(err)
		return chunkOutcome{AttemptOutcome: domain.AttemptOutcome{
			ChunkIndex: chunk.Index,
			ErrorKind:  classification.Kind,
			Message:    err.Error(),
			Retryable:  classification.Retryable,
			Retries:    retries,
		}}
	}

	receiptMu.Lock()
	final := receipt
	receiptMu.Unlock()
	return d.aggregateReceipt(chunk, final, retries)
}

// aggregateReceipt folds per-ticket statuses into one chunk outcome. Tickets
// the provider rejected inside a 2xx response count as failed recipients;
// DeviceNotRegistered addresses are collected for deregistration.
func (d *Dispatcher) aggregateReceipt(chunk domain.Chunk, receipt *provider.ChunkReceipt, retries int) chunkOutcome {
	outcome := chunkOutcome{AttemptOutcome: domain.AttemptOutcome{
		ChunkIndex: chunk.Index,
		Retries:    retries,
	}}
	if receipt == nil {
		outcome.ErrorKind = domain.ErrorKindUnknown
		outcome.Message = fmt.Sprintf("chunk %d: provider returned no receipt", chunk.Index)
		return outcome
	}

	var failureMessages []string
	for _, ticket := range receipt.Tickets {
		if ticket.Status == provider.TicketOK {
			outcome.delivered++
			if ticket.TicketID != "" {
				outcome.TicketIDs = append(outcome.TicketIDs, ticket.TicketID)
			}
			continue
		}

		classification := provider.ClassifyCode(ticket.Code)
		if outcome.ErrorKind == "" {
			outcome.ErrorKind = classification.Kind
		}
		failureMessages = append(failureMessages, fmt.Sprintf("%s: %s", ticket.Address, ticketFailureText(ticket)))
		if classification.Kind == domain.ErrorKindDeviceInvalid {
			outcome.invalidAddresses = append(outcome.invalidAddresses, ticket.Address)
		}
	}

	outcome.Success = outcome.delivered == len(chunk.Recipients)
	if len(failureMessages) > 0 {
		outcome.Message = fmt.Sprintf("chunk %d: %s", chunk.Index, strings.Join(failureMessages, "; "))
	}
	return outcome
}

func ticketFailureText(ticket provider.Ticket) string {
	if ticket.Message != "" {
		return ticket.Message
	}
	if ticket.Code != "" {
		return ticket.Code
	}
	return "rejected by provider"
}

// watchPending records the terminal outcome of a queued chunk once the offline
// queue resolves it.
func (d *Dispatcher) watchPending(kind domain.Kind, chunk domain.Chunk, pending *queue.Pending) {
	if d.monitor == nil {
		return
	}

	enqueued := d.now()
	go func() {
		err := pending.Wait(context.Background())
		latency := d.now().Sub(enqueued)

		errorKind := domain.ErrorKind("")
		if err != nil {
			errorKind = provider.Classify(err).Kind
		}
		d.monitor.LogDelivery(kind, len(chunk.Recipients), err == nil, latency, 0, errorKind)
	}()
}

func (d *Dispatcher) reportInvalidAddresses(ctx context.Context, logger *zap.Logger, addresses []string) {
	if len(addresses) == 0 {
		return
	}
	d.metrics.AddInvalidAddresses(len(addresses))
	if d.registry == nil {
		return
	}

	seen := make(map[string]struct{}, len(addresses))
	for _, address := range addresses {
		if _, dup := seen[address]; dup {
			continue
		}
		seen[address] = struct{}{}

		if err := d.registry.RemoveInvalidAddress(ctx, address); err != nil {
			logger.Warn("failed to deregister invalid address",
				zap.String("address", address),
				zap.Error(err),
			)
		}
	}
}

func (d *Dispatcher) recordBatch(logger *zap.Logger, kind domain.Kind, result *domain.BatchResult) {
	outcome := "delivered"
	switch {
	case result.Queued > 0:
		outcome = "queued"
	case result.Failed > 0 && result.Successful == 0:
		outcome = "failed"
	case result.Failed > 0:
		outcome = "partial"
	}

	kindLabel := strings.ToLower(kind.String())
	d.metrics.IncDispatch(kindLabel, outcome)
	d.metrics.AddRecipients(kindLabel, "delivered", result.Successful)
	d.metrics.AddRecipients(kindLabel, "failed", result.Failed)
	d.metrics.AddRecipients(kindLabel, "queued", result.Queued)
	d.metrics.ObserveDispatchDuration(kindLabel, result.Elapsed)

	logger.Info("batch dispatched",
		zap.String("kind", kindLabel),
		zap.Int("totalRecipients", result.TotalRecipients),
		zap.Int("successful", result.Successful),
		zap.Int("failed", result.Failed),
		zap.Int("queued", result.Queued),
		zap.Duration("elapsed", result.Elapsed),
	)
}
