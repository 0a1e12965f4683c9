package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/push-relay/internal/domain"
	"github.com/kursadbilgin/push-relay/internal/observability"
	"github.com/kursadbilgin/push-relay/internal/registry"
	"go.uber.org/zap"
)

const (
	defaultLogCapacity   = 1000
	defaultLogHorizon    = 24 * time.Hour
	defaultCheckInterval = 60 * time.Second
	probeTimeout         = 2 * time.Second

	defaultDeliveryRateMin = 0.95
	defaultLatencyMax      = 5 * time.Second
	defaultCacheHitRateMin = 0.80
	degradedPassFraction   = 0.75
)

// Status is the aggregate health verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) String() string { return string(s) }

func statusLevel(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Probe is one independent boolean health check of a downstream dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Thresholds configures the metric-based health downgrades.
type Thresholds struct {
	DeliveryRateMin float64
	LatencyMax      time.Duration
	CacheHitRateMin float64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.DeliveryRateMin <= 0 {
		t.DeliveryRateMin = defaultDeliveryRateMin
	}
	if t.LatencyMax <= 0 {
		t.LatencyMax = defaultLatencyMax
	}
	if t.CacheHitRateMin <= 0 {
		t.CacheHitRateMin = defaultCacheHitRateMin
	}
	return t
}

// DeliveryMetrics is a windowed aggregate over the delivery log.
type DeliveryMetrics struct {
	TotalNotifications int
	Successful         int
	Failed             int
	DeliveryRate       float64
	AvgLatency         time.Duration
	AvgRetries         float64
	ErrorBreakdown     map[domain.ErrorKind]int
}

// HealthCheckResult is a recomputed snapshot; it is never persisted.
type HealthCheckResult struct {
	Status          Status
	CheckedAt       time.Time
	Checks          map[string]bool
	Metrics         DeliveryMetrics
	Issues          []string
	Recommendations []string
}

// CacheStatsFunc supplies the registry cache counters for the cache-hit-rate
// threshold.
type CacheStatsFunc func() registry.CacheStats

// Monitor records dispatch outcomes in a bounded in-memory log, aggregates
// them into windowed metrics, and runs health checks against its probes and
// thresholds. All mutable state is guarded by a single mutex; reads work on
// snapshots.
type Monitor struct {
	mu     sync.Mutex
	log    *deliveryLog
	latest *HealthCheckResult

	probes     []Probe
	thresholds Thresholds
	cacheStats CacheStatsFunc

	logger   *zap.Logger
	metrics  *observability.Metrics
	interval time.Duration
	horizon  time.Duration
	now      func() time.Time
}

type Option func(*Monitor)

func WithLogCapacity(capacity int) Option {
	return func(m *Monitor) { m.log = newDeliveryLog(capacity) }
}

func WithThresholds(t Thresholds) Option {
	return func(m *Monitor) { m.thresholds = t.withDefaults() }
}

func WithCheckInterval(interval time.Duration) Option {
	return func(m *Monitor) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

func WithHorizon(horizon time.Duration) Option {
	return func(m *Monitor) {
		if horizon > 0 {
			m.horizon = horizon
		}
	}
}

func WithCacheStats(fn CacheStatsFunc) Option {
	return func(m *Monitor) { m.cacheStats = fn }
}

func NewMonitor(probes []Probe, logger *zap.Logger, metrics *observability.Metrics, opts ...Option) (*Monitor, error) {
	for _, p := range probes {
		if p.Name == "" || p.Check == nil {
			return nil, fmt.Errorf("probe requires a name and a check func")
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Monitor{
		log:        newDeliveryLog(defaultLogCapacity),
		probes:     probes,
		thresholds: Thresholds{}.withDefaults(),
		logger:     logger,
		metrics:    metrics,
		interval:   defaultCheckInterval,
		horizon:    defaultLogHorizon,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// LogDelivery appends one terminal dispatch outcome. O(1); the oldest entry is
// evicted when the buffer is full.
func (m *Monitor) LogDelivery(kind domain.Kind, recipients int, success bool, latency time.Duration, retries int, errorKind domain.ErrorKind) {
	entry := LogEntry{
		ID:         uuid.NewString(),
		Timestamp:  m.now().UTC(),
		Kind:       kind,
		Recipients: recipients,
		Success:    success,
		Latency:    latency,
		Retries:    retries,
		ErrorKind:  errorKind,
	}

	m.mu.Lock()
	m.log.append(entry)
	m.mu.Unlock()
}

// GetDeliveryMetrics aggregates log entries no older than window. A zero or
// negative window matches nothing and returns the all-zero result.
func (m *Monitor) GetDeliveryMetrics(window time.Duration) DeliveryMetrics {
	metrics := DeliveryMetrics{
		ErrorBreakdown: make(map[domain.ErrorKind]int),
	}
	if window <= 0 {
		return metrics
	}

	cutoff := m.now().UTC().Add(-window)

	m.mu.Lock()
	entries := m.log.snapshot()
	m.mu.Unlock()

	var totalLatency time.Duration
	var totalRetries int
	for _, entry := range entries {
		if entry.Timestamp.Before(cutoff) {
			continue
		}
		metrics.TotalNotifications++
		totalLatency += entry.Latency
		totalRetries += entry.Retries
		if entry.Success {
			metrics.Successful++
			continue
		}
		metrics.Failed++
		if entry.ErrorKind != "" {
			metrics.ErrorBreakdown[entry.ErrorKind]++
		}
	}

	if metrics.TotalNotifications == 0 {
		return metrics
	}

	metrics.DeliveryRate = float64(metrics.Successful) / float64(metrics.TotalNotifications)
	metrics.AvgLatency = totalLatency / time.Duration(metrics.TotalNotifications)
	metrics.AvgRetries = float64(totalRetries) / float64(metrics.TotalNotifications)
	return metrics
}

// PerformHealthCheck runs every probe, derives the aggregate status from the
// pass fraction, then applies the metric thresholds as downgrades.
func (m *Monitor) PerformHealthCheck(ctx context.Context) HealthCheckResult {
	if ctx == nil {
		ctx = context.Background()
	}

	result := HealthCheckResult{
		CheckedAt: m.now().UTC(),
		Checks:    make(map[string]bool, len(m.probes)),
		Metrics:   m.GetDeliveryMetrics(m.horizon),
	}

	passed := 0
	for _, probe := range m.probes {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := probe.Check(probeCtx)
		cancel()

		ok := err == nil
		result.Checks[probe.Name] = ok
		if ok {
			passed++
			continue
		}
		result.Issues = append(result.Issues, fmt.Sprintf("%s check failed: %v", probe.Name, err))
	}

	// No registered probes means nothing has been verified, not that
	// everything passed.
	switch {
	case len(m.probes) > 0 && passed == len(m.probes):
		result.Status = StatusHealthy
	case len(m.probes) > 0 && float64(passed)/float64(len(m.probes)) >= degradedPassFraction:
		result.Status = StatusDegraded
		result.Recommendations = append(result.Recommendations, "inspect failing dependency probes")
	default:
		result.Status = StatusUnhealthy
		result.Recommendations = append(result.Recommendations, "multiple dependencies failing; check connectivity and credentials")
	}

	m.applyThresholds(&result)

	m.mu.Lock()
	m.latest = &result
	m.mu.Unlock()

	m.metrics.SetHealthStatus(statusLevel(result.Status))
	if result.Status != StatusHealthy {
		m.logger.Warn("health check degraded",
			zap.String("status", result.Status.String()),
			zap.Strings("issues", result.Issues),
		)
	}

	return result
}

// LatestHealthCheck returns the most recent snapshot, or false when no check
// has run yet.
func (m *Monitor) LatestHealthCheck() (HealthCheckResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return HealthCheckResult{}, false
	}
	return *m.latest, true
}

// Start runs periodic health checks and log compaction until ctx is done.
func (m *Monitor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	m.PerformHealthCheck(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.PerformHealthCheck(ctx)
			m.compact()
		}
	}
}

// LogSize reports the current number of buffered entries.
func (m *Monitor) LogSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.log.len()
}

func (m *Monitor) compact() {
	cutoff := m.now().UTC().Add(-m.horizon)

	m.mu.Lock()
	purged := m.log.purgeOlderThan(cutoff)
	m.mu.Unlock()

	if purged > 0 {
		m.logger.Debug("delivery log compacted", zap.Int("purged", purged))
	}
}

func (m *Monitor) applyThresholds(result *HealthCheckResult) {
	metrics := result.Metrics

	if metrics.TotalNotifications > 0 && metrics.DeliveryRate < m.thresholds.DeliveryRateMin {
		m.downgrade(result, StatusDegraded)
		result.Issues = append(result.Issues,
			fmt.Sprintf("delivery rate %.1f%% below threshold %.1f%%", metrics.DeliveryRate*100, m.thresholds.DeliveryRateMin*100))
		result.Recommendations = append(result.Recommendations, "review recent error breakdown for dominant failure kinds")

		if credentialFailures := metrics.ErrorBreakdown[domain.ErrorKindCredentialInvalid]; credentialFailures > 0 {
			m.downgrade(result, StatusUnhealthy)
			result.Issues = append(result.Issues, fmt.Sprintf("%d credential failures in window", credentialFailures))
			result.Recommendations = append(result.Recommendations, "rotate or verify provider credentials")
		}
	}

	if metrics.TotalNotifications > 0 && metrics.AvgLatency > m.thresholds.LatencyMax {
		m.downgrade(result, StatusDegraded)
		result.Issues = append(result.Issues,
			fmt.Sprintf("average latency %s above threshold %s", metrics.AvgLatency, m.thresholds.LatencyMax))
		result.Recommendations = append(result.Recommendations, "check provider latency and retry pressure")
	}

	if m.cacheStats != nil {
		if hitRate := m.cacheStats().HitRate(); hitRate < m.thresholds.CacheHitRateMin {
			m.downgrade(result, StatusDegraded)
			result.Issues = append(result.Issues,
				fmt.Sprintf("registry cache hit rate %.1f%% below threshold %.1f%%", hitRate*100, m.thresholds.CacheHitRateMin*100))
			result.Recommendations = append(result.Recommendations, "investigate repeated invalid-address churn")
		}
	}
}

// downgrade lowers the status, never raises it.
func (m *Monitor) downgrade(result *HealthCheckResult, to Status) {
	if statusLevel(to) > statusLevel(result.Status) {
		result.Status = to
	}
}
