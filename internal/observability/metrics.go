package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the dispatch pipeline and the
// HTTP surface.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	dispatchesTotal       *prometheus.CounterVec
	recipientsTotal       *prometheus.CounterVec
	dispatchDuration      *prometheus.HistogramVec
	retryAttemptsTotal    *prometheus.CounterVec
	offlineQueueDepth     prometheus.Gauge
	invalidAddressesTotal prometheus.Counter
	healthStatus          prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_relay",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "push_relay",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		dispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_relay",
				Name:      "dispatches_total",
				Help:      "Total number of dispatch calls grouped by notification kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		recipientsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_relay",
				Name:      "recipients_total",
				Help:      "Total number of recipients processed grouped by kind and per-recipient outcome.",
			},
			[]string{"kind", "outcome"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "push_relay",
				Name:      "dispatch_duration_seconds",
				Help:      "End-to-end dispatch duration in seconds grouped by kind.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"kind"},
		),
		retryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_relay",
				Name:      "retry_attempts_total",
				Help:      "Total number of failed delivery attempts grouped by operation and error kind.",
			},
			[]string{"operation", "error_kind"},
		),
		offlineQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "push_relay",
				Name:      "offline_queue_depth",
				Help:      "Current number of operations waiting in the offline replay queue.",
			},
		),
		invalidAddressesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "push_relay",
				Name:      "invalid_addresses_total",
				Help:      "Total number of device addresses reported invalid by the provider.",
			},
		),
		healthStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "push_relay",
				Name:      "health_status",
				Help:      "Latest health check status: 0 healthy, 1 degraded, 2 unhealthy.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.dispatchesTotal,
		m.recipientsTotal,
		m.dispatchDuration,
		m.retryAttemptsTotal,
		m.offlineQueueDepth,
		m.invalidAddressesTotal,
		m.healthStatus,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncDispatch(kind string, outcome string) {
	if m == nil {
		return
	}
	m.dispatchesTotal.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) AddRecipients(kind string, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.recipientsTotal.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Add(float64(count))
}

func (m *Metrics) ObserveDispatchDuration(kind string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.dispatchDuration.WithLabelValues(normalizeLabel(kind)).Observe(seconds)
}

func (m *Metrics) IncRetryAttempt(operation string, errorKind string) {
	if m == nil {
		return
	}
	m.retryAttemptsTotal.WithLabelValues(normalizeLabel(operation), normalizeLabel(errorKind)).Inc()
}

func (m *Metrics) SetOfflineQueueDepth(depth int) {
	if m == nil {
		return
	}
	if depth < 0 {
		depth = 0
	}
	m.offlineQueueDepth.Set(float64(depth))
}

func (m *Metrics) AddInvalidAddresses(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.invalidAddressesTotal.Add(float64(count))
}

func (m *Metrics) SetHealthStatus(level int) {
	if m == nil {
		return
	}
	m.healthStatus.Set(float64(level))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
