package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/push-relay/internal/monitor"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// ProviderPinger checks push-provider reachability for the readiness endpoint.
type ProviderPinger interface {
	Check(ctx context.Context) error
}

func RegisterHealthRoutes(app fiber.Router, rdb *redis.Client, providerPing ProviderPinger, deliveryMonitor *monitor.Monitor) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(rdb, providerPing))
	app.Get("/healthz", HealthzHandler(deliveryMonitor))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(rdb *redis.Client, providerPing ProviderPinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		redisErr := rdb.Ping(ctx).Err()
		providerErr := providerPing.Check(ctx)

		redisStatus := "ok"
		if redisErr != nil {
			redisStatus = "down"
		}
		providerStatus := "ok"
		if providerErr != nil {
			providerStatus = "down"
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if redisErr != nil || providerErr != nil {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": fiber.Map{
				"redis":    redisStatus,
				"provider": providerStatus,
			},
		})
	}
}

// HealthzHandler serves the delivery monitor's latest health snapshot without
// rerunning probes; an operator surface polls this for alerting.
func HealthzHandler(deliveryMonitor *monitor.Monitor) fiber.Handler {
	return func(c *fiber.Ctx) error {
		latest, ok := deliveryMonitor.LatestHealthCheck()
		if !ok {
			latest = deliveryMonitor.PerformHealthCheck(c.Context())
		}

		statusCode := fiber.StatusOK
		if latest.Status == monitor.StatusUnhealthy {
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(healthResponse{
			Status:          latest.Status.String(),
			CheckedAt:       latest.CheckedAt,
			Checks:          latest.Checks,
			Issues:          latest.Issues,
			Recommendations: latest.Recommendations,
			Metrics: healthMetricsResponse{
				TotalNotifications: latest.Metrics.TotalNotifications,
				Successful:         latest.Metrics.Successful,
				Failed:             latest.Metrics.Failed,
				DeliveryRate:       latest.Metrics.DeliveryRate,
				AvgLatencyMillis:   latest.Metrics.AvgLatency.Milliseconds(),
				AvgRetries:         latest.Metrics.AvgRetries,
				ErrorBreakdown:     errorBreakdownLabels(latest.Metrics),
			},
		})
	}
}

type healthResponse struct {
	Status          string                `json:"status"`
	CheckedAt       time.Time             `json:"checkedAt"`
	Checks          map[string]bool       `json:"checks"`
	Issues          []string              `json:"issues,omitempty"`
	Recommendations []string              `json:"recommendations,omitempty"`
	Metrics         healthMetricsResponse `json:"metrics"`
}

type healthMetricsResponse struct {
	TotalNotifications int            `json:"totalNotifications"`
	Successful         int            `json:"successful"`
	Failed             int            `json:"failed"`
	DeliveryRate       float64        `json:"deliveryRate"`
	AvgLatencyMillis   int64          `json:"avgLatencyMs"`
	AvgRetries         float64        `json:"avgRetries"`
	ErrorBreakdown     map[string]int `json:"errorBreakdown,omitempty"`
}

func errorBreakdownLabels(metrics monitor.DeliveryMetrics) map[string]int {
	if len(metrics.ErrorBreakdown) == 0 {
		return nil
	}
	out := make(map[string]int, len(metrics.ErrorBreakdown))
	for kind, count := range metrics.ErrorBreakdown {
		out[kind.String()] = count
	}
	return out
}
