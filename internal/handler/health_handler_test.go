package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/push-relay/internal/monitor"
	"github.com/kursadbilgin/push-relay/internal/transport"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Check(ctx context.Context) error { return s.err }

func newHealthTestApp(t *testing.T, rdb *goredis.Client, ping ProviderPinger, m *monitor.Monitor) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	RegisterHealthRoutes(app, rdb, ping, m)
	return app
}

func newHealthRedis(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()

	srv, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(srv.Close)

	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func newHealthMonitor(t *testing.T, probes ...monitor.Probe) *monitor.Monitor {
	t.Helper()

	m, err := monitor.NewMonitor(probes, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}
	return m
}

func TestLivez(t *testing.T) {
	t.Parallel()

	rdb, _ := newHealthRedis(t)
	app := newHealthTestApp(t, rdb, stubPinger{}, newHealthMonitor(t))

	resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
}

func TestReadyzReady(t *testing.T) {
	t.Parallel()

	rdb, _ := newHealthRedis(t)
	app := newHealthTestApp(t, rdb, stubPinger{}, newHealthMonitor(t))

	resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if got["status"] != "ready" {
		t.Fatalf("status = %v, want ready", got["status"])
	}
}

func TestReadyzProviderDown(t *testing.T) {
	t.Parallel()

	rdb, _ := newHealthRedis(t)
	app := newHealthTestApp(t, rdb, stubPinger{err: errors.New("provider unreachable")}, newHealthMonitor(t))

	resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
	}

	var got struct {
		Status string `json:"status"`
		Checks struct {
			Redis    string `json:"redis"`
			Provider string `json:"provider"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if got.Status != "not_ready" || got.Checks.Provider != "down" || got.Checks.Redis != "ok" {
		t.Fatalf("response = %+v, want not_ready with provider down", got)
	}
}

func TestReadyzRedisDown(t *testing.T) {
	t.Parallel()

	rdb, srv := newHealthRedis(t)
	srv.Close()
	app := newHealthTestApp(t, rdb, stubPinger{}, newHealthMonitor(t))

	req, err := http.NewRequest(http.MethodGet, "/readyz", nil)
	if err != nil {
		t.Fatalf("http.NewRequest() error = %v", err)
	}
	// The redis client retries dials against the closed address until the
	// readiness deadline, which runs past fiber's default test timeout.
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestHealthzRunsCheckOnDemand(t *testing.T) {
	t.Parallel()

	rdb, _ := newHealthRedis(t)
	m := newHealthMonitor(t, monitor.Probe{
		Name:  "store",
		Check: func(ctx context.Context) error { return nil },
	})
	app := newHealthTestApp(t, rdb, stubPinger{}, m)

	resp, body := performRequest(t, app, http.MethodGet, "/healthz", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if got["status"] != monitor.StatusHealthy.String() {
		t.Fatalf("status = %v, want healthy", got["status"])
	}
	checks, ok := got["checks"].(map[string]any)
	if !ok || checks["store"] != true {
		t.Fatalf("checks = %v, want store=true", got["checks"])
	}
}

func TestHealthzServesLatestSnapshot(t *testing.T) {
	t.Parallel()

	rdb, _ := newHealthRedis(t)

	probeErr := errors.New("store down")
	m := newHealthMonitor(t, monitor.Probe{
		Name:  "store",
		Check: func(ctx context.Context) error { return probeErr },
	})
	m.PerformHealthCheck(context.Background())

	// The probe recovers, but /healthz returns the recorded snapshot.
	probeErr = nil
	app := newHealthTestApp(t, rdb, stubPinger{}, m)

	resp, body := performRequest(t, app, http.MethodGet, "/healthz", "")
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
	}

	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if got["status"] != monitor.StatusUnhealthy.String() {
		t.Fatalf("status = %v, want unhealthy", got["status"])
	}
}
