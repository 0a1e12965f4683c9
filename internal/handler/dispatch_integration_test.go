package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/push-relay/internal/domain"
	"github.com/kursadbilgin/push-relay/internal/observability"
	"github.com/kursadbilgin/push-relay/internal/transport"
	"go.uber.org/zap"
)

type stubDispatchService struct {
	dispatchFn func(ctx context.Context, payload domain.Payload) (*domain.BatchResult, error)
}

func (s *stubDispatchService) Dispatch(ctx context.Context, payload domain.Payload) (*domain.BatchResult, error) {
	return s.dispatchFn(ctx, payload)
}

func newDispatchTestApp(t *testing.T, svc DispatchService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterDispatchRoutes(app, svc); err != nil {
		t.Fatalf("RegisterDispatchRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

func TestDispatchIntegration_Dispatch(t *testing.T) {
	t.Parallel()

	svc := &stubDispatchService{
		dispatchFn: func(ctx context.Context, payload domain.Payload) (*domain.BatchResult, error) {
			if payload.Data.Kind != domain.KindEvent {
				t.Fatalf("kind = %s, want EVENT", payload.Data.Kind)
			}
			if payload.Priority != domain.PriorityHigh {
				t.Fatalf("priority = %s, want HIGH", payload.Priority)
			}
			return &domain.BatchResult{
				TotalRecipients: 2,
				Successful:      2,
				Outcomes: []domain.AttemptOutcome{
					{ChunkIndex: 0, Success: true, TicketIDs: []string{"t-1", "t-2"}},
				},
				Elapsed: 120 * time.Millisecond,
			}, nil
		},
	}

	app := newDispatchTestApp(t, svc)

	body := `{"recipients":["device-1","device-2"],"title":"New event","body":"Doors open at 8","kind":"event","priority":"high","subjectId":"evt-42"}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/dispatch", body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}

	var got map[string]any
	if err := json.Unmarshal(respBody, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if got["totalRecipients"] != float64(2) || got["successful"] != float64(2) {
		t.Fatalf("response = %v, want 2/2", got)
	}
	if got["elapsedMs"] != float64(120) {
		t.Fatalf("elapsedMs = %v, want 120", got["elapsedMs"])
	}
	outcomes, ok := got["outcomes"].([]any)
	if !ok || len(outcomes) != 1 {
		t.Fatalf("outcomes = %v, want one entry", got["outcomes"])
	}
}

func TestDispatchIntegration_ValidationErrors(t *testing.T) {
	t.Parallel()

	svc := &stubDispatchService{
		dispatchFn: func(ctx context.Context, payload domain.Payload) (*domain.BatchResult, error) {
			t.Fatal("service must not be reached for invalid requests")
			return nil, nil
		},
	}

	app := newDispatchTestApp(t, svc)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"recipients":`},
		{"unknown kind", `{"recipients":["d-1"],"title":"t","body":"b","kind":"newsletter"}`},
		{"unknown priority", `{"recipients":["d-1"],"title":"t","body":"b","kind":"event","priority":"urgent"}`},
		{"no recipients", `{"recipients":[],"title":"t","body":"b","kind":"event"}`},
		{"missing title", `{"recipients":["d-1"],"body":"b","kind":"event"}`},
		{
			"body too long",
			fmt.Sprintf(`{"recipients":["d-1"],"title":"t","body":"%s","kind":"event"}`, strings.Repeat("a", domain.MaxBodyContent+1)),
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			resp, respBody := performRequest(t, app, http.MethodPost, "/v1/dispatch", tc.body)
			if resp.StatusCode != fiber.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body=%s", resp.StatusCode, string(respBody))
			}
		})
	}
}

func TestDispatchIntegration_DefaultPriority(t *testing.T) {
	t.Parallel()

	svc := &stubDispatchService{
		dispatchFn: func(ctx context.Context, payload domain.Payload) (*domain.BatchResult, error) {
			if payload.Priority != domain.PriorityNormal {
				t.Fatalf("priority = %s, want NORMAL default", payload.Priority)
			}
			return &domain.BatchResult{TotalRecipients: 1, Successful: 1}, nil
		},
	}

	app := newDispatchTestApp(t, svc)

	body := `{"recipients":["device-1"],"title":"Hello","body":"World","kind":"announcement"}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/dispatch", body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}
}

func TestDispatchIntegration_CorrelationIDPropagated(t *testing.T) {
	t.Parallel()

	svc := &stubDispatchService{
		dispatchFn: func(ctx context.Context, payload domain.Payload) (*domain.BatchResult, error) {
			got, ok := observability.CorrelationIDFromContext(ctx)
			if !ok || got != "corr-123" {
				t.Fatalf("correlation id = %q, want corr-123", got)
			}
			return &domain.BatchResult{TotalRecipients: 1, Successful: 1}, nil
		},
	}

	app := newDispatchTestApp(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/dispatch", bytes.NewBufferString(`{"recipients":["d-1"],"title":"t","body":"b","kind":"event"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set("X-Correlation-ID", "corr-123")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestDispatchIntegration_ServiceErrorSurfacesAs500(t *testing.T) {
	t.Parallel()

	svc := &stubDispatchService{
		dispatchFn: func(ctx context.Context, payload domain.Payload) (*domain.BatchResult, error) {
			return nil, fmt.Errorf("backing store unavailable")
		},
	}

	app := newDispatchTestApp(t, svc)

	body := `{"recipients":["device-1"],"title":"Hello","body":"World","kind":"event"}`
	resp, _ := performRequest(t, app, http.MethodPost, "/v1/dispatch", body)
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}
