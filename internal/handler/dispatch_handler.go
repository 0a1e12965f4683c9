package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/push-relay/internal/domain"
	"github.com/kursadbilgin/push-relay/internal/observability"
)

// DispatchService is the handler's view of the notification dispatcher.
type DispatchService interface {
	Dispatch(ctx context.Context, payload domain.Payload) (*domain.BatchResult, error)
}

type DispatchHandler struct {
	service DispatchService
}

func NewDispatchHandler(service DispatchService) (*DispatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	return &DispatchHandler{service: service}, nil
}

func RegisterDispatchRoutes(router fiber.Router, service DispatchService) error {
	h, err := NewDispatchHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/dispatch", h.Dispatch)

	return nil
}

type dispatchRequest struct {
	Recipients []string          `json:"recipients"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Kind       string            `json:"kind"`
	SubjectID  string            `json:"subjectId,omitempty"`
	OwnerOrgID string            `json:"ownerOrgId,omitempty"`
	Priority   string            `json:"priority"`
	Extra      map[string]string `json:"extra,omitempty"`
}

type attemptOutcomeResponse struct {
	ChunkIndex int      `json:"chunkIndex"`
	Success    bool     `json:"success"`
	Queued     bool     `json:"queued,omitempty"`
	TicketIDs  []string `json:"ticketIds,omitempty"`
	ErrorKind  string   `json:"errorKind,omitempty"`
	Message    string   `json:"message,omitempty"`
	Retries    int      `json:"retries"`
}

type dispatchResponse struct {
	TotalRecipients int                      `json:"totalRecipients"`
	Successful      int                      `json:"successful"`
	Failed          int                      `json:"failed"`
	Queued          int                      `json:"queued"`
	Outcomes        []attemptOutcomeResponse `json:"outcomes"`
	ErrorMessages   []string                 `json:"errorMessages,omitempty"`
	ElapsedMillis   int64                    `json:"elapsedMs"`
}

func (h *DispatchHandler) Dispatch(c *fiber.Ctx) error {
	var req dispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	payload, err := req.toPayload()
	if err != nil {
		return toHTTPError(err)
	}

	ctx := observability.WithCorrelationID(c.Context(), correlationID(c))
	result, err := h.service.Dispatch(ctx, payload)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toDispatchResponse(result))
}

func (r dispatchRequest) toPayload() (domain.Payload, error) {
	kind, err := domain.ParseKindFromString(r.Kind)
	if err != nil {
		return domain.Payload{}, err
	}

	priority := domain.PriorityNormal
	if r.Priority != "" {
		priority, err = domain.ParsePriorityFromString(r.Priority)
		if err != nil {
			return domain.Payload{}, err
		}
	}

	payload := domain.Payload{
		Recipients: r.Recipients,
		Title:      r.Title,
		Body:       r.Body,
		Priority:   priority,
		Data: domain.StructuredData{
			Kind:       kind,
			SubjectID:  r.SubjectID,
			OwnerOrgID: r.OwnerOrgID,
			Extra:      r.Extra,
		},
	}
	if err := payload.Validate(); err != nil {
		return domain.Payload{}, err
	}
	return payload, nil
}

func toDispatchResponse(result *domain.BatchResult) dispatchResponse {
	outcomes := make([]attemptOutcomeResponse, 0, len(result.Outcomes))
	for _, outcome := range result.Outcomes {
		outcomes = append(outcomes, attemptOutcomeResponse{
			ChunkIndex: outcome.ChunkIndex,
			Success:    outcome.Success,
			Queued:     outcome.Queued,
			TicketIDs:  outcome.TicketIDs,
			ErrorKind:  outcome.ErrorKind.String(),
			Message:    outcome.Message,
			Retries:    outcome.Retries,
		})
	}

	return dispatchResponse{
		TotalRecipients: result.TotalRecipients,
		Successful:      result.Successful,
		Failed:          result.Failed,
		Queued:          result.Queued,
		Outcomes:        outcomes,
		ErrorMessages:   result.ErrorMessages,
		ElapsedMillis:   result.Elapsed.Milliseconds(),
	}
}

func correlationID(c *fiber.Ctx) string {
	if id := c.Get("X-Correlation-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

func toHTTPError(err error) error {
	if errors.Is(err, domain.ErrValidation) {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
