package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/push-relay/internal/domain"
)

const (
	defaultPushTimeout = 10 * time.Second

	// MaxBatchSize is the provider's per-request recipient limit.
	MaxBatchSize = 100
)

type pushTicketRequest struct {
	To        string            `json:"to"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	Priority  string            `json:"priority,omitempty"`
	ChannelID string            `json:"channelId,omitempty"`
}

type pushTicketResponse struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details,omitempty"`
}

type pushResponse struct {
	Data   []pushTicketResponse `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

// HTTPProvider submits push chunks to an HTTP push gateway that accepts a JSON
// array of ticket requests and answers with a parallel array of per-ticket
// statuses.
type HTTPProvider struct {
	client    *resty.Client
	endpoint  string
	authToken string
}

func NewHTTPProvider(endpoint, authToken string) (*HTTPProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultPushTimeout)
	client.SetRetryCount(0)

	return NewHTTPProviderWithClient(endpoint, authToken, client)
}

func NewHTTPProviderWithClient(endpoint, authToken string, client *resty.Client) (*HTTPProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("push endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid push endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultPushTimeout)
	}
	// Retries belong to the retry executor, never the transport client.
	client.SetRetryCount(0)

	return &HTTPProvider{
		client:    client,
		endpoint:  trimmedEndpoint,
		authToken: strings.TrimSpace(authToken),
	}, nil
}

func (p *HTTPProvider) SendChunk(ctx context.Context, req ChunkRequest) (*ChunkReceipt, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if len(req.Recipients) == 0 {
		return nil, fmt.Errorf("%w: chunk has no recipients", domain.ErrValidation)
	}
	if len(req.Recipients) > MaxBatchSize {
		return nil, fmt.Errorf("%w: chunk exceeds provider batch limit %d (got %d)", domain.ErrValidation, MaxBatchSize, len(req.Recipients))
	}

	tickets := make([]pushTicketRequest, 0, len(req.Recipients))
	for _, recipient := range req.Recipients {
		tickets = append(tickets, pushTicketRequest{
			To:        recipient,
			Title:     req.Title,
			Body:      req.Body,
			Data:      structuredDataFields(req.Data),
			Priority:  providerPriority(req.Priority),
			ChannelID: channelHint(req.Data.Kind, req.Priority),
		})
	}

	request := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBody(tickets)
	if p.authToken != "" {
		request.SetHeader("Authorization", "Bearer "+p.authToken)
	}

	response, err := request.Post(p.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message: "provider request failed",
			Cause:   err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message: "provider returned empty response",
		}
	}

	statusCode := response.StatusCode()
	responseBody := response.Body()

	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Code:       topLevelErrorCode(responseBody),
			Message:    providerErrorMessage(statusCode, responseBody),
		}
	}

	var parsed pushResponse
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    "failed to decode provider response",
			Cause:      err,
		}
	}
	if len(parsed.Data) != len(req.Recipients) {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    fmt.Sprintf("provider returned %d tickets for %d recipients", len(parsed.Data), len(req.Recipients)),
		}
	}

	receipt := &ChunkReceipt{
		StatusCode: statusCode,
		Tickets:    make([]Ticket, 0, len(parsed.Data)),
	}
	for i, ticket := range parsed.Data {
		status := TicketError
		if strings.EqualFold(ticket.Status, string(TicketOK)) {
			status = TicketOK
		}
		receipt.Tickets = append(receipt.Tickets, Ticket{
			Address:  req.Recipients[i],
			Status:   status,
			TicketID: ticket.ID,
			Code:     ticket.Details.Error,
			Message:  ticket.Message,
		})
	}

	return receipt, nil
}

func structuredDataFields(data domain.StructuredData) map[string]string {
	fields := make(map[string]string, len(data.Extra)+3)
	for k, v := range data.Extra {
		fields[k] = v
	}
	fields["kind"] = strings.ToLower(data.Kind.String())
	if data.SubjectID != "" {
		fields["subjectId"] = data.SubjectID
	}
	if data.OwnerOrgID != "" {
		fields["ownerOrgId"] = data.OwnerOrgID
	}
	return fields
}

func providerPriority(priority domain.Priority) string {
	switch priority {
	case domain.PriorityHigh:
		return "high"
	case domain.PriorityLow:
		return "low"
	default:
		return "default"
	}
}

// channelHint maps kind and priority to the provider channel/category hint.
// High-priority proximity alerts land on a dedicated channel.
func channelHint(kind domain.Kind, priority domain.Priority) string {
	if kind == domain.KindProximity && priority == domain.PriorityHigh {
		return "proximity-alerts"
	}
	return strings.ToLower(kind.String())
}

func topLevelErrorCode(body []byte) string {
	var parsed pushResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if len(parsed.Errors) == 0 {
		return ""
	}
	return parsed.Errors[0].Code
}

func providerErrorMessage(statusCode int, body []byte) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, trimmed)
}
