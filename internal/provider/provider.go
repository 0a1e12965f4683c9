package provider

import (
	"context"

	"github.com/kursadbilgin/push-relay/internal/domain"
)

// Provider is the outbound push delivery port. One call submits one chunk of
// at most the provider's batch limit.
type Provider interface {
	SendChunk(ctx context.Context, req ChunkRequest) (*ChunkReceipt, error)
}

// ChunkRequest is one provider submission: a chunk of recipients sharing a
// single title/body/data payload.
type ChunkRequest struct {
	Recipients []string
	Title      string
	Body       string
	Data       domain.StructuredData
	Priority   domain.Priority
}

// TicketStatus is the provider's per-recipient verdict.
type TicketStatus string

const (
	TicketOK    TicketStatus = "ok"
	TicketError TicketStatus = "error"
)

// Ticket is the provider's per-recipient delivery handle. Address mirrors the
// request order so callers can attribute errors without index juggling.
type Ticket struct {
	Address  string
	Status   TicketStatus
	TicketID string
	Code     string
	Message  string
}

// ChunkReceipt stores the parallel per-ticket statuses for one accepted chunk.
type ChunkReceipt struct {
	StatusCode int
	Tickets    []Ticket
}

// InvalidAddresses returns the addresses the provider reported as no longer
// registered, in request order.
func (r *ChunkReceipt) InvalidAddresses() []string {
	if r == nil {
		return nil
	}

	var invalid []string
	for _, t := range r.Tickets {
		if t.Status == TicketError && t.Code == CodeDeviceNotRegistered {
			invalid = append(invalid, t.Address)
		}
	}
	return invalid
}
