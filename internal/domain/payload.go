package domain

import (
	"fmt"
	"strings"
)

// Kind identifies the logical source of a notification.
type Kind string

const (
	KindAnnouncement Kind = "ANNOUNCEMENT"
	KindEvent        Kind = "EVENT"
	KindHourApproval Kind = "HOUR_APPROVAL"
	KindProximity    Kind = "PROXIMITY"
)

func (k Kind) String() string { return string(k) }

func (k Kind) IsValid() bool {
	switch k {
	case KindAnnouncement, KindEvent, KindHourApproval, KindProximity:
		return true
	}
	return false
}

func ParseKindFromString(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid kind %q", ErrValidation, s)
	}
	return k, nil
}

// Priority represents the message priority level. It influences provider
// channel hints only, never retry behavior.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

func ParsePriorityFromString(s string) (Priority, error) {
	pr := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

// MaxBodyContent is the provider's per-message body limit in characters.
// Callers are expected to truncate before submission; the pipeline only verifies.
const MaxBodyContent = 240

// Payload is one logical delivery unit: a title/body pair addressed to one or
// more device addresses. Recipients is treated as immutable after submission;
// the pipeline only reads slices of it.
type Payload struct {
	Recipients []string
	Title      string
	Body       string
	Data       StructuredData
	Priority   Priority
}

// StructuredData carries the typed fields every notification must include plus
// opaque extension fields forwarded verbatim to the provider.
type StructuredData struct {
	Kind       Kind
	SubjectID  string
	OwnerOrgID string
	Extra      map[string]string
}

func (p *Payload) Validate() error {
	if len(p.Recipients) == 0 {
		return fmt.Errorf("%w: recipients is required", ErrValidation)
	}
	for i, r := range p.Recipients {
		if strings.TrimSpace(r) == "" {
			return fmt.Errorf("%w: recipient at index %d is empty", ErrValidation, i)
		}
	}
	if p.Title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if p.Body == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if contentLen := len([]rune(p.Body)); contentLen > MaxBodyContent {
		return fmt.Errorf("%w: body exceeds %d characters (got %d)", ErrValidation, MaxBodyContent, contentLen)
	}
	if !p.Data.Kind.IsValid() {
		return fmt.Errorf("%w: invalid kind %q", ErrValidation, p.Data.Kind)
	}
	if !p.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, p.Priority)
	}
	return nil
}

// Chunk is a contiguous sub-slice of a payload's recipients sized to the
// provider's per-request limit. Index is the chunk's position within the batch.
type Chunk struct {
	Index      int
	Recipients []string
}

// SplitRecipients slices recipients into chunks of at most size, preserving
// order. The concatenation of all chunks reproduces the input exactly.
func SplitRecipients(recipients []string, size int) []Chunk {
	if size <= 0 || len(recipients) == 0 {
		return nil
	}

	chunks := make([]Chunk, 0, (len(recipients)+size-1)/size)
	for start := 0; start < len(recipients); start += size {
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Recipients: recipients[start:end],
		})
	}
	return chunks
}
