package domain

import "time"

// ErrorKind classifies a delivery failure for retry decisions and reporting.
type ErrorKind string

const (
	ErrorKindNetwork           ErrorKind = "NETWORK"
	ErrorKindRateLimited       ErrorKind = "RATE_LIMITED"
	ErrorKindDeviceInvalid     ErrorKind = "DEVICE_INVALID"
	ErrorKindMessageTooLarge   ErrorKind = "MESSAGE_TOO_LARGE"
	ErrorKindCredentialInvalid ErrorKind = "CREDENTIAL_INVALID"
	ErrorKindProvider          ErrorKind = "PROVIDER_ERROR"
	ErrorKindUnknown           ErrorKind = "UNKNOWN"
)

func (k ErrorKind) String() string { return string(k) }

// AttemptOutcome is the terminal result of delivering one chunk.
type AttemptOutcome struct {
	ChunkIndex int
	Success    bool
	Queued     bool
	TicketIDs  []string
	ErrorKind  ErrorKind
	Message    string
	Retryable  bool
	Retries    int
}

// BatchResult aggregates chunk outcomes for one payload.
// Successful + Failed + Queued always equals TotalRecipients; Queued is zero
// whenever the offline fallback was not taken.
type BatchResult struct {
	TotalRecipients int
	Successful      int
	Failed          int
	Queued          int
	Outcomes        []AttemptOutcome
	ErrorMessages   []string
	Elapsed         time.Duration
}
