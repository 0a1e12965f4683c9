package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kursadbilgin/push-relay/internal/domain"
)

// Provider error codes as returned in per-ticket and top-level responses.
const (
	CodeDeviceNotRegistered = "DeviceNotRegistered"
	CodeMessageTooBig       = "MessageTooBig"
	CodeMessageRateExceeded = "MessageRateExceeded"
	CodeInvalidCredentials  = "InvalidCredentials"
)

// ProviderError classifies provider call failures for retry decisions.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if code := strings.TrimSpace(e.Code); code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", code))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Classification is the classifier's verdict for one failure.
type Classification struct {
	Kind      domain.ErrorKind
	Retryable bool
}

// Classify maps a raw failure to an error kind and a retryable flag. It is a
// pure function: identical inputs always produce identical verdicts.
//
// Precedence: explicit provider codes, then HTTP status, then transport-level
// signals, then text heuristics. Unclassifiable errors come back UNKNOWN with
// Retryable true; the retry executor caps UNKNOWN at a single retry.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: domain.ErrorKindUnknown, Retryable: false}
	}

	if errors.Is(err, context.Canceled) {
		return Classification{Kind: domain.ErrorKindNetwork, Retryable: false}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Kind: domain.ErrorKindNetwork, Retryable: true}
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		if c, ok := classifyCode(providerErr.Code); ok {
			return c
		}
		if c, ok := classifyStatus(providerErr.StatusCode); ok {
			return c
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Classification{Kind: domain.ErrorKindNetwork, Retryable: true}
	}

	if c, ok := classifyText(err.Error()); ok {
		return c
	}

	return Classification{Kind: domain.ErrorKindUnknown, Retryable: true}
}

// ClassifyCode maps a per-ticket provider code embedded in an otherwise
// successful response, where no Go error value exists.
func ClassifyCode(code string) Classification {
	if c, ok := classifyCode(code); ok {
		return c
	}
	return Classification{Kind: domain.ErrorKindUnknown, Retryable: true}
}

func classifyCode(code string) (Classification, bool) {
	switch strings.TrimSpace(code) {
	case CodeDeviceNotRegistered:
		return Classification{Kind: domain.ErrorKindDeviceInvalid, Retryable: false}, true
	case CodeMessageTooBig:
		return Classification{Kind: domain.ErrorKindMessageTooLarge, Retryable: false}, true
	case CodeMessageRateExceeded:
		return Classification{Kind: domain.ErrorKindRateLimited, Retryable: true}, true
	case CodeInvalidCredentials:
		return Classification{Kind: domain.ErrorKindCredentialInvalid, Retryable: false}, true
	}
	return Classification{}, false
}

func classifyStatus(status int) (Classification, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		return Classification{Kind: domain.ErrorKindRateLimited, Retryable: true}, true
	case status >= http.StatusInternalServerError && status <= 599:
		return Classification{Kind: domain.ErrorKindProvider, Retryable: true}, true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Classification{Kind: domain.ErrorKindCredentialInvalid, Retryable: false}, true
	case status == http.StatusBadRequest:
		return Classification{Kind: domain.ErrorKindMessageTooLarge, Retryable: false}, true
	}
	return Classification{}, false
}

func classifyText(msg string) (Classification, bool) {
	normalized := strings.ToLower(msg)
	for _, marker := range []string{"timeout", "timed out", "connection refused", "connection reset", "no such host", "dns", "network is unreachable", "broken pipe", "eof"} {
		if strings.Contains(normalized, marker) {
			return Classification{Kind: domain.ErrorKindNetwork, Retryable: true}, true
		}
	}
	return Classification{}, false
}
