package domain

import "errors"

var (
	// ErrValidation marks caller mistakes: malformed payloads, empty recipient lists.
	ErrValidation = errors.New("validation error")

	// ErrQueueCleared is the rejection reason for pending items dropped by a queue drain.
	ErrQueueCleared = errors.New("queue cleared")
)
