package types

import (
	"errors"
	"fmt"
)

// ARCHITECTURAL DISCOVERY: One taxonomy shared by the registries, the lifecycle
// manager and the transport so every layer can test failures with errors.Is
var (
	ErrSessionNotFound         = errors.New("session not found")
	ErrSessionUnavailable      = errors.New("session has expired or is inactive")
	ErrMissingDisplayName      = errors.New("display name is required to join as a student")
	ErrInvalidDisplayName      = errors.New("display name must be at most 50 characters")
	ErrDeviceLimitExceeded     = errors.New("device limit reached")
	ErrCodeGenerationExhausted = errors.New("failed to generate unique session code")
	ErrStoreFailure            = errors.New("store failure")
	ErrAlreadyJoined           = errors.New("connection already joined a session")
	ErrInvalidRole             = errors.New("invalid role: must be 'lecturer' or 'student'")
	ErrInvalidSettings         = errors.New("invalid session settings")
)

// Error codes carried in the error event
const (
	CodeSessionNotFound     = "SESSION_NOT_FOUND"
	CodeSessionUnavailable  = "SESSION_UNAVAILABLE"
	CodeMissingDisplayName  = "MISSING_DISPLAY_NAME"
	CodeInvalidDisplayName  = "INVALID_DISPLAY_NAME"
	CodeDeviceLimitExceeded = "DEVICE_LIMIT_EXCEEDED"
	CodeStoreFailure        = "STORE_FAILURE"
	CodeAlreadyJoined       = "ALREADY_JOINED"
	CodeInvalidRole         = "INVALID_ROLE"
	CodeInvalidMessage      = "INVALID_MESSAGE"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInternal            = "INTERNAL"
)

// StoreError wraps a persistence error so it matches ErrStoreFailure
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreFailure) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreFailure, op, err)
}

// DeviceLimitError builds the error returned to a student rejected by the limit
func DeviceLimitError(limit int) error {
	return fmt.Errorf("%w: maximum %d device(s) allowed", ErrDeviceLimitExceeded, limit)
}

// ErrorCode maps an error to the code sent to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, ErrSessionUnavailable):
		return CodeSessionUnavailable
	case errors.Is(err, ErrMissingDisplayName):
		return CodeMissingDisplayName
	case errors.Is(err, ErrInvalidDisplayName):
		return CodeInvalidDisplayName
	case errors.Is(err, ErrDeviceLimitExceeded):
		return CodeDeviceLimitExceeded
	case errors.Is(err, ErrStoreFailure):
		return CodeStoreFailure
	case errors.Is(err, ErrAlreadyJoined):
		return CodeAlreadyJoined
	case errors.Is(err, ErrInvalidRole):
		return CodeInvalidRole
	default:
		return CodeInternal
	}
}

// ClientMessage is the human-readable message for the error event.
// FUNCTIONAL DISCOVERY: Store and internal errors are replaced by a generic
// message so connection strings and SQL never reach the browser
func ClientMessage(err error) string {
	switch ErrorCode(err) {
	case CodeStoreFailure, CodeInternal:
		return "Failed to join session"
	case CodeSessionNotFound:
		return "Session not found"
	case CodeSessionUnavailable:
		return "Session has expired or is inactive"
	default:
		return err.Error()
	}
}
