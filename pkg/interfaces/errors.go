package interfaces

import "errors"

// Common store errors used across implementations
var (
	ErrDuplicateCode       = errors.New("session code already in use")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
)
