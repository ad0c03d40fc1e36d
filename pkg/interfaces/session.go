package interfaces

import (
	"context"

	"classwatch/pkg/types"
)

// SessionService is the session surface the HTTP API depends on
// ARCHITECTURAL DISCOVERY: Context-first design pattern ensures proper
// cancellation and timeout handling across all session operations
type SessionService interface {
	// Create mints a unique code and persists a new active session
	Create(ctx context.Context, ownerID string, settings types.SessionSettings) (*types.Session, error)

	// FindByCode looks a session up by its public code
	FindByCode(ctx context.Context, code string) (*types.Session, error)

	// Update replaces the mutable settings of a session owned by ownerID
	Update(ctx context.Context, code, ownerID string, settings types.SessionSettings) (*types.Session, error)

	// Deactivate marks a session owned by ownerID inactive
	Deactivate(ctx context.Context, code, ownerID string) (*types.Session, error)

	// ListByOwner returns the owner's most recent sessions
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*types.Session, error)
}

// ParticipantDirectory is the participant surface the HTTP API depends on
type ParticipantDirectory interface {
	ListActive(ctx context.Context, sessionID string) ([]*types.ParticipantRecord, error)
	CountActive(ctx context.Context, sessionID string) (int, error)
}
