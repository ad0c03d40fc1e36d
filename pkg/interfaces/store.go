package interfaces

import (
	"context"
	"time"

	"classwatch/pkg/types"
)

// Store is the persistent store consumed by the session and participant registries.
// ARCHITECTURAL DISCOVERY: Any engine works (embedded SQL, server SQL, memory)
// as long as it honors the two uniqueness rules: session codes are unique and
// (sessionID, connectionID) maps to at most one participant row
type Store interface {
	// FindSessionByCode returns types.ErrSessionNotFound when no session has the code
	FindSessionByCode(ctx context.Context, code string) (*types.Session, error)

	// FindSessionByID returns types.ErrSessionNotFound when the id is unknown
	FindSessionByID(ctx context.Context, id string) (*types.Session, error)

	// InsertSessionIfCodeUnique inserts the session, returning ErrDuplicateCode
	// when another session (active or not) already uses the code
	InsertSessionIfCodeUnique(ctx context.Context, session *types.Session) error

	// UpdateSession replaces the mutable fields and the active flag
	UpdateSession(ctx context.Context, session *types.Session) error

	// ListSessionsByOwner returns the owner's sessions, newest first
	ListSessionsByOwner(ctx context.Context, ownerID string, limit int) ([]*types.Session, error)

	// UpsertParticipant inserts or reactivates the row for (sessionID, connectionID)
	UpsertParticipant(ctx context.Context, record *types.ParticipantRecord) (*types.ParticipantRecord, error)

	// CountActiveParticipants counts rows with isActive=true for the session
	CountActiveParticipants(ctx context.Context, sessionID string) (int, error)

	// FindActiveParticipantByConnectionID returns ErrParticipantNotFound when
	// the connection has no active row in any session
	FindActiveParticipantByConnectionID(ctx context.Context, connectionID string) (*types.ParticipantRecord, error)

	// MarkParticipantInactive flips one row to inactive and reports whether
	// this call performed the active -> inactive transition
	MarkParticipantInactive(ctx context.Context, participantID string, at time.Time) (bool, error)

	// ListActiveParticipants returns the active rows of a session, newest first
	ListActiveParticipants(ctx context.Context, sessionID string) ([]*types.ParticipantRecord, error)

	// DeactivateAllParticipants marks every active row inactive and returns how many changed
	DeactivateAllParticipants(ctx context.Context, at time.Time) (int, error)

	// HealthCheck verifies connectivity
	HealthCheck(ctx context.Context) error

	// Close releases the underlying resources
	Close() error
}
