// Package participant keeps the durable per-connection participation rows.
package participant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

// Registry is the directory of participant rows
// FUNCTIONAL DISCOVERY: Rows are keyed by (session, connection) so a rejoin on
// the same connection reactivates the old row instead of adding a second one
type Registry struct {
	store  interfaces.Store
	logger *slog.Logger
	now    func() time.Time
}

var _ interfaces.ParticipantDirectory = (*Registry)(nil)

// NewRegistry creates a participant registry. A nil logger discards output.
func NewRegistry(store interfaces.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		store:  store,
		logger: logger.With("component", "participant"),
		now:    time.Now,
	}
}

// SetClock replaces the time source
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// UpsertActive records the connection as an active participant of the session
func (r *Registry) UpsertActive(ctx context.Context, sessionID, connectionID, displayName string) (*types.ParticipantRecord, error) {
	record, err := r.store.UpsertParticipant(ctx, &types.ParticipantRecord{
		ID:           ulid.Make().String(),
		SessionID:    sessionID,
		ConnectionID: connectionID,
		DisplayName:  displayName,
		IsActive:     true,
		ConnectedAt:  r.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, types.ErrSessionNotFound) {
			return nil, err
		}
		return nil, types.StoreError("upsert participant", err)
	}
	return record, nil
}

// CountActive counts the session's active participants
func (r *Registry) CountActive(ctx context.Context, sessionID string) (int, error) {
	count, err := r.store.CountActiveParticipants(ctx, sessionID)
	if err != nil {
		return 0, types.StoreError("count participants", err)
	}
	return count, nil
}

// MarkInactive closes the active row of a connection.
// Returns the row and true only when this call made the transition; an
// unknown or already inactive connection yields (nil or row, false, nil).
func (r *Registry) MarkInactive(ctx context.Context, connectionID string) (*types.ParticipantRecord, bool, error) {
	record, err := r.store.FindActiveParticipantByConnectionID(ctx, connectionID)
	if errors.Is(err, interfaces.ErrParticipantNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.StoreError("find participant", err)
	}

	at := r.now().UTC()
	changed, err := r.store.MarkParticipantInactive(ctx, record.ID, at)
	if err != nil {
		return nil, false, types.StoreError("mark participant inactive", err)
	}
	if !changed {
		return record, false, nil
	}

	record.IsActive = false
	record.DisconnectedAt = &at
	return record, true, nil
}

// ListActive returns the session's active participants, newest first
func (r *Registry) ListActive(ctx context.Context, sessionID string) ([]*types.ParticipantRecord, error) {
	records, err := r.store.ListActiveParticipants(ctx, sessionID)
	if err != nil {
		return nil, types.StoreError("list participants", err)
	}
	return records, nil
}

// Reconcile closes rows left active by a previous process.
// ARCHITECTURAL DISCOVERY: No transport connection survives a restart, so
// every active row at startup is stale and would otherwise hold a device slot
func (r *Registry) Reconcile(ctx context.Context) (int, error) {
	changed, err := r.store.DeactivateAllParticipants(ctx, r.now().UTC())
	if err != nil {
		return 0, types.StoreError("reconcile participants", err)
	}
	if changed > 0 {
		r.logger.Info("deactivated stale participants", "count", changed)
	}
	return changed, nil
}
