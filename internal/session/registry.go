package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"classwatch/internal/metrics"
	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

// MaxCodeAttempts bounds the collision retries of Create
const MaxCodeAttempts = 100

// Registry creates sessions and serves lookups over the store
type Registry struct {
	store    interfaces.Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	generate CodeGenerator
	now      func() time.Time
}

var _ interfaces.SessionService = (*Registry)(nil)

// Option customizes a Registry
type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger.With("component", "session")
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithCodeGenerator replaces the random code source
func WithCodeGenerator(generate CodeGenerator) Option {
	return func(r *Registry) { r.generate = generate }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a session registry
func NewRegistry(store interfaces.Store, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		generate: RandomCode,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create mints a unique code and persists a new active session.
// ARCHITECTURAL DISCOVERY: The insert itself is the uniqueness check, a
// duplicate-key answer from the store is the collision signal, so two
// concurrent creates can never end up sharing a code
func (r *Registry) Create(ctx context.Context, ownerID string, settings types.SessionSettings) (*types.Session, error) {
	if ownerID == "" {
		return nil, ErrInvalidOwner
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	for attempt := 1; attempt <= MaxCodeAttempts; attempt++ {
		code, err := r.generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate session code: %w", err)
		}

		session := &types.Session{
			ID:        uuid.New().String(),
			Code:      code,
			OwnerID:   ownerID,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		session.Apply(settings)

		err = r.store.InsertSessionIfCodeUnique(ctx, session)
		if errors.Is(err, interfaces.ErrDuplicateCode) {
			r.metrics.CodeCollision()
			r.logger.Debug("session code collision", "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, types.StoreError("insert session", err)
		}

		r.metrics.SessionCreated()
		r.logger.Info("session created", "session_id", session.ID, "code", session.Code, "owner_id", ownerID, "attempts", attempt)
		return session, nil
	}

	r.logger.Error("session code generation exhausted", "attempts", MaxCodeAttempts, "owner_id", ownerID)
	return nil, fmt.Errorf("%w after %d attempts", types.ErrCodeGenerationExhausted, MaxCodeAttempts)
}

// FindByCode looks a session up by its public code. Malformed codes are
// reported as not found without touching the store.
func (r *Registry) FindByCode(ctx context.Context, code string) (*types.Session, error) {
	code = types.NormalizeSessionCode(code)
	if !types.IsValidSessionCode(code) {
		return nil, types.ErrSessionNotFound
	}
	session, err := r.store.FindSessionByCode(ctx, code)
	if err != nil {
		if errors.Is(err, types.ErrSessionNotFound) {
			return nil, err
		}
		return nil, types.StoreError("find session", err)
	}
	return session, nil
}

// FindByID looks a session up by its storage id
func (r *Registry) FindByID(ctx context.Context, id string) (*types.Session, error) {
	session, err := r.store.FindSessionByID(ctx, id)
	if err != nil {
		if errors.Is(err, types.ErrSessionNotFound) {
			return nil, err
		}
		return nil, types.StoreError("find session", err)
	}
	return session, nil
}

// findOwned hides sessions of other owners behind ErrSessionNotFound
func (r *Registry) findOwned(ctx context.Context, code, ownerID string) (*types.Session, error) {
	session, err := r.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if session.OwnerID != ownerID {
		return nil, types.ErrSessionNotFound
	}
	return session, nil
}

// Update replaces every mutable setting of a session owned by ownerID
func (r *Registry) Update(ctx context.Context, code, ownerID string, settings types.SessionSettings) (*types.Session, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	session, err := r.findOwned(ctx, code, ownerID)
	if err != nil {
		return nil, err
	}

	session.Apply(settings)
	session.UpdatedAt = r.now().UTC()
	if err := r.store.UpdateSession(ctx, session); err != nil {
		if errors.Is(err, types.ErrSessionNotFound) {
			return nil, err
		}
		return nil, types.StoreError("update session", err)
	}

	r.logger.Info("session updated", "session_id", session.ID, "code", session.Code)
	return session, nil
}

// Deactivate closes a session to new joins. Deactivating twice is not an error.
func (r *Registry) Deactivate(ctx context.Context, code, ownerID string) (*types.Session, error) {
	session, err := r.findOwned(ctx, code, ownerID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive {
		return session, nil
	}

	session.IsActive = false
	session.UpdatedAt = r.now().UTC()
	if err := r.store.UpdateSession(ctx, session); err != nil {
		return nil, types.StoreError("deactivate session", err)
	}

	r.logger.Info("session deactivated", "session_id", session.ID, "code", session.Code)
	return session, nil
}

// ListByOwner returns the owner's most recent sessions
func (r *Registry) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*types.Session, error) {
	sessions, err := r.store.ListSessionsByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, types.StoreError("list sessions", err)
	}
	return sessions, nil
}

// IsExpired evaluates the expiration policy against the registry clock
func (r *Registry) IsExpired(s *types.Session) bool {
	return IsExpired(s, r.now())
}
