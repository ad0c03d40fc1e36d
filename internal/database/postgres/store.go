// Package postgres implements interfaces.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ interfaces.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects, pings and migrates
func Open(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := RunMigration(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migration: %w", err)
	}
	return NewStore(pool), nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

const sessionColumns = `id, code, owner_id, mode_type, share_type, expiration_type,
	expiration_date, expiration_minutes, device_limit, is_active, created_at, updated_at`

func scanSession(row pgx.Row) (*types.Session, error) {
	var s types.Session
	var id uuid.UUID
	var modeType, shareType, expirationType string
	err := row.Scan(&id, &s.Code, &s.OwnerID, &modeType, &shareType, &expirationType,
		&s.ExpirationDate, &s.ExpirationMinutes, &s.DeviceLimit, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.ID = id.String()
	s.ModeType = types.ModeType(modeType)
	s.ShareType = types.ShareType(shareType)
	s.ExpirationType = types.ExpirationType(expirationType)
	return &s, nil
}

func (r *Store) findSession(ctx context.Context, where string, arg any) (*types.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return s, nil
}

func (r *Store) FindSessionByCode(ctx context.Context, code string) (*types.Session, error) {
	return r.findSession(ctx, `code = $1`, code)
}

func (r *Store) FindSessionByID(ctx context.Context, id string) (*types.Session, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, types.ErrSessionNotFound
	}
	return r.findSession(ctx, `id = $1`, parsed)
}

func (r *Store) InsertSessionIfCodeUnique(ctx context.Context, s *types.Session) error {
	id, err := uuid.Parse(s.ID)
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", s.ID, err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, s.Code, s.OwnerID, string(s.ModeType), string(s.ShareType), string(s.ExpirationType),
		s.ExpirationDate, s.ExpirationMinutes, s.DeviceLimit, s.IsActive, s.CreatedAt, s.UpdatedAt)
	if pgCode(err) == uniqueViolation {
		return interfaces.ErrDuplicateCode
	}
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (r *Store) UpdateSession(ctx context.Context, s *types.Session) error {
	id, err := uuid.Parse(s.ID)
	if err != nil {
		return types.ErrSessionNotFound
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions
		 SET mode_type = $2, share_type = $3, expiration_type = $4, expiration_date = $5,
		     expiration_minutes = $6, device_limit = $7, is_active = $8, updated_at = $9
		 WHERE id = $1`,
		id, string(s.ModeType), string(s.ShareType), string(s.ExpirationType),
		s.ExpirationDate, s.ExpirationMinutes, s.DeviceLimit, s.IsActive, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrSessionNotFound
	}
	return nil
}

func (r *Store) ListSessionsByOwner(ctx context.Context, ownerID string, limit int) ([]*types.Session, error) {
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE owner_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		ownerID, limitArg)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var list []*types.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

const participantColumns = `id, session_id, connection_id, display_name, is_active, connected_at, disconnected_at`

func scanParticipant(row pgx.Row) (*types.ParticipantRecord, error) {
	var p types.ParticipantRecord
	var sessionID uuid.UUID
	err := row.Scan(&p.ID, &sessionID, &p.ConnectionID, &p.DisplayName, &p.IsActive, &p.ConnectedAt, &p.DisconnectedAt)
	if err != nil {
		return nil, err
	}
	p.SessionID = sessionID.String()
	return &p, nil
}

func (r *Store) UpsertParticipant(ctx context.Context, p *types.ParticipantRecord) (*types.ParticipantRecord, error) {
	sessionID, err := uuid.Parse(p.SessionID)
	if err != nil {
		return nil, types.ErrSessionNotFound
	}
	stored, err := scanParticipant(r.pool.QueryRow(ctx,
		`INSERT INTO participants (id, session_id, connection_id, display_name, is_active, connected_at)
		 VALUES ($1, $2, $3, $4, TRUE, $5)
		 ON CONFLICT (session_id, connection_id) DO UPDATE SET
		     display_name = EXCLUDED.display_name,
		     is_active = TRUE,
		     connected_at = EXCLUDED.connected_at,
		     disconnected_at = NULL
		 RETURNING `+participantColumns,
		p.ID, sessionID, p.ConnectionID, p.DisplayName, p.ConnectedAt))
	if pgCode(err) == foreignKeyViolation {
		return nil, types.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert participant: %w", err)
	}
	return stored, nil
}

func (r *Store) CountActiveParticipants(ctx context.Context, sessionID string) (int, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return 0, nil
	}
	var count int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM participants WHERE session_id = $1 AND is_active`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return count, nil
}

func (r *Store) FindActiveParticipantByConnectionID(ctx context.Context, connectionID string) (*types.ParticipantRecord, error) {
	p, err := scanParticipant(r.pool.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM participants
		 WHERE connection_id = $1 AND is_active
		 ORDER BY connected_at DESC LIMIT 1`,
		connectionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, interfaces.ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query participant: %w", err)
	}
	return p, nil
}

func (r *Store) MarkParticipantInactive(ctx context.Context, participantID string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE participants SET is_active = FALSE, disconnected_at = $2 WHERE id = $1 AND is_active`,
		participantID, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark participant inactive: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Store) ListActiveParticipants(ctx context.Context, sessionID string) ([]*types.ParticipantRecord, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+participantColumns+` FROM participants
		 WHERE session_id = $1 AND is_active ORDER BY connected_at DESC`,
		id)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var list []*types.ParticipantRecord
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (r *Store) DeactivateAllParticipants(ctx context.Context, at time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE participants SET is_active = FALSE, disconnected_at = $1 WHERE is_active`, at)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate participants: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *Store) HealthCheck(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func (r *Store) Close() error {
	r.pool.Close()
	return nil
}
