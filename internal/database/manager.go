package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	dbconfig "classwatch/pkg/database"
	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

const defaultRetryDelay = 5 * time.Second

// Manager is the SQLite implementation of interfaces.Store
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *slog.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
	retryDelay   time.Duration
}

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

var _ interfaces.Store = (*Manager)(nil)

// NewManager opens the database and starts the writer goroutine.
// Call Migrate before serving traffic.
func NewManager(config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With("component", "sqlite"),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   defaultRetryDelay,
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// Migrate applies pending migrations and validates the resulting schema
func (m *Manager) Migrate(ctx context.Context) (int, error) {
	applied, err := dbconfig.NewMigrationManager(m.db, dbconfig.SQLiteMigrations).ApplyMigrations(ctx)
	if err != nil {
		return applied, err
	}
	if err := dbconfig.NewSchemaValidator(m.db).Validate(ctx); err != nil {
		return applied, fmt.Errorf("schema validation failed: %w", err)
	}
	return applied, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(op.ctx, m.db)
			// FUNCTIONAL DISCOVERY: Only lock contention is worth one retry,
			// constraint violations are answers, not failures
			if isBusy(err) {
				m.logger.Warn("database busy, retrying write", "delay", m.retryDelay, "error", err)
				select {
				case <-time.After(m.retryDelay):
					err = op.operation(op.ctx, m.db)
				case <-op.ctx.Done():
					err = op.ctx.Err()
				case <-m.shutdown:
				}
				if err != nil {
					m.logger.Error("database write failed after retry", "error", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timeout.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == code
	}
	return false
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

const sessionColumns = `id, code, owner_id, mode_type, share_type, expiration_type,
	expiration_date, expiration_minutes, device_limit, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var session types.Session
	var expirationDate sql.NullTime
	var expirationMinutes, deviceLimit sql.NullInt64

	err := row.Scan(
		&session.ID,
		&session.Code,
		&session.OwnerID,
		&session.ModeType,
		&session.ShareType,
		&session.ExpirationType,
		&expirationDate,
		&expirationMinutes,
		&deviceLimit,
		&session.IsActive,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if expirationDate.Valid {
		date := expirationDate.Time
		session.ExpirationDate = &date
	}
	if expirationMinutes.Valid {
		minutes := int(expirationMinutes.Int64)
		session.ExpirationMinutes = &minutes
	}
	if deviceLimit.Valid {
		limit := int(deviceLimit.Int64)
		session.DeviceLimit = &limit
	}
	return &session, nil
}

func (m *Manager) findSession(ctx context.Context, where string, arg string) (*types.Session, error) {
	row := m.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE "+where, arg)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// FindSessionByCode looks a session up by its unique code
func (m *Manager) FindSessionByCode(ctx context.Context, code string) (*types.Session, error) {
	return m.findSession(ctx, "code = ?", code)
}

// FindSessionByID looks a session up by its id
func (m *Manager) FindSessionByID(ctx context.Context, id string) (*types.Session, error) {
	return m.findSession(ctx, "id = ?", id)
}

// InsertSessionIfCodeUnique relies on idx_sessions_code to reject collisions
func (m *Manager) InsertSessionIfCodeUnique(ctx context.Context, session *types.Session) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			session.ID,
			session.Code,
			session.OwnerID,
			session.ModeType,
			session.ShareType,
			session.ExpirationType,
			nullTime(session.ExpirationDate),
			nullInt(session.ExpirationMinutes),
			nullInt(session.DeviceLimit),
			session.IsActive,
			session.CreatedAt.UTC(),
			session.UpdatedAt.UTC(),
		)
		if isConstraint(err, sqlite3.ErrConstraintUnique) || isConstraint(err, sqlite3.ErrConstraintPrimaryKey) {
			return interfaces.ErrDuplicateCode
		}
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// UpdateSession replaces the mutable columns; code, owner and creation time never change
func (m *Manager) UpdateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		result, err := db.ExecContext(ctx, `
			UPDATE sessions
			SET mode_type = ?, share_type = ?, expiration_type = ?, expiration_date = ?,
				expiration_minutes = ?, device_limit = ?, is_active = ?, updated_at = ?
			WHERE id = ?
		`,
			session.ModeType,
			session.ShareType,
			session.ExpirationType,
			nullTime(session.ExpirationDate),
			nullInt(session.ExpirationMinutes),
			nullInt(session.DeviceLimit),
			session.IsActive,
			session.UpdatedAt.UTC(),
			session.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read update result: %w", err)
		}
		if affected == 0 {
			return types.ErrSessionNotFound
		}
		return nil
	})
}

// ListSessionsByOwner returns the owner's sessions ordered by creation time, newest first
func (m *Manager) ListSessionsByOwner(ctx context.Context, ownerID string, limit int) ([]*types.Session, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := m.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE owner_id = ? ORDER BY created_at DESC LIMIT ?",
		ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

const participantColumns = `id, session_id, connection_id, display_name, is_active, connected_at, disconnected_at`

func scanParticipant(row rowScanner) (*types.ParticipantRecord, error) {
	var record types.ParticipantRecord
	var disconnectedAt sql.NullTime
	err := row.Scan(
		&record.ID,
		&record.SessionID,
		&record.ConnectionID,
		&record.DisplayName,
		&record.IsActive,
		&record.ConnectedAt,
		&disconnectedAt,
	)
	if err != nil {
		return nil, err
	}
	if disconnectedAt.Valid {
		at := disconnectedAt.Time
		record.DisconnectedAt = &at
	}
	return &record, nil
}

// UpsertParticipant inserts a row or reactivates the existing row for the same connection
func (m *Manager) UpsertParticipant(ctx context.Context, record *types.ParticipantRecord) (*types.ParticipantRecord, error) {
	var stored *types.ParticipantRecord
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO participants (id, session_id, connection_id, display_name, is_active, connected_at)
			VALUES (?, ?, ?, ?, 1, ?)
			ON CONFLICT (session_id, connection_id) DO UPDATE SET
				display_name = excluded.display_name,
				is_active = 1,
				connected_at = excluded.connected_at,
				disconnected_at = NULL
		`,
			record.ID,
			record.SessionID,
			record.ConnectionID,
			record.DisplayName,
			record.ConnectedAt.UTC(),
		)
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return types.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to upsert participant: %w", err)
		}

		row := tx.QueryRowContext(ctx,
			"SELECT "+participantColumns+" FROM participants WHERE session_id = ? AND connection_id = ?",
			record.SessionID, record.ConnectionID,
		)
		stored, err = scanParticipant(row)
		if err != nil {
			return fmt.Errorf("failed to read upserted participant: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// CountActiveParticipants counts active rows for the session
func (m *Manager) CountActiveParticipants(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM participants WHERE session_id = ? AND is_active = 1",
		sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return count, nil
}

// FindActiveParticipantByConnectionID returns the active row owned by a connection
func (m *Manager) FindActiveParticipantByConnectionID(ctx context.Context, connectionID string) (*types.ParticipantRecord, error) {
	row := m.db.QueryRowContext(ctx,
		"SELECT "+participantColumns+" FROM participants WHERE connection_id = ? AND is_active = 1 ORDER BY connected_at DESC LIMIT 1",
		connectionID,
	)
	record, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query participant: %w", err)
	}
	return record, nil
}

// MarkParticipantInactive flips the row only if it is still active
// FUNCTIONAL DISCOVERY: The is_active guard makes concurrent leaves race-free,
// exactly one caller sees a changed row
func (m *Manager) MarkParticipantInactive(ctx context.Context, participantID string, at time.Time) (bool, error) {
	var changed bool
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		result, err := db.ExecContext(ctx,
			"UPDATE participants SET is_active = 0, disconnected_at = ? WHERE id = ? AND is_active = 1",
			at.UTC(), participantID,
		)
		if err != nil {
			return fmt.Errorf("failed to mark participant inactive: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read update result: %w", err)
		}
		changed = affected > 0
		return nil
	})
	return changed, err
}

// ListActiveParticipants returns the session's active rows, newest first
func (m *Manager) ListActiveParticipants(ctx context.Context, sessionID string) ([]*types.ParticipantRecord, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT "+participantColumns+" FROM participants WHERE session_id = ? AND is_active = 1 ORDER BY connected_at DESC",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*types.ParticipantRecord
	for rows.Next() {
		record, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participant rows: %w", err)
	}
	return records, nil
}

// DeactivateAllParticipants closes every active row, used at startup
func (m *Manager) DeactivateAllParticipants(ctx context.Context, at time.Time) (int, error) {
	var changed int
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		result, err := db.ExecContext(ctx,
			"UPDATE participants SET is_active = 0, disconnected_at = ? WHERE is_active = 1",
			at.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to deactivate participants: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read update result: %w", err)
		}
		changed = int(affected)
		return nil
	})
	return changed, err
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// DB returns the underlying connection pool
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Close stops the writer goroutine and closes the pool
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// applySQLiteOptimizations applies pragmas the DSN cannot carry
func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
