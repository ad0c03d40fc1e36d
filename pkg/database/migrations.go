package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Migration is one versioned schema step
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// SQLiteMigrations is the ordered schema history of the SQLite store.
// ARCHITECTURAL DISCOVERY: Uniqueness lives in the schema so concurrent
// writers cannot bypass it: codes are unique across active and inactive
// sessions and a connection has at most one row per session
var SQLiteMigrations = []Migration{
	{
		Version:     "001",
		Description: "initial_schema",
		SQL: `
			CREATE TABLE sessions (
				id TEXT PRIMARY KEY,
				code TEXT NOT NULL,
				owner_id TEXT NOT NULL,
				mode_type TEXT NOT NULL CHECK (mode_type IN ('internet', 'lan')),
				share_type TEXT NOT NULL CHECK (share_type IN ('full-screen', 'partial')),
				expiration_type TEXT NOT NULL DEFAULT 'none'
					CHECK (expiration_type IN ('none', 'fixed-date', 'duration-minutes')),
				expiration_date DATETIME,
				expiration_minutes INTEGER,
				device_limit INTEGER,
				is_active BOOLEAN NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			CREATE UNIQUE INDEX idx_sessions_code ON sessions(code);
			CREATE INDEX idx_sessions_owner_created ON sessions(owner_id, created_at DESC);

			CREATE TABLE participants (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL REFERENCES sessions(id),
				connection_id TEXT NOT NULL,
				display_name TEXT NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT 1,
				connected_at DATETIME NOT NULL,
				disconnected_at DATETIME
			);

			CREATE UNIQUE INDEX idx_participants_session_connection ON participants(session_id, connection_id);
			CREATE INDEX idx_participants_session_active ON participants(session_id, is_active);
			CREATE INDEX idx_participants_connection_active ON participants(connection_id, is_active);
		`,
	},
}

// MigrationManager applies migrations and tracks them in schema_migrations
type MigrationManager struct {
	db         *sql.DB
	migrations []Migration
}

// NewMigrationManager creates a migration manager for the given history
func NewMigrationManager(db *sql.DB, migrations []Migration) *MigrationManager {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})
	return &MigrationManager{
		db:         db,
		migrations: sorted,
	}
}

// ApplyMigrations applies every pending migration and returns how many ran.
// FUNCTIONAL DISCOVERY: Each migration runs in its own transaction together
// with its schema_migrations row, so a failure leaves no half-applied step
func (m *MigrationManager) ApplyMigrations(ctx context.Context) (int, error) {
	if err := m.createMigrationTable(ctx); err != nil {
		return 0, fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := m.AppliedVersions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	count := 0
	for _, migration := range m.migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.applyMigration(ctx, migration); err != nil {
			return count, fmt.Errorf("failed to apply migration %s (%s): %w", migration.Version, migration.Description, err)
		}
		count++
	}
	return count, nil
}

// AppliedVersions returns the set of recorded migration versions
func (m *MigrationManager) AppliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	versions := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions[version] = true
	}
	return versions, rows.Err()
}

func (m *MigrationManager) createMigrationTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (m *MigrationManager) applyMigration(ctx context.Context, migration Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}
	return tx.Commit()
}
