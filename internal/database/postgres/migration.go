package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id UUID PRIMARY KEY,
		code TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		mode_type TEXT NOT NULL CHECK (mode_type IN ('internet', 'lan')),
		share_type TEXT NOT NULL CHECK (share_type IN ('full-screen', 'partial')),
		expiration_type TEXT NOT NULL DEFAULT 'none'
			CHECK (expiration_type IN ('none', 'fixed-date', 'duration-minutes')),
		expiration_date TIMESTAMPTZ,
		expiration_minutes INTEGER,
		device_limit INTEGER,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_code ON sessions (code)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_owner_created ON sessions (owner_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS participants (
		id TEXT PRIMARY KEY,
		session_id UUID NOT NULL REFERENCES sessions(id),
		connection_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		connected_at TIMESTAMPTZ NOT NULL,
		disconnected_at TIMESTAMPTZ,
		UNIQUE (session_id, connection_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_participants_session_active ON participants (session_id) WHERE is_active`,
	`CREATE INDEX IF NOT EXISTS idx_participants_connection_active ON participants (connection_id) WHERE is_active`,
}

// RunMigration creates the schema; every statement is idempotent
func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
