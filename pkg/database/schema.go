package database

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaValidator checks that a SQLite database has the tables, columns and
// indexes the store relies on.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check
func (v *SchemaValidator) Validate(ctx context.Context) error {
	if err := v.ValidateTablesExist(ctx); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(ctx); err != nil {
		return err
	}
	return v.ValidateIndexes(ctx)
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist(ctx context.Context) error {
	requiredTables := map[string]string{
		"sessions":          "Session storage",
		"participants":      "Participant rows",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.objectExists(ctx, "table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types
func (v *SchemaValidator) ValidateTableStructure(ctx context.Context) error {
	sessionColumns := map[string]string{
		"id":                 "TEXT",
		"code":               "TEXT",
		"owner_id":           "TEXT",
		"mode_type":          "TEXT",
		"share_type":         "TEXT",
		"expiration_type":    "TEXT",
		"expiration_date":    "DATETIME",
		"expiration_minutes": "INTEGER",
		"device_limit":       "INTEGER",
		"is_active":          "BOOLEAN",
		"created_at":         "DATETIME",
		"updated_at":         "DATETIME",
	}
	if err := v.validateColumns(ctx, "sessions", sessionColumns); err != nil {
		return fmt.Errorf("sessions table structure invalid: %w", err)
	}

	participantColumns := map[string]string{
		"id":              "TEXT",
		"session_id":      "TEXT",
		"connection_id":   "TEXT",
		"display_name":    "TEXT",
		"is_active":       "BOOLEAN",
		"connected_at":    "DATETIME",
		"disconnected_at": "DATETIME",
	}
	if err := v.validateColumns(ctx, "participants", participantColumns); err != nil {
		return fmt.Errorf("participants table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies the uniqueness and lookup indexes
// FUNCTIONAL DISCOVERY: The two unique indexes are load-bearing, the code
// generator and the participant upsert both depend on them
func (v *SchemaValidator) ValidateIndexes(ctx context.Context) error {
	requiredIndexes := map[string]string{
		"idx_sessions_code":                   "Unique session codes",
		"idx_sessions_owner_created":          "Owner session listing",
		"idx_participants_session_connection": "One row per connection and session",
		"idx_participants_session_active":     "Active participant counts",
		"idx_participants_connection_active":  "Disconnect lookups",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists(ctx, "index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

func (v *SchemaValidator) objectExists(ctx context.Context, kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(ctx context.Context, tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid, notNull, pk int
		var name, dataType string
		var defaultValue interface{}
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}
	return nil
}
