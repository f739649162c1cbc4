package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SchemaVersion is the version EnsureSchema brings the database to
const SchemaVersion = 1

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS fractals (
		id UUID PRIMARY KEY,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		iterations INTEGER NOT NULL,
		xa DOUBLE PRECISION NOT NULL,
		xb DOUBLE PRECISION NOT NULL,
		ya DOUBLE PRECISION NOT NULL,
		yb DOUBLE PRECISION NOT NULL,
		checksum VARCHAR(64),
		duration DOUBLE PRECISION,
		size BIGINT,
		generated_by VARCHAR(255),
		image BYTEA,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fractals_created_at ON fractals (created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_fractals_checksum ON fractals (checksum)`,
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`,
}

// EnsureSchema creates the record tables if missing and stamps the schema version
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
		return fmt.Errorf("failed to reset schema version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}

// CurrentVersion returns the stamped schema version, or 0 for an empty database
func CurrentVersion(ctx context.Context, db *sqlx.DB) (int, error) {
	var exists bool
	err := db.GetContext(ctx, &exists, `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables WHERE table_name = 'schema_version'
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect schema: %w", err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.GetContext(ctx, &version, `SELECT version FROM schema_version LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	return version, nil
}
