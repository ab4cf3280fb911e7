package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id           TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		account_kind TEXT NOT NULL DEFAULT 'anonymous',
		language     TEXT NOT NULL DEFAULT 'en',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS boards (
		id         TEXT PRIMARY KEY,
		owner_id   TEXT NOT NULL,
		doc        JSONB NOT NULL,
		version    BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS board_participants (
		board_id  TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
		user_id   TEXT NOT NULL,
		joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (board_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_board_participants_user ON board_participants (user_id, joined_at)`,
	`CREATE TABLE IF NOT EXISTS user_templates (
		user_id TEXT PRIMARY KEY,
		columns JSONB NOT NULL
	)`,
}

// Migrate applies the schema. Statements are idempotent so re-running
// at every boot is safe.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
