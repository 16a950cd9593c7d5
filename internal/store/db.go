package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel/attribute"
)

// NewDB opens an instrumented Postgres pool through the pgx driver and
// verifies it with a ping.
func NewDB(ctx context.Context, connString string) (*sql.DB, error) {
	db, err := otelsql.Open("pgx", connString,
		otelsql.WithAttributes(attribute.String("db.system", "postgresql")),
		otelsql.WithSQLCommenter(true),
	)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS establishments (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		entry_time TEXT NOT NULL,
		exit_time TEXT NOT NULL,
		tolerance_minutes INTEGER NOT NULL DEFAULT 15 CHECK (tolerance_minutes >= 0),
		work_days TEXT NOT NULL DEFAULT '1,2,3,4,5',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		document TEXT NOT NULL UNIQUE,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		schedule_id TEXT NOT NULL DEFAULT '',
		establishment_id TEXT NOT NULL DEFAULT '',
		face_trained BOOLEAN NOT NULL DEFAULT FALSE,
		photo_url TEXT NOT NULL DEFAULT '',
		push_token TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS marcajes (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		establishment_id TEXT NOT NULL DEFAULT '',
		device_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL CHECK (type IN ('entry', 'exit')),
		date TEXT NOT NULL,
		time TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('on-time', 'late', 'early')),
		minutes_late INTEGER NOT NULL DEFAULT 0,
		confidence DOUBLE PRECISION,
		notification_sent BOOLEAN NOT NULL DEFAULT FALSE,
		occurred_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (status = 'late' OR minutes_late = 0)
	)`,
	`CREATE INDEX IF NOT EXISTS marcajes_user_type_idx ON marcajes (user_id, type, occurred_at DESC)`,
	`CREATE INDEX IF NOT EXISTS marcajes_date_idx ON marcajes (date)`,
	`CREATE TABLE IF NOT EXISTS admins (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		token TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		revoked BOOLEAN NOT NULL DEFAULT FALSE
	)`,
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
