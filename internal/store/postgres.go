// ABOUTME: PostgreSQL dialect for SQLStore using the pgx stdlib driver
// ABOUTME: Serializable transactions with row locks, plus driver error classification

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

var postgresDialect = dialect{
	name:      "postgres",
	isolation: sql.LevelSerializable,
	forUpdate: " FOR UPDATE",
	numbered:  true,
	schema: `
		CREATE TABLE IF NOT EXISTS gateways (
			address    TEXT PRIMARY KEY,
			authority  TEXT NOT NULL,
			fee        TEXT NOT NULL,
			bump       INTEGER NOT NULL CHECK (bump BETWEEN 0 AND 255),
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS token_accounts (
			address    TEXT PRIMARY KEY,
			mint       TEXT NOT NULL,
			owner      TEXT NOT NULL,
			balance    TEXT NOT NULL,
			frozen     BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_token_accounts_owner ON token_accounts(owner);

		CREATE TABLE IF NOT EXISTS gateway_events (
			seq      BIGSERIAL PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			kind     TEXT NOT NULL CHECK (kind IN ('gateway_initialized', 'payment_processed', 'fee_updated')),
			gateway  TEXT NOT NULL,
			actor    TEXT NOT NULL,
			amount   TEXT NOT NULL DEFAULT '0',
			nonce    TEXT NOT NULL DEFAULT '0',
			old_fee  TEXT NOT NULL DEFAULT '0',
			new_fee  TEXT NOT NULL DEFAULT '0',
			ts       BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_gateway_events_kind ON gateway_events(kind, seq);
		CREATE INDEX IF NOT EXISTS idx_gateway_events_actor ON gateway_events(actor, seq);

		CREATE TABLE IF NOT EXISTS payment_verifications (
			payer       TEXT NOT NULL,
			nonce       TEXT NOT NULL,
			event_id    TEXT NOT NULL UNIQUE REFERENCES gateway_events(event_id),
			verified_at TEXT NOT NULL,
			PRIMARY KEY (payer, nonce)
		);
	`,
}

// NewPostgresStore connects to PostgreSQL with the given DSN and creates the
// schema if it doesn't exist.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store")

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s, err := newSQLStore(db, postgresDialect, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("PostgreSQL store initialized")
	return s, nil
}

// isConstraintViolation checks if the error is a UNIQUE or PRIMARY KEY violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed")
}

// isSerializationFailure reports whether the database aborted a transaction
// because of a concurrent write.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return err != nil && strings.Contains(err.Error(), "SQLITE_BUSY")
}
