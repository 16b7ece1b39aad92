// ABOUTME: SQL implementation of the Store interface with a SQLite dialect using modernc.org/sqlite
// ABOUTME: Provides transactional gateway, token account and event persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

// dialect captures the differences between the supported SQL engines.
type dialect struct {
	name      string
	schema    string
	isolation sql.IsolationLevel
	forUpdate string // suffix that locks rows read for update, empty if unsupported
	numbered  bool   // placeholders are $1, $2, ... instead of ?
}

var sqliteDialect = dialect{
	name:      "sqlite",
	isolation: sql.LevelDefault,
	schema: `
		CREATE TABLE IF NOT EXISTS gateways (
			address    TEXT PRIMARY KEY,
			authority  TEXT NOT NULL,
			fee        TEXT NOT NULL,
			bump       INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			CHECK (bump BETWEEN 0 AND 255)
		);

		CREATE TABLE IF NOT EXISTS token_accounts (
			address    TEXT PRIMARY KEY,
			mint       TEXT NOT NULL,
			owner      TEXT NOT NULL,
			balance    TEXT NOT NULL,
			frozen     INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_token_accounts_owner ON token_accounts(owner);

		CREATE TABLE IF NOT EXISTS gateway_events (
			seq      INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			kind     TEXT NOT NULL,
			gateway  TEXT NOT NULL,
			actor    TEXT NOT NULL,
			amount   TEXT NOT NULL DEFAULT '0',
			nonce    TEXT NOT NULL DEFAULT '0',
			old_fee  TEXT NOT NULL DEFAULT '0',
			new_fee  TEXT NOT NULL DEFAULT '0',
			ts       INTEGER NOT NULL,

			CHECK (kind IN ('gateway_initialized', 'payment_processed', 'fee_updated'))
		);

		CREATE INDEX IF NOT EXISTS idx_gateway_events_kind ON gateway_events(kind, seq);
		CREATE INDEX IF NOT EXISTS idx_gateway_events_actor ON gateway_events(actor, seq);

		CREATE TABLE IF NOT EXISTS payment_verifications (
			payer       TEXT NOT NULL,
			nonce       TEXT NOT NULL,
			event_id    TEXT NOT NULL UNIQUE,
			verified_at TEXT NOT NULL,

			PRIMARY KEY (payer, nonce)
		);
	`,
}

// SQLStore implements the Store interface on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection serializes transactions, and keeps a :memory: database
	// alive for the lifetime of the store.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s, err := newSQLStore(db, sqliteDialect, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// newSQLStore wraps an open database and creates the schema.
func newSQLStore(db *sql.DB, d dialect, logger *slog.Logger) (*SQLStore, error) {
	s := &SQLStore{
		db:      db,
		dialect: d,
		logger:  logger,
	}
	if err := s.createSchema(); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLStore) createSchema() error {
	_, err := s.db.Exec(s.dialect.schema)
	return err
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	s.logger.Info("closing store", "dialect", s.dialect.name)
	return s.db.Close()
}

// WithTx runs fn in a database transaction.
func (s *SQLStore) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	dbTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.dialect.isolation})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = dbTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&sqlTx{tx: dbTx, store: s}); err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := dbTx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return ErrConflict
		}
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders for dialects with numbered parameters.
func (s *SQLStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlTx implements Tx on a database/sql transaction.
type sqlTx struct {
	tx    *sql.Tx
	store *SQLStore
}

func (t *sqlTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.store.rebind(query), args...)
}

func (t *sqlTx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.store.rebind(query), args...)
}

// requireOneRow maps an UPDATE that touched nothing to ErrNotFound.
func requireOneRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
