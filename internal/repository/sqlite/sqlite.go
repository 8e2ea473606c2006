// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary needs
// no C toolchain. Use ":memory:" for an in-memory database in tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/ebook-storefront/internal/repository"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var _ repository.Store = (*DB)(nil)

// DB wraps a sql.DB connection pool and hands out the repositories that
// share it.
type DB struct {
	conn      *sql.DB
	purchases *PurchaseStore
	users     *UserStore
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/storefront.db"  → file-based database (persistent)
//   - ":memory:"            → in-memory database (lost on close)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// SQLite allows one writer at a time. A single connection serializes
	// writes in the pool instead of surfacing SQLITE_BUSY, and keeps every
	// query on the same ":memory:" database.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}
	db.purchases = &PurchaseStore{conn: conn}
	db.users = &UserStore{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Purchases returns the purchase ledger.
func (db *DB) Purchases() repository.PurchaseRepository { return db.purchases }

// Users returns the account store.
func (db *DB) Users() repository.UserRepository { return db.users }

// Ping checks that the database file is still reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate runs all database migrations. CREATE TABLE IF NOT EXISTS makes
// every step safe to repeat on an existing database.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                   TEXT PRIMARY KEY,
			email                TEXT NOT NULL UNIQUE,
			name                 TEXT NOT NULL DEFAULT '',
			password_hash        TEXT NOT NULL DEFAULT '',
			email_verified       INTEGER NOT NULL DEFAULT 0,
			is_admin             INTEGER NOT NULL DEFAULT 0,
			verification_token   TEXT,
			verification_expires DATETIME,
			reset_token          TEXT,
			reset_expires        DATETIME,
			created_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_users_verification_token ON users(verification_token);
		CREATE INDEX IF NOT EXISTS idx_users_reset_token ON users(reset_token);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// last_login_at arrived after the first release.
	if err := db.addColumnIfNotExists("users", "last_login_at", "DATETIME"); err != nil {
		return fmt.Errorf("adding last_login_at to users: %w", err)
	}

	// stripe_session_id is UNIQUE: the ledger's one-row-per-session rule
	// is enforced here, and CreateIfAbsent relies on it.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS purchases (
			id                TEXT PRIMARY KEY,
			user_id           TEXT REFERENCES users(id),
			customer_email    TEXT NOT NULL,
			customer_name     TEXT NOT NULL DEFAULT '',
			stripe_session_id TEXT NOT NULL UNIQUE,
			amount            INTEGER NOT NULL,
			currency          TEXT NOT NULL,
			product_name      TEXT NOT NULL,
			status            TEXT NOT NULL DEFAULT 'completed',
			access_token      TEXT,
			purchased_at      DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_purchases_user_id ON purchases(user_id);
		CREATE INDEX IF NOT EXISTS idx_purchases_customer_email ON purchases(customer_email);
	`)
	if err != nil {
		return fmt.Errorf("creating purchases table: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
// migrate runs on every start, so each ALTER must be repeatable.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
