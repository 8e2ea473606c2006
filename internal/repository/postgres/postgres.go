// Package postgres implements the repository interfaces on PostgreSQL through
// pgx's database/sql driver. Schema changes are goose migrations embedded in
// the binary.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/sakif/ebook-storefront/internal/repository"
)

//go:embed migrations/*.sql
var migrations embed.FS

// uniqueViolation is the SQLSTATE for a UNIQUE constraint failure.
const uniqueViolation = "23505"

var _ repository.Store = (*DB)(nil)

// DB wraps a sql.DB connection pool and hands out the repositories that
// share it.
type DB struct {
	conn      *sql.DB
	purchases *PurchaseStore
	users     *UserStore
}

// Open connects to PostgreSQL and verifies the connection. It does not run
// migrations; call Migrate for that.
func Open(ctx context.Context, dsn string, maxConns int) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening database: %w", err)
	}
	if maxConns > 0 {
		conn.SetMaxOpenConns(maxConns)
		conn.SetMaxIdleConns(maxConns)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}

	return NewWithConn(conn), nil
}

// NewWithConn wraps an existing pool. Tests pass a sqlmock connection.
func NewWithConn(conn *sql.DB) *DB {
	return &DB{
		conn:      conn,
		purchases: &PurchaseStore{conn: conn},
		users:     &UserStore{conn: conn},
	}
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies every pending migration from the embedded migrations dir.
func (db *DB) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("postgres: setting goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db.conn, "migrations"); err != nil {
		return fmt.Errorf("postgres: running migrations: %w", err)
	}
	return nil
}

// Purchases returns the purchase ledger.
func (db *DB) Purchases() repository.PurchaseRepository { return db.purchases }

// Users returns the account store.
func (db *DB) Users() repository.UserRepository { return db.users }

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
