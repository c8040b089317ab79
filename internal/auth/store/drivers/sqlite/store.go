// Package sqlite implements store.Store on modernc.org/sqlite. It is the
// default driver for single-node deployments and the test suite; the schema
// lives in embedded migrations applied at startup.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/ezpay/wallet-auth/internal/auth/store"
)

// queryable is satisfied by both *sql.DB and *sql.Tx so the repositories can
// run inside or outside a transaction unchanged.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements store.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and configures it
// for concurrent access. WAL keeps readers unblocked during rotation writes;
// busy_timeout retries briefly instead of failing on lock contention.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// A single writer connection sidesteps SQLITE_BUSY under write load.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) RefreshTokens() store.RefreshTokenRepo { return &refreshTokenRepo{q: s.db} }
func (s *Store) Devices() store.DeviceRepo             { return &deviceRepo{q: s.db} }

type tx struct {
	t *sql.Tx
}

func (t *tx) RefreshTokens() store.RefreshTokenRepo { return &refreshTokenRepo{q: t.t} }
func (t *tx) Devices() store.DeviceRepo             { return &deviceRepo{q: t.t} }

// WithTx runs fn in a transaction, rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	t, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer t.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(&tx{t: t}); err != nil {
		return err
	}
	if err := t.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *Store) Close() error                   { return s.db.Close() }

// mapNotFound converts the driver miss into the store sentinel.
func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
