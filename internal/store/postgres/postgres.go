// Package postgres implements the relational store.Backend on PostgreSQL
// through pgx's database/sql driver.
//
// Calls may block on the network. Every call passes through an admission
// gate sized to the pool, so an exhausted pool turns into store.ErrTimeout
// after Config.AcquireTimeout instead of an unbounded wait.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/maloquacious/goobtool/internal/store"
)

// Config configures the relational backend.
type Config struct {
	// DSN is a PostgreSQL connection string.
	DSN string

	// MaxConns bounds open connections and concurrent callers. Defaults to 10.
	MaxConns int

	// AcquireTimeout bounds the wait for a pooled connection. Defaults to 5s.
	AcquireTimeout time.Duration

	// QueryTimeout applies to Query, Exec and HealthCheck when the caller's
	// context has no deadline. Zero disables it.
	QueryTimeout time.Duration

	// ConnectTimeout bounds a single dial. Defaults to 10s.
	ConnectTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// PostgresStore implements the Backend interface using pgx.
type PostgresStore struct {
	cfg  Config
	gate *gate

	mu sync.RWMutex
	db *sql.DB
}

var _ store.Backend = (*PostgresStore)(nil)

// New creates a PostgresStore. No connection is made until first use.
func New(cfg Config) *PostgresStore {
	cfg.setDefaults()
	return &PostgresStore{
		cfg:  cfg,
		gate: newGate(cfg.MaxConns, cfg.AcquireTimeout),
	}
}

// Kind implements store.Backend.
func (s *PostgresStore) Kind() store.Kind { return store.KindRelational }

// Open parses the DSN and prepares the pool. Dialing is deferred to the
// first call so the caller's HealthCheck policy decides how to treat an
// unreachable server.
func (s *PostgresStore) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	connCfg, err := pgx.ParseConfig(s.cfg.DSN)
	if err != nil {
		return fmt.Errorf("%w: parse connection string: %w", store.ErrConfiguration, err)
	}
	connCfg.ConnectTimeout = s.cfg.ConnectTimeout

	db := stdlib.OpenDB(*connCfg)
	db.SetMaxOpenConns(s.cfg.MaxConns)
	db.SetMaxIdleConns(s.cfg.MaxConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s.db = db
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// handle returns the pool, a slot from the gate, and a context bounded by
// QueryTimeout when bounded is set.
func (s *PostgresStore) handle(ctx context.Context, bounded bool) (*sql.DB, context.Context, func(), error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db == nil {
		return nil, nil, nil, store.ErrClosed
	}

	cancel := func() {}
	if _, ok := ctx.Deadline(); bounded && !ok && s.cfg.QueryTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.QueryTimeout)
	}

	release, err := s.gate.acquire(ctx)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return db, ctx, func() { release(); cancel() }, nil
}

// HealthCheck pings the server.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	db, ctx, done, err := s.handle(ctx, true)
	if err != nil {
		return err
	}
	defer done()

	if err := db.PingContext(ctx); err != nil {
		return classify("health check", err)
	}
	return nil
}

// HasVector reports whether vector migrations can run: pgvector is already
// installed, or the current role is allowed to CREATE EXTENSION vector.
func (s *PostgresStore) HasVector(ctx context.Context) (bool, error) {
	db, ctx, done, err := s.handle(ctx, true)
	if err != nil {
		return false, err
	}
	defer done()

	var ok bool
	if err := db.QueryRowContext(ctx, vectorQuery).Scan(&ok); err != nil {
		return false, classify("check vector extension", err)
	}
	return ok, nil
}

// Capabilities reports the vector capability flag.
func (s *PostgresStore) Capabilities(ctx context.Context) (store.Capabilities, error) {
	ok, err := s.HasVector(ctx)
	if err != nil {
		return nil, err
	}
	return store.Capabilities{store.CapVector: ok}, nil
}

// Query runs a statement that returns rows. '?' placeholders are rebound; see Rebind.
func (s *PostgresStore) Query(ctx context.Context, stmt string, args ...any) (*store.Result, error) {
	db, ctx, done, err := s.handle(ctx, true)
	if err != nil {
		return nil, err
	}
	defer done()

	stmt = Rebind(stmt)
	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, classify("query", err)
	}
	res, err := store.ScanRows(rows)
	if err != nil {
		return nil, classify("query", err)
	}
	return res, nil
}

// Exec runs a statement that does not return rows. '?' placeholders are rebound; see Rebind.
func (s *PostgresStore) Exec(ctx context.Context, stmt string, args ...any) (*store.Result, error) {
	db, ctx, done, err := s.handle(ctx, true)
	if err != nil {
		return nil, err
	}
	defer done()

	stmt = Rebind(stmt)
	r, err := db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, classify("exec", err)
	}
	n, _ := r.RowsAffected()
	return &store.Result{RowsAffected: n}, nil
}

// Records returns the migration ledger ordered by version.
func (s *PostgresStore) Records(ctx context.Context) ([]store.Record, error) {
	db, ctx, done, err := s.handle(ctx, true)
	if err != nil {
		return nil, err
	}
	defer done()

	var exists bool
	if err := db.QueryRowContext(ctx, ledgerExistsQuery).Scan(&exists); err != nil {
		return nil, classify("check schema_migrations table", err)
	}
	if !exists {
		return nil, nil
	}

	rows, err := db.QueryContext(ctx, ledgerSelectAll)
	if err != nil {
		return nil, classify("read schema_migrations", err)
	}
	defer rows.Close()

	var records []store.Record
	for rows.Next() {
		var rec store.Record
		if err := rows.Scan(&rec.Version, &rec.Name, &rec.Checksum, &rec.AppliedAt); err != nil {
			return nil, classify("scan schema_migrations", err)
		}
		rec.AppliedAt = rec.AppliedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read schema_migrations", err)
	}
	return records, nil
}

// ApplyMigration runs content and records rec in one transaction holding
// the ledger advisory lock. QueryTimeout does not apply: DDL may be slow.
func (s *PostgresStore) ApplyMigration(ctx context.Context, rec store.Record, content string) (store.Record, bool, error) {
	db, ctx, done, err := s.handle(ctx, false)
	if err != nil {
		return store.Record{}, false, err
	}
	defer done()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return store.Record{}, false, classify("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ledgerLock); err != nil {
		return store.Record{}, false, classify("lock schema_migrations", err)
	}
	if _, err := tx.ExecContext(ctx, ledgerSchema); err != nil {
		return store.Record{}, false, classify("create schema_migrations", err)
	}

	existing := store.Record{Version: rec.Version}
	err = tx.QueryRowContext(ctx, ledgerSelectOne, rec.Version).Scan(&existing.Name, &existing.Checksum, &existing.AppliedAt)
	switch {
	case err == nil:
		existing.AppliedAt = existing.AppliedAt.UTC()
		return existing, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return store.Record{}, false, classify("read schema_migrations", err)
	}

	if _, err := tx.ExecContext(ctx, content); err != nil {
		return store.Record{}, false, classify("apply content", err)
	}
	if _, err := tx.ExecContext(ctx, ledgerInsert, rec.Version, rec.Name, rec.Checksum, rec.AppliedAt.UTC()); err != nil {
		return store.Record{}, false, classify("insert schema_migrations", err)
	}
	if err := tx.Commit(); err != nil {
		return store.Record{}, false, classify("commit transaction", err)
	}
	return rec, false, nil
}

// classify maps driver errors onto the store taxonomy.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err):
		return fmt.Errorf("%w: %s: %w", store.ErrTimeout, op, err)
	case connectionRefused(err):
		return fmt.Errorf("%w: %s: %w", store.ErrConnectionRefused, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func connectionRefused(err error) bool {
	var ce *pgconn.ConnectError
	if errors.As(err, &ce) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe) && oe.Op == "dial"
}
