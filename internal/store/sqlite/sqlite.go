// Package sqlite implements the embedded store.Backend on modernc.org/sqlite.
//
// Everything runs in-process against a single database file; there is no
// network path, so every failure is reported as store.ErrStorage.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maloquacious/goobtool/internal/store"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Backend interface using modernc.org/sqlite.
//
// Writes are serialised through mu; reads share it. Transactions begin
// IMMEDIATE so a second process writing the same file waits on SQLite's own
// lock instead of failing mid-transaction.
type SQLiteStore struct {
	dbPath string
	mu     sync.RWMutex
	db     *sql.DB
}

var _ store.Backend = (*SQLiteStore)(nil)

// New creates a new SQLiteStore for the database file at dbPath.
func New(dbPath string) *SQLiteStore {
	return &SQLiteStore{dbPath: dbPath}
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.dbPath }

// Kind implements store.Backend.
func (s *SQLiteStore) Kind() store.Kind { return store.KindEmbedded }

// dsn builds the driver DSN with safe defaults applied to every connection.
func (s *SQLiteStore) dsn() string {
	params := make([]string, 0, len(pragmas)+1)
	for _, p := range pragmas {
		params = append(params, "_pragma="+p)
	}
	params = append(params, "_txlock=immediate")
	return s.dbPath + "?" + strings.Join(params, "&")
}

// Open opens the SQLite database, creating the file and its directory if needed.
func (s *SQLiteStore) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}
	if err := store.EnsureStorePath(filepath.Dir(s.dbPath)); err != nil {
		return err
	}

	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return storageErr("open database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return storageErr("ping database", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return storageErr("close database", err)
	}
	return nil
}

// HealthCheck pings the database file.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return store.ErrClosed
	}
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("ping database", err)
	}
	return nil
}

// Capabilities reports no optional features; the embedded engine has no vector extension.
func (s *SQLiteStore) Capabilities(ctx context.Context) (store.Capabilities, error) {
	return store.Capabilities{}, nil
}

// Query runs a read statement under the shared lock.
func (s *SQLiteStore) Query(ctx context.Context, stmt string, args ...any) (*store.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, store.ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, storageErr("query", err)
	}
	res, err := store.ScanRows(rows)
	if err != nil {
		return nil, storageErr("query", err)
	}
	return res, nil
}

// Exec runs a write statement under the exclusive lock.
func (s *SQLiteStore) Exec(ctx context.Context, stmt string, args ...any) (*store.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, store.ErrClosed
	}
	r, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, storageErr("exec", err)
	}
	n, _ := r.RowsAffected()
	return &store.Result{RowsAffected: n}, nil
}

// Records returns the migration ledger ordered by version.
func (s *SQLiteStore) Records(ctx context.Context) ([]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, store.ErrClosed
	}

	var count int
	if err := s.db.QueryRowContext(ctx, ledgerExistsQuery).Scan(&count); err != nil {
		return nil, storageErr("check schema_migrations table", err)
	}
	if count == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, ledgerSelectAll)
	if err != nil {
		return nil, storageErr("read schema_migrations", err)
	}
	defer rows.Close()

	var records []store.Record
	for rows.Next() {
		var rec store.Record
		var appliedAt int64
		if err := rows.Scan(&rec.Version, &rec.Name, &rec.Checksum, &appliedAt); err != nil {
			return nil, storageErr("scan schema_migrations", err)
		}
		rec.AppliedAt = time.Unix(appliedAt, 0).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("read schema_migrations", err)
	}
	return records, nil
}

// ApplyMigration runs content and records rec in one IMMEDIATE transaction.
func (s *SQLiteStore) ApplyMigration(ctx context.Context, rec store.Record, content string) (store.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return store.Record{}, false, store.ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Record{}, false, storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ledgerSchema); err != nil {
		return store.Record{}, false, storageErr("create schema_migrations", err)
	}

	existing := store.Record{Version: rec.Version}
	var appliedAt int64
	err = tx.QueryRowContext(ctx, ledgerSelectOne, rec.Version).Scan(&existing.Name, &existing.Checksum, &appliedAt)
	switch {
	case err == nil:
		existing.AppliedAt = time.Unix(appliedAt, 0).UTC()
		return existing, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return store.Record{}, false, storageErr("read schema_migrations", err)
	}

	if _, err := tx.ExecContext(ctx, content); err != nil {
		return store.Record{}, false, storageErr("apply content", err)
	}
	if _, err := tx.ExecContext(ctx, ledgerInsert, rec.Version, rec.Name, rec.Checksum, rec.AppliedAt.Unix()); err != nil {
		return store.Record{}, false, storageErr("insert schema_migrations", err)
	}
	if err := tx.Commit(); err != nil {
		return store.Record{}, false, storageErr("commit transaction", err)
	}

	rec.AppliedAt = time.Unix(rec.AppliedAt.Unix(), 0).UTC()
	return rec, false, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", store.ErrStorage, op, err)
}
