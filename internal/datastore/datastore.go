// Package datastore is the single data access entry point for application
// code. It binds to whichever backend the process mode selected and routes
// every statement there; callers never see which one it is.
package datastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/maloquacious/goobtool/internal/config"
	"github.com/maloquacious/goobtool/internal/logger"
	"github.com/maloquacious/goobtool/internal/migrate"
	"github.com/maloquacious/goobtool/internal/mode"
	"github.com/maloquacious/goobtool/internal/schema"
	"github.com/maloquacious/goobtool/internal/store"
	"github.com/maloquacious/goobtool/internal/store/postgres"
	"github.com/maloquacious/goobtool/internal/store/sqlite"
)

// NewBackend builds the backend for a resolved mode. It does not connect.
func NewBackend(res mode.Resolution, cfg config.Config) (store.Backend, error) {
	switch res.Mode {
	case mode.Client:
		return sqlite.New(store.GetDBPath(cfg.DataDir)), nil
	case mode.Server:
		if res.Descriptor == nil {
			return nil, store.Configurationf("server mode resolution has no connection descriptor")
		}
		return postgres.New(postgres.Config{
			DSN:            res.Descriptor.DSN(),
			MaxConns:       cfg.Pool.MaxConns,
			AcquireTimeout: cfg.Pool.AcquireTimeout,
			QueryTimeout:   cfg.Pool.QueryTimeout,
			ConnectTimeout: cfg.Pool.ConnectTimeout,
		}), nil
	default:
		return nil, store.Configurationf("unknown mode %v", res.Mode)
	}
}

// Migrations loads the embedded migration set for a backend kind.
func Migrations(kind store.Kind) ([]migrate.Migration, error) {
	fsys, err := schema.FS(kind)
	if err != nil {
		return nil, store.Configurationf("%v", err)
	}
	return migrate.Load(fsys)
}

// Store is the data access facade.
type Store struct {
	backend store.Backend
	set     []migrate.Migration
	log     logger.Logger
}

// Open binds a Store for the process mode.
//
// In client mode the embedded schema is brought up to date locally, since
// no pipeline ever migrates client data. In server mode the schema must
// already be current: pending migrations fail with store.ErrNotReady and a
// disagreeing ledger with store.ErrMigrationDrift.
func Open(ctx context.Context, res mode.Resolution, cfg config.Config, log logger.Logger) (*Store, error) {
	backend, err := NewBackend(res, cfg)
	if err != nil {
		return nil, err
	}
	all, err := Migrations(backend.Kind())
	if err != nil {
		return nil, err
	}
	set, err := migrate.Select(all, cfg.Features)
	if err != nil {
		return nil, err
	}
	return bind(ctx, backend, res.Mode, set, log)
}

// Inspect reports the schema state without binding a Store or applying
// anything. A missing embedded database file is StateMissing and is not created.
func Inspect(ctx context.Context, res mode.Resolution, cfg config.Config, log logger.Logger) (store.State, *migrate.Report, error) {
	if res.Mode == mode.Client {
		ok, err := store.CheckExists(cfg.DataDir)
		if err != nil {
			return store.StateMissing, nil, err
		}
		if !ok {
			return store.StateMissing, nil, nil
		}
	}

	backend, err := NewBackend(res, cfg)
	if err != nil {
		return store.StateMissing, nil, err
	}
	all, err := Migrations(backend.Kind())
	if err != nil {
		return store.StateMissing, nil, err
	}
	set, err := migrate.Select(all, cfg.Features)
	if err != nil {
		return store.StateMissing, nil, err
	}
	if err := backend.Open(ctx); err != nil {
		return store.StateMissing, nil, err
	}
	defer backend.Close()

	if log == nil {
		log = logger.Discard()
	}
	state, report := (&Store{backend: backend, set: set, log: log}).Status(ctx)
	return state, report, nil
}

func bind(ctx context.Context, backend store.Backend, m mode.Mode, set []migrate.Migration, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Discard()
	}
	if err := backend.Open(ctx); err != nil {
		return nil, err
	}
	if err := backend.HealthCheck(ctx); err != nil {
		backend.Close()
		return nil, err
	}

	engine := migrate.NewEngine(backend, log)
	if m == mode.Client {
		if _, err := engine.Run(ctx, set); err != nil {
			backend.Close()
			return nil, fmt.Errorf("prepare embedded schema: %w", err)
		}
	} else {
		report, err := engine.Plan(ctx, set)
		if err != nil {
			backend.Close()
			return nil, err
		}
		if len(report.Pending) > 0 {
			backend.Close()
			return nil, fmt.Errorf("%w: schema at version %04d, %d migrations pending; run `db upgrade`",
				store.ErrNotReady, report.Current, len(report.Pending))
		}
	}

	log.Debug("datastore bound to %s backend", backend.Kind())
	return &Store{backend: backend, set: set, log: log}, nil
}

// Query runs a read statement. Placeholders are written as ?. On the
// relational backend a literal ? operator (jsonb) is written as ??.
func (s *Store) Query(ctx context.Context, stmt string, args ...any) (*store.Result, error) {
	return s.backend.Query(ctx, stmt, args...)
}

// Exec runs a write statement. Placeholders are written as ?.
func (s *Store) Exec(ctx context.Context, stmt string, args ...any) (*store.Result, error) {
	return s.backend.Exec(ctx, stmt, args...)
}

// Status reports readiness and the ledger position. The report is nil
// when the backend could not be read.
func (s *Store) Status(ctx context.Context) (store.State, *migrate.Report) {
	if err := s.backend.HealthCheck(ctx); err != nil {
		return store.StateMissing, nil
	}
	report, err := migrate.NewEngine(s.backend, s.log).Plan(ctx, s.set)
	switch {
	case errors.Is(err, store.ErrMigrationDrift):
		return store.StateDrift, report
	case err != nil:
		return store.StateMissing, nil
	case len(report.Pending) == 0:
		return store.StateReady, report
	case report.Current == 0:
		return store.StateUninitialized, report
	default:
		return store.StatePending, report
	}
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
