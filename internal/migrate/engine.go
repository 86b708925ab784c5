// Package migrate applies ordered, versioned schema changes to a
// store.Backend and keeps the migration ledger inside that backend.
package migrate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maloquacious/goobtool/internal/logger"
	"github.com/maloquacious/goobtool/internal/store"
)

// State is the engine's position in a run.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateApplying
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateApplying:
		return "applying"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Report summarises a Plan or Run.
type Report struct {
	State   State
	Current int   // highest version in the ledger
	Target  int   // highest version in the migration set
	Applied []int // versions applied by this run
	Pending []int // versions still pending
	Failed  int   // version that failed, zero if none
}

// Engine brings a backend's migration ledger up to date.
// Runs are strictly sequential; concurrent Run calls on one Engine are serialised.
type Engine struct {
	backend store.Backend
	log     logger.Logger
	now     func() time.Time

	run   sync.Mutex
	mu    sync.Mutex
	state State
	step  int
}

// NewEngine creates an Engine for backend.
func NewEngine(backend store.Backend, log logger.Logger) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{backend: backend, log: log, now: time.Now}
}

// State returns the current state and, while applying, the version in flight.
func (e *Engine) State() (State, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.step
}

func (e *Engine) setState(s State, step int) {
	e.mu.Lock()
	e.state, e.step = s, step
	e.mu.Unlock()
}

// Plan scans the ledger and reports pending migrations without applying any.
func (e *Engine) Plan(ctx context.Context, set []Migration) (*Report, error) {
	report := &Report{State: StateScanning}
	pending, current, err := e.scan(ctx, set)
	if err != nil {
		report.State = StateFailed
		return report, err
	}
	report.Current = current
	report.Target = len(set)
	for _, m := range pending {
		report.Pending = append(report.Pending, m.Version)
	}
	report.State = StateIdle
	return report, nil
}

// Run applies every pending migration in ascending order. It stops at the
// first failure, leaving the ledger at the last applied version.
//
// Cancellation is honoured only between steps; a step that has started
// runs to completion or failure.
func (e *Engine) Run(ctx context.Context, set []Migration) (*Report, error) {
	e.run.Lock()
	defer e.run.Unlock()

	report := &Report{Target: len(set)}
	fail := func(version int, err error) (*Report, error) {
		report.State, report.Failed = StateFailed, version
		e.setState(StateFailed, version)
		e.log.Error("migration run failed: %v", err)
		return report, err
	}

	e.setState(StateScanning, 0)
	e.log.Debug("scanning migration ledger on %s backend", e.backend.Kind())

	pending, current, err := e.scan(ctx, set)
	report.Current = current
	if err != nil {
		return fail(0, err)
	}
	for _, m := range pending {
		report.Pending = append(report.Pending, m.Version)
	}
	if len(pending) == 0 {
		report.State = StateComplete
		e.setState(StateComplete, 0)
		e.log.Info("schema is current at version %04d", current)
		return report, nil
	}

	var caps store.Capabilities
	if needsCapabilities(pending) {
		if caps, err = e.backend.Capabilities(ctx); err != nil {
			return fail(0, fmt.Errorf("read backend capabilities: %w", err))
		}
	}

	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return fail(0, fmt.Errorf("migration run cancelled before %s: %w", m, err))
		}
		for _, c := range m.Requires {
			if !caps.Has(c) {
				return fail(m.Version, &store.CapabilityError{Capability: c, Version: m.Version, Name: m.Name})
			}
		}

		e.setState(StateApplying, m.Version)
		e.log.Info("applying migration %s", m)
		start := time.Now()

		rec := store.Record{Version: m.Version, Name: m.Name, Checksum: m.Checksum(), AppliedAt: e.now().UTC()}
		stored, already, err := e.backend.ApplyMigration(context.WithoutCancel(ctx), rec, m.Content)
		if err != nil {
			return fail(m.Version, store.NewMigrationError(store.ErrMigrationFailed, m.Version, m.Name, "", err))
		}
		if already {
			if stored.Checksum != rec.Checksum {
				return fail(m.Version, store.NewMigrationError(store.ErrMigrationDrift, m.Version, m.Name,
					fmt.Sprintf("recorded checksum %s does not match %s", short(stored.Checksum), short(rec.Checksum)), nil))
			}
			e.log.Info("migration %s was applied by a concurrent run", m)
		} else {
			report.Applied = append(report.Applied, m.Version)
			e.log.Info("applied migration %s in %s", m, time.Since(start).Round(time.Millisecond))
		}

		report.Current = m.Version
		report.Pending = report.Pending[1:]
	}

	report.State = StateComplete
	e.setState(StateComplete, 0)
	e.log.Info("schema is current at version %04d (%d applied)", report.Current, len(report.Applied))
	return report, nil
}

// scan validates the set, reads the ledger and checks every record against
// its definition. It returns the pending tail and the current version.
func (e *Engine) scan(ctx context.Context, set []Migration) ([]Migration, int, error) {
	if err := Validate(set); err != nil {
		return nil, 0, err
	}

	records, err := e.backend.Records(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("read migration ledger: %w", err)
	}

	for i, rec := range records {
		if rec.Version != i+1 {
			return nil, i, store.NewMigrationError(store.ErrMigrationDrift, i+1, "", "missing from ledger", nil)
		}
		if rec.Version > len(set) {
			return nil, i, store.NewMigrationError(store.ErrMigrationDrift, rec.Version, rec.Name, "recorded in ledger but unknown to this build", nil)
		}
		def := set[rec.Version-1]
		if sum := def.Checksum(); sum != rec.Checksum {
			return nil, i, store.NewMigrationError(store.ErrMigrationDrift, rec.Version, def.Name,
				fmt.Sprintf("recorded checksum %s does not match %s", short(rec.Checksum), short(sum)), nil)
		}
	}

	current := len(records)
	return set[current:], current, nil
}

func needsCapabilities(set []Migration) bool {
	for _, m := range set {
		if len(m.Requires) > 0 {
			return true
		}
	}
	return false
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
