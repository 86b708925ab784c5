package store

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks missing or ambiguous configuration. Always fatal.
	ErrConfiguration = errors.New("configuration error")

	// ErrConnectionRefused marks a relational backend that refused or failed the dial.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrTimeout marks an operation that ran out of time, including pool waits.
	ErrTimeout = errors.New("timeout")

	// ErrCapabilityMissing marks a migration requirement the backend cannot meet.
	ErrCapabilityMissing = errors.New("capability missing")

	// ErrMigrationDrift marks a ledger that disagrees with the migration set.
	ErrMigrationDrift = errors.New("migration drift")

	// ErrMigrationFailed marks a migration whose content failed to apply.
	ErrMigrationFailed = errors.New("migration failed")

	// ErrStorage marks an embedded backend failure.
	ErrStorage = errors.New("storage error")

	// ErrClosed is returned by a backend used after Close or before Open.
	ErrClosed = errors.New("backend is closed")

	// ErrNotReady is returned when the schema has not been migrated.
	ErrNotReady = errors.New("datastore not ready")
)

// MigrationError reports a failure tied to one migration version.
//
// Kind is one of ErrMigrationFailed or ErrMigrationDrift. The underlying
// error (if any) can be accessed via errors.Unwrap.
type MigrationError struct {
	Version int
	Name    string
	Kind    error
	Detail  string
	cause   error
}

// NewMigrationError builds a MigrationError of the given kind.
func NewMigrationError(kind error, version int, name, detail string, cause error) *MigrationError {
	return &MigrationError{Version: version, Name: name, Kind: kind, Detail: detail, cause: cause}
}

func (e *MigrationError) Error() string {
	msg := fmt.Sprintf("%v: migration %04d", e.Kind, e.Version)
	if e.Name != "" {
		msg += " (" + e.Name + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *MigrationError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.cause}
}

// CapabilityError reports a migration whose declared requirement is unmet.
type CapabilityError struct {
	Capability Capability
	Version    int
	Name       string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%v: migration %04d (%s) requires %q", ErrCapabilityMissing, e.Version, e.Name, e.Capability)
}

func (e *CapabilityError) Unwrap() error { return ErrCapabilityMissing }

// Configurationf returns an error wrapping ErrConfiguration.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Retryable reports whether a caller serving steady-state traffic may retry err.
// Errors raised during a migration run are never retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var me *MigrationError
	if errors.As(err, &me) {
		return false
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionRefused)
}
