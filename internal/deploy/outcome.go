// Package deploy is the build and deploy pipeline entry point for schema
// changes. It decides whether migrations run at all, runs them, and reduces
// the result to an Outcome the pipeline can turn into an exit status.
package deploy

import (
	"errors"
	"fmt"

	"github.com/maloquacious/goobtool/internal/migrate"
	"github.com/maloquacious/goobtool/internal/store"
)

// Status is the top-level result reported to the pipeline.
type Status int

const (
	Success Status = iota
	Skipped
	Fatal
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Skipped:
		return "skipped"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// FatalKind says why a run was fatal. It is empty unless Status is Fatal.
type FatalKind string

const (
	KindConfiguration FatalKind = "configuration"
	KindConnection    FatalKind = "connection"
	KindCapability    FatalKind = "capability"
	KindMigration     FatalKind = "migration"
	KindDrift         FatalKind = "drift"
)

// ReasonClientMode is the Reason of a run skipped because the process is in client mode.
const ReasonClientMode = "client-mode"

// Outcome is the result of one orchestrator invocation.
type Outcome struct {
	Status Status
	Kind   FatalKind
	Reason string

	// Report is the engine report, nil when the engine never ran.
	Report *migrate.Report

	// Err is the underlying error for a Fatal outcome.
	Err error
}

// ExitCode maps the outcome to a process exit status: zero for Success
// and Skipped, one for Fatal.
func (o Outcome) ExitCode() int {
	if o.Status == Fatal {
		return 1
	}
	return 0
}

func (o Outcome) String() string {
	if o.Status == Fatal {
		return fmt.Sprintf("%s(%s): %s", o.Status, o.Kind, o.Reason)
	}
	if o.Reason == "" {
		return o.Status.String()
	}
	return fmt.Sprintf("%s(%s)", o.Status, o.Reason)
}

// Classify turns an error into a Fatal outcome. A nil error is Success.
func Classify(err error) Outcome {
	if err == nil {
		return Outcome{Status: Success}
	}
	return Outcome{Status: Fatal, Kind: kindOf(err), Reason: err.Error(), Err: err}
}

func kindOf(err error) FatalKind {
	// migration errors first: a step that failed on a timeout is a migration failure
	var me *store.MigrationError
	if errors.As(err, &me) {
		if errors.Is(me.Kind, store.ErrMigrationDrift) {
			return KindDrift
		}
		return KindMigration
	}

	switch {
	case errors.Is(err, store.ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, store.ErrCapabilityMissing):
		return KindCapability
	case errors.Is(err, store.ErrMigrationDrift):
		return KindDrift
	case errors.Is(err, store.ErrConnectionRefused), errors.Is(err, store.ErrTimeout):
		return KindConnection
	default:
		// includes a run cancelled between steps
		return KindMigration
	}
}
