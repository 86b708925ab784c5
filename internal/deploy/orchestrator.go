package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maloquacious/goobtool/internal/logger"
	"github.com/maloquacious/goobtool/internal/migrate"
	"github.com/maloquacious/goobtool/internal/mode"
	"github.com/maloquacious/goobtool/internal/store"
)

// OpenFunc builds the backend for a server-mode resolution. The orchestrator
// opens and closes it.
type OpenFunc func(res mode.Resolution) (store.Backend, error)

// Orchestrator runs the migration set for one pipeline invocation.
// It is safe to run repeatedly against the same backend.
type Orchestrator struct {
	Resolution mode.Resolution
	Open       OpenFunc

	// Migrations is the full definition set; Features selects the optional tail.
	Migrations []migrate.Migration
	Features   []string

	Logger logger.Logger

	// HealthAttempts bounds health checks that time out; a refused
	// connection is never retried. RetryDelay separates attempts.
	HealthAttempts int
	RetryDelay     time.Duration
}

// Run executes the decision table:
//
//	client mode                  -> Skipped(client-mode), nothing is opened
//	server, backend unreachable  -> Fatal(connection)
//	server, capability missing   -> Fatal(capability), nothing applied
//	server, engine Failed        -> Fatal(migration) or Fatal(drift)
//	server, engine Complete      -> Success
func (o *Orchestrator) Run(ctx context.Context) Outcome {
	log := o.Logger
	if log == nil {
		log = logger.Discard()
	}

	if o.Resolution.Mode == mode.Client {
		log.Info("client mode: skipping schema migrations")
		return Outcome{Status: Skipped, Reason: ReasonClientMode}
	}
	if o.Resolution.Descriptor == nil {
		return Classify(store.Configurationf("server mode resolution has no connection descriptor"))
	}
	if o.Open == nil {
		return Classify(store.Configurationf("no backend opener configured"))
	}

	set, err := migrate.Select(o.Migrations, o.Features)
	if err != nil {
		return Classify(err)
	}

	backend, err := o.Open(o.Resolution)
	if err != nil {
		return Classify(err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn("close backend: %v", err)
		}
	}()

	log.Info("server mode: migrating %s", o.Resolution.Descriptor)
	if err := backend.Open(ctx); err != nil {
		return Classify(err)
	}
	if err := o.waitHealthy(ctx, backend, log); err != nil {
		return Classify(err)
	}

	engine := migrate.NewEngine(backend, log)

	plan, err := engine.Plan(ctx, set)
	if err != nil {
		return withReport(Classify(err), plan)
	}
	if err := checkCapabilities(ctx, backend, set, plan.Pending); err != nil {
		log.Error("%v", err)
		return withReport(Classify(err), plan)
	}

	report, err := engine.Run(ctx, set)
	if err != nil {
		return withReport(Classify(err), report)
	}
	return Outcome{
		Status: Success,
		Reason: fmt.Sprintf("schema at version %04d, %d applied", report.Current, len(report.Applied)),
		Report: report,
	}
}

// waitHealthy retries health checks that time out. Anything else is returned at once.
func (o *Orchestrator) waitHealthy(ctx context.Context, backend store.Backend, log logger.Logger) error {
	attempts := max(o.HealthAttempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = backend.HealthCheck(ctx); err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrTimeout) || attempt == attempts {
			break
		}
		log.Warn("health check %d/%d timed out, retrying in %s", attempt, attempts, o.RetryDelay)

		timer := time.NewTimer(o.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: health check abandoned: %w", store.ErrTimeout, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("backend is not reachable: %w", err)
}

// checkCapabilities fails before any step is applied when a pending
// migration needs something the backend lacks.
func checkCapabilities(ctx context.Context, backend store.Backend, set []migrate.Migration, pending []int) error {
	var caps store.Capabilities
	for _, v := range pending {
		m := set[v-1]
		for _, c := range m.Requires {
			if caps == nil {
				var err error
				if caps, err = backend.Capabilities(ctx); err != nil {
					return fmt.Errorf("read backend capabilities: %w", err)
				}
			}
			if !caps.Has(c) {
				return &store.CapabilityError{Capability: c, Version: m.Version, Name: m.Name}
			}
		}
	}
	return nil
}

func withReport(o Outcome, r *migrate.Report) Outcome {
	o.Report = r
	return o
}
