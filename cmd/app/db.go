package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maloquacious/goobtool/internal/datastore"
	"github.com/maloquacious/goobtool/internal/deploy"
	"github.com/maloquacious/goobtool/internal/logger"
	"github.com/maloquacious/goobtool/internal/migrate"
	"github.com/maloquacious/goobtool/internal/mode"
	"github.com/maloquacious/goobtool/internal/store"
	"github.com/spf13/cobra"
)

// runDBCreate creates the embedded datastore file and applies its schema.
func runDBCreate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	res, err := mode.Resolve(cfg.ModeSettings())
	if err != nil {
		return err
	}
	if res.Mode != mode.Client {
		return errors.New("db create initializes the embedded datastore; use db upgrade in server mode")
	}

	exists, err := store.CheckExists(cfg.DataDir)
	if err != nil {
		return err
	}
	if exists && !force {
		return fmt.Errorf("datastore already exists: %s (use --force to upgrade it)", store.GetDBPath(cfg.DataDir))
	}

	ds, err := datastore.Open(cmd.Context(), res, cfg, log)
	if err != nil {
		return err
	}
	defer ds.Close()

	_, report := ds.Status(cmd.Context())
	log.Info("datastore ready at %s (schema %04d)", store.GetDBPath(cfg.DataDir), current(report))
	return nil
}

// runDBUpgrade is the build pipeline entry point. The process exit status
// follows the orchestrator outcome.
func runDBUpgrade(cmd *cobra.Command, args []string) error {
	outcome := upgrade(cmd)
	_ = writeJSON(outcomeJSON(outcome))
	exitCode = outcome.ExitCode()
	return nil
}

func upgrade(cmd *cobra.Command) deploy.Outcome {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return deploy.Classify(err)
	}
	res, err := mode.Resolve(cfg.ModeSettings())
	if err != nil {
		log.Error("%v", err)
		return deploy.Classify(err)
	}
	set, err := datastore.Migrations(store.KindRelational)
	if err != nil {
		return deploy.Classify(err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o := &deploy.Orchestrator{
		Resolution: res,
		Open: func(res mode.Resolution) (store.Backend, error) {
			return datastore.NewBackend(res, cfg)
		},
		Migrations:     set,
		Features:       cfg.Features,
		Logger:         log,
		HealthAttempts: cfg.Migrate.HealthAttempts,
		RetryDelay:     cfg.Migrate.RetryDelay,
	}
	outcome := o.Run(ctx)
	if outcome.Status == deploy.Fatal {
		log.Error("db upgrade: %s", outcome)
	} else {
		log.Info("db upgrade: %s", outcome)
	}
	return outcome
}

// runDBVerify prints a JSON summary of the schema state without changing it.
func runDBVerify(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	res, err := mode.Resolve(cfg.ModeSettings())
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout(cmd.Context(), cfg.Pool.QueryTimeout)
	defer cancel()

	state, report, err := datastore.Inspect(ctx, res, cfg, log)
	if err != nil {
		return err
	}
	summary := map[string]any{
		"mode":   res.Mode.String(),
		"state":  state.String(),
		"time":   time.Now().UTC().Format(time.RFC3339),
		"schema": current(report),
	}
	if report != nil {
		summary["target"] = report.Target
		summary["pending"] = report.Pending
	}
	if err := writeJSON(summary); err != nil {
		return err
	}
	if state != store.StateReady {
		exitCode = 1
	}
	return nil
}

// runDBQuery runs one read statement through the facade.
func runDBQuery(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	res, err := mode.Resolve(cfg.ModeSettings())
	if err != nil {
		return err
	}

	ds, err := datastore.Open(cmd.Context(), res, cfg, log)
	if err != nil {
		return err
	}
	defer ds.Close()

	params := make([]any, 0, len(args)-1)
	for _, a := range args[1:] {
		params = append(params, a)
	}
	var result *store.Result
	err = retrying(cmd.Context(), cfg.Migrate.HealthAttempts, cfg.Migrate.RetryDelay, log, func() (err error) {
		result, err = ds.Query(cmd.Context(), args[0], params...)
		return err
	})
	if err != nil {
		return err
	}
	return writeJSON(map[string]any{"columns": result.Columns, "rows": result.Rows})
}

// withTimeout bounds ctx by d. A zero or negative d leaves ctx unbounded.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// retrying calls fn until it succeeds, fails with an error that is not
// store.Retryable, or has been called attempts times.
func retrying(ctx context.Context, attempts int, delay time.Duration, log logger.Logger, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !store.Retryable(err) || attempt >= attempts {
			return err
		}
		log.Warn("attempt %d/%d failed, retrying in %s: %v", attempt, attempts, delay, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func outcomeJSON(o deploy.Outcome) map[string]any {
	out := map[string]any{"status": o.Status.String()}
	if o.Kind != "" {
		out["kind"] = o.Kind
	}
	if o.Reason != "" {
		out["reason"] = o.Reason
	}
	if r := o.Report; r != nil {
		out["current"] = r.Current
		out["target"] = r.Target
		out["applied"] = r.Applied
		if r.Failed != 0 {
			out["failed"] = r.Failed
		}
	}
	return out
}

func current(r *migrate.Report) int {
	if r == nil {
		return 0
	}
	return r.Current
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
