package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/maloquacious/goobtool/internal/datastore"
	"github.com/maloquacious/goobtool/internal/logger"
	"github.com/maloquacious/goobtool/internal/mode"
	"github.com/maloquacious/goobtool/internal/store"
	"github.com/spf13/cobra"
)

// runServe binds the datastore, then starts both the public (HTML) and
// admin (JSON) servers with graceful shutdown.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	res, err := mode.Resolve(cfg.ModeSettings())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ds, err := datastore.Open(ctx, res, cfg, log)
	if err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	defer ds.Close()
	log.Info("%s mode datastore ready", res.Mode)

	publicMux := http.NewServeMux()
	adminMux := http.NewServeMux()

	// --- Public routes (HTML/HTMX) ---
	publicMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(publicDir, "index.html"))
	})

	publicMux.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	publicMux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		state, _ := ds.Status(r.Context())
		if state != store.StateReady {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(strings.ToUpper(state.String())))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	})

	// Static under /public/* (maps to ./public)
	publicMux.Handle("/public/", http.StripPrefix("/public/", http.FileServer(http.Dir(publicDir))))

	// --- Admin routes (JSON-only, loopback only) ---
	adminMux.Handle("/admin/status", jsonOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state, report := ds.Status(r.Context())
		resp := map[string]any{
			"version":       version.String(),
			"schemaVersion": current(report),
			"schemaState":   state.String(),
			"buildDate":     buildDate,
			"time":          time.Now().UTC().Format(time.RFC3339),
			"mode":          res.Mode.String(),
		}
		_ = json.NewEncoder(w).Encode(resp)
	})))

	shutdown := make(chan struct{}, 1)
	adminMux.Handle("/admin/shutdown", jsonOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "shutting down"})
		select {
		case shutdown <- struct{}{}:
		default:
		}
	})))

	// HTTP servers
	publicSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: publicMux,
	}

	// Bind admin to 127.0.0.1 only (loopback enforcement)
	adminListener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", adminPort))
	if err != nil {
		return fmt.Errorf("admin listener bind failed (loopback only): %w", err)
	}
	adminSrv := &http.Server{
		Handler: adminMux,
	}

	errCh := make(chan error, 2)

	go func() {
		log.Info("public server listening on :%d", port)
		if err := publicSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("public server error: %w", err)
		}
	}()

	go func() {
		log.Info("admin server listening on 127.0.0.1:%d (JSON-only)", adminPort)
		if err := adminSrv.Serve(adminListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin server error: %w", err)
		}
	}()

	// Optional run timer
	var timer <-chan time.Time
	if exitAfter > 0 {
		log.Info("exit-after timer set: %s", exitAfter)
		timer = time.After(exitAfter)
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case <-shutdown:
		log.Info("shutdown requested via admin endpoint")
	case <-timer:
	case serveErr = <-errCh:
		log.Error("server error: %v", serveErr)
	}

	return shutdownServers(log, serveErr, publicSrv, adminSrv)
}

// shutdownServers stops every server and returns cause joined with any
// shutdown failures.
func shutdownServers(log logger.Logger, cause error, servers ...*http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTO)
	defer cancel()

	errs := []error{cause}
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	log.Info("shutdown complete")
	return errors.Join(errs...)
}

// jsonOnly enforces JSON-only contract for admin routes.
func jsonOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Require Accept: application/json (at least for admin)
		accept := r.Header.Get("Accept")
		if !strings.Contains(accept, "application/json") && accept != "" {
			writeJSONError(w, http.StatusNotAcceptable, "not_acceptable", "Accept must include application/json")
			return
		}
		if r.Method != http.MethodGet && !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "Content-Type must be application/json")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": msg,
	})
}
