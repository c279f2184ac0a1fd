package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/moogar0880/problems"
)

const problemMediaType = "application/problem+json"

// healthHandler reports that the process is alive.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		a.writeProblem(w, r, http.StatusMethodNotAllowed, "method_not_allowed", fmt.Sprintf("%s is not supported", r.Method))
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// statusHandler reports the driver state and the last completed timestep.
func (a *App) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeProblem(w, r, http.StatusMethodNotAllowed, "method_not_allowed", fmt.Sprintf("%s is not supported", r.Method))
		return
	}
	d := a.driver.Load()
	if d == nil {
		a.writeProblem(w, r, http.StatusServiceUnavailable, "not_started", "the run has not been configured yet")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(d.Status()); err != nil {
		a.logger.Error("Failed to encode status.", "error", err)
	}
}

func (a *App) writeProblem(w http.ResponseWriter, r *http.Request, status int, typ, detail string) {
	problem := problems.NewStatusProblem(status).
		WithInstance(r.URL.Path).
		WithType(typ).
		WithDetail(detail)

	w.Header().Set("Content-Type", problemMediaType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem); err != nil {
		a.logger.Error("Failed to encode problem.", "error", err)
	}
}

func (a *App) statusMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	mux.HandleFunc("/status", a.statusHandler)
	return mux
}

// startStatusServer runs the health and status HTTP server in the background.
func (a *App) startStatusServer(port int) {
	a.logger.Debug("Configuring status server.")
	addr := fmt.Sprintf(":%d", port)
	a.httpServer = &http.Server{
		Addr:              addr,
		Handler:           a.statusMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("🩺 Status server starting", "address", fmt.Sprintf("http://localhost%s/status", addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Status server failed unexpectedly", "error", err)
		}
	}()
}

func (a *App) closeStatusServer(ctx context.Context) {
	if a.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	a.logger.Info("🩺 Shutting down status server...")
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("Status server shutdown failed", "error", err)
	}
}
