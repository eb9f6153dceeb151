package handlers

import (
	"encoding/json"
	"net/http"

	"worldforge/internal/infra"
	"worldforge/internal/jobstore"
	"worldforge/internal/ledger"
	"worldforge/internal/pipeline"
	"worldforge/internal/progress"
	"worldforge/internal/ratelimit"
)

// App bundles the handler dependencies injected at startup.
type App struct {
	Logger       infra.Logger
	Store        *jobstore.Store
	Hub          *progress.Hub
	Limiter      *ratelimit.Limiter
	Ledger       ledger.Ledger
	Orchestrator *pipeline.Orchestrator
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]string{"error": code, "message": message})
}
