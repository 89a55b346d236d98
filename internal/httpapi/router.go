// Package httpapi exposes the sync engine over HTTP: linking provider
// accounts, triggering syncs, and reading back the stored library.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/questlog/questlog/internal/provider"
	"github.com/questlog/questlog/internal/store"
	"github.com/questlog/questlog/internal/syncer"
)

// NewRouter assembles the API routes.
func NewRouter(st store.Store, linker *syncer.Linker, orchestrator *syncer.Orchestrator, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/providers", ProvidersHandler())
		r.Post("/accounts/{provider}/link", LinkAccountHandler(linker, log))
		r.Get("/accounts", ListAccountsHandler(st))
		r.Post("/accounts/{id}/sync", SyncAccountHandler(orchestrator, log))
		r.Get("/accounts/{id}/games", ListGamesHandler(st))
	})

	return r
}

// ProvidersHandler lists the provider IDs the service knows about.
func ProvidersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"providers": provider.All()})
	}
}
