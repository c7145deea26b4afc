// Package statusapi exposes a small read-only HTTP surface over a running
// or completed reconciliation session: session progress, its changelog,
// and Prometheus metrics, grounded on internal/api/router.go's
// mux.Router-plus-middleware shape but pared down to what an operator
// watching a batch run actually needs.
package statusapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bamops/reconciler/internal/checkpoint"
	"github.com/bamops/reconciler/internal/rollback"
	"github.com/bamops/reconciler/pkg/logger"
)

// Config wires the router to its backing checkpoint store and changelog
// directory; both are read-only from this package's perspective.
type Config struct {
	Store        checkpoint.Store
	ChangelogDir string
	Logger       *slog.Logger
}

// NewRouter builds the status API's route table.
func NewRouter(cfg Config) *mux.Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	router := mux.NewRouter()
	router.Use(logger.LoggingMiddleware(cfg.Logger))

	router.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/status/{session_id}", statusHandler(cfg)).Methods(http.MethodGet)
	router.HandleFunc("/history/{session_id}", historyHandler(cfg)).Methods(http.MethodGet)

	router.Handle("/live/{session_id}", liveHandler(cfg))

	return router
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func statusHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := mux.Vars(r)["session_id"]

		cp, err := cfg.Store.LatestCheckpoint(r.Context(), sessionID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if cp == nil {
			writeError(w, http.StatusNotFound, errNotFound(sessionID))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(cp)
	}
}

func historyHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := mux.Vars(r)["session_id"]

		results, err := rollback.ReadChangelog(cfg.ChangelogDir, sessionID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(results)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

type notFoundError string

func (e notFoundError) Error() string { return string(e) }

func errNotFound(sessionID string) error {
	return notFoundError("no checkpoint recorded for session " + sessionID)
}
