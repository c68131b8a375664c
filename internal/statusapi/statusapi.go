// Package statusapi exposes a small read-only HTTP status surface plus a
// manual sweep trigger, for operator visibility into the coordinator
// without touching its internal locks.
package statusapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// SnapshotView is the JSON shape of one reported snapshot.
type SnapshotView struct {
	ID        int64  `json:"id"`
	Dir       string `json:"dir"`
	CreatedAt string `json:"created_at"`
	Refcount  int    `json:"refcount"`
}

// Controller holds the collaborators the handlers read from, each exposed
// as a closure rather than an interface: the concrete coordinator.State and
// snapshot.Snapshot types this package would otherwise need to mirror are
// owned by their respective packages, and a plain func field sidesteps
// having to keep an interface's method set byte-for-byte in sync with
// theirs.
type Controller struct {
	// State returns the coordinator's current state as a string (State's
	// String method, called by the caller supplying this closure).
	State func() string
	// Snapshots returns the current snapshot registry.
	Snapshots func() []SnapshotView
	// Sweep triggers one out-of-band DeleteOldestIfDeletable call.
	Sweep func(ctx context.Context) (bool, error)
	// FreeBytes reports bytes free on the backing filesystem.
	FreeBytes func() (uint64, error)
}

func (c *Controller) statusHandler(w http.ResponseWriter, r *http.Request) {
	free, err := c.FreeBytes()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"state":          c.State(),
		"snapshot_count": len(c.Snapshots()),
		"free_bytes":     free,
	})
}

func (c *Controller) snapshotsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, c.Snapshots())
}

func (c *Controller) sweepHandler(w http.ResponseWriter, r *http.Request) {
	deleted, err := c.Sweep(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"deleted": deleted})
}

func (c *Controller) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "not found", http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// NewRouter builds the gorilla/mux router, with every route wrapped in
// gorilla/handlers' combined logging middleware.
func NewRouter(c *Controller, logWriter io.Writer) *mux.Router {
	router := mux.NewRouter()
	logged := gorillaHandlers.CombinedLoggingHandler

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Handle("/status", logged(logWriter, http.HandlerFunc(c.statusHandler))).Methods("GET")
	v1.Handle("/snapshots", logged(logWriter, http.HandlerFunc(c.snapshotsHandler))).Methods("GET")
	v1.Handle("/sweep", logged(logWriter, http.HandlerFunc(c.sweepHandler))).Methods("POST")

	router.PathPrefix("/").Handler(logged(logWriter, http.HandlerFunc(c.notFoundHandler)))
	return router
}
