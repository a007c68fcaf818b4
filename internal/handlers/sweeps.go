package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/PortNumber53/adroom/backend/internal/metrics"
)

// RunSweep triggers one pass of a registered background sweep synchronously.
// URL: POST /internal/sweeps/{name}
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	name := pathVar(r, "name")
	fn, ok := h.sweeps[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown sweep", "sweeps": h.SweepNames()})
		return
	}
	started := time.Now()
	result, err := fn(r.Context())
	metrics.ObserveSweep(name, started, err)
	if err != nil {
		log.Printf("[Sweep] manual run failed sweep=%s err=%v", name, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Printf("[Sweep] manual run done sweep=%s took=%s", name, time.Since(started).Round(time.Millisecond))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sweep": name, "result": result})
}
