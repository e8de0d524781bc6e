// Package control exposes operator endpoints for a running engine.
package control

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"polyarb-go/internal/engine"
)

// Register mounts the control routes on mux:
//
//	GET  /status   controller summary
//	POST /pause    halt new trades
//	POST /resume   clear a pause or a tripped breaker
//	GET  /config   active settings
//	POST /config   partial settings update, validated before it applies
//	GET  /trades   in-memory trade log, ?limit=N keeps the newest N
func Register(mux *http.ServeMux, ctrl *engine.Controller, log zerolog.Logger) {
	h := &handler{ctrl: ctrl, log: log.With().Str("component", "control").Logger()}
	mux.HandleFunc("GET /status", h.status)
	mux.HandleFunc("POST /pause", h.pause)
	mux.HandleFunc("POST /resume", h.resume)
	mux.HandleFunc("GET /config", h.getConfig)
	mux.HandleFunc("POST /config", h.setConfig)
	mux.HandleFunc("GET /trades", h.trades)
}

type handler struct {
	ctrl *engine.Controller
	log  zerolog.Logger
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

func (h *handler) pause(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Pause(r.Context())
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

func (h *handler) resume(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Resume(r.Context())
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

func (h *handler) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Settings())
}

// setConfig decodes the body over the active settings, so omitted fields keep
// their current values.
func (h *handler) setConfig(w http.ResponseWriter, r *http.Request) {
	next := h.ctrl.Settings()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, "decode settings: "+err.Error())
		return
	}
	if err := h.ctrl.Reconfigure(next); err != nil {
		h.log.Warn().Err(err).Msg("rejected settings update")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Settings())
}

func (h *handler) trades(w http.ResponseWriter, r *http.Request) {
	trades := h.ctrl.Trades()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if n < len(trades) {
			trades = trades[len(trades)-n:]
		}
	}
	writeJSON(w, http.StatusOK, trades)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
