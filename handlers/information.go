package handlers

import (
	"net/http"

	"github.com/photobooth-app/photobooth/information"
)

// InformationHandler exposes usage statistics and installation facts.
type InformationHandler struct {
	Information *information.Service
}

// GetStats returns the usage counters: GET /api/information/stats
func (h *InformationHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	counters, err := h.Information.Counters()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counters)
}

// ResetStats clears the usage counters: POST /api/information/stats/reset
// An optional ?action= query limits the reset to one counter.
func (h *InformationHandler) ResetStats(w http.ResponseWriter, r *http.Request) {
	if err := h.Information.ResetCounters(r.URL.Query().Get("action")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
