package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/photobooth-app/photobooth/collection"
	"github.com/photobooth-app/photobooth/share"
)

// ShareHandler dispatches the configured share/print actions.
type ShareHandler struct {
	Dispatcher *share.Dispatcher
	Collection *collection.Service
}

// ListActions returns the configured action names: GET /api/share
func (h *ShareHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Dispatcher.Actions())
}

// ShareItem runs one share action against a media item:
// POST /api/share/{index}/{id}
func (h *ShareHandler) ShareItem(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_index", "share action index must be a number")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", "media id must be a uuid")
		return
	}

	path, err := h.Collection.FilePath(id, collection.VariantOriginal)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.Dispatcher.Share(index, path); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "shared"})
}

// ResetLimits clears quota and cooldown: POST /api/share/limits/reset
// An optional ?action= query limits the reset to one action.
func (h *ShareHandler) ResetLimits(w http.ResponseWriter, r *http.Request) {
	if err := h.Dispatcher.ResetLimits(r.URL.Query().Get("action")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
