package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/photobooth-app/photobooth/collection"
)

// MediaHandler serves the catalog and the media files themselves.
type MediaHandler struct {
	Collection *collection.Service
}

// ListItems returns the catalog newest first: GET /api/media?offset=&limit=
func (h *MediaHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := h.Collection.List(offset, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// GetItem returns one catalog entry: GET /api/media/{id}
func (h *MediaHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", "media id must be a uuid")
		return
	}

	item, err := h.Collection.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Collection.Public(item))
}

// GetLatestItem returns the newest entry: GET /api/media/latest
func (h *MediaHandler) GetLatestItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Collection.GetLatest()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Collection.Public(item))
}

// DeleteItem removes one entry and recycles its original: DELETE /api/media/{id}
func (h *MediaHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", "media id must be a uuid")
		return
	}

	if err := h.Collection.Delete(id, true); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAllItems clears the whole catalog: DELETE /api/media
func (h *MediaHandler) DeleteAllItems(w http.ResponseWriter, r *http.Request) {
	if err := h.Collection.DeleteAll(); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type applyFilterRequest struct {
	Filter string `json:"filter"`
}

// ApplyFilter re-runs the processing pipeline with a different filter:
// PATCH /api/media/{id}/filter
func (h *MediaHandler) ApplyFilter(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", "media id must be a uuid")
		return
	}

	var req applyFilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "expected JSON body with 'filter'")
		return
	}

	item, err := h.Collection.ApplyFilter(id, req.Filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Collection.Public(item))
}

// ServeFile streams one representation: GET /media/{variant}/{id}
func (h *MediaHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	variant := collection.Variant(chi.URLParam(r, "variant"))
	switch variant {
	case collection.VariantOriginal, collection.VariantFull, collection.VariantPreview, collection.VariantThumbnail:
	default:
		WriteAPIError(w, http.StatusNotFound, "invalid_variant", "unknown media variant")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", "media id must be a uuid")
		return
	}

	path, err := h.Collection.FilePath(id, variant)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	// http.ServeFile derives the content type from the extension
	http.ServeFile(w, r, path)
}
