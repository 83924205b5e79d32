package handlers

import (
	"fmt"
	"log"
	"net/http"

	"github.com/photobooth-app/photobooth/acquisition"
)

// StreamHandler serves the MJPEG live preview.
type StreamHandler struct {
	Supervisor *acquisition.Supervisor
}

// ServeMJPEG streams multipart JPEG frames until the client disconnects:
// GET /api/stream.mjpg
func (h *StreamHandler) ServeMJPEG(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteAPIError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot stream")
		return
	}

	w.Header().Set("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", acquisition.StreamBoundary))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "close")

	frames := h.Supervisor.GenStream(r.Context())
	for part := range frames {
		if _, err := w.Write(part); err != nil {
			log.Printf("handlers: mjpeg client gone: %v", err)
			return
		}
		flusher.Flush()
	}
}
