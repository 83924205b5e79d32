package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/photobooth-app/photobooth/processing"
)

// ActionsHandler exposes the job state machine triggers.
type ActionsHandler struct {
	Processing *processing.Service
}

// TriggerAction starts a job: POST /api/actions/{kind}/{index}
func (h *ActionsHandler) TriggerAction(w http.ResponseWriter, r *http.Request) {
	kind := processing.ActionKind(chi.URLParam(r, "kind"))
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_index", "action index must be a number")
		return
	}

	if err := h.Processing.TriggerAction(kind, index); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

// ConfirmCapture approves the capture waiting in the approval state.
func (h *ActionsHandler) ConfirmCapture(w http.ResponseWriter, r *http.Request) {
	if err := h.Processing.ContinueProcess(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

// RejectCapture discards the capture waiting in the approval state.
func (h *ActionsHandler) RejectCapture(w http.ResponseWriter, r *http.Request) {
	if err := h.Processing.RejectCapture(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// AbortProcess cancels the running job.
func (h *ActionsHandler) AbortProcess(w http.ResponseWriter, r *http.Request) {
	if err := h.Processing.AbortProcess(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

// StopRecording ends a running video recording early.
func (h *ActionsHandler) StopRecording(w http.ResponseWriter, r *http.Request) {
	if err := h.Processing.StopRecording(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}
