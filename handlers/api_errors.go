package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/photobooth-app/photobooth/processing"
	"github.com/photobooth-app/photobooth/repository"
	"github.com/photobooth-app/photobooth/share"
)

// APIErrorDetail represents a single error in the standardized error response.
type APIErrorDetail struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// APIErrorResponse represents the standardized error response body.
type APIErrorResponse struct {
	Errors []APIErrorDetail `json:"errors"`
}

// WriteAPIError writes a standardized error response with the given HTTP status, code, and detail.
func WriteAPIError(w http.ResponseWriter, httpStatus int, code string, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	resp := APIErrorResponse{
		Errors: []APIErrorDetail{
			{
				Code:   code,
				Status: strconv.Itoa(httpStatus),
				Detail: detail,
			},
		},
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// writeDomainError maps well-known sentinel errors onto HTTP semantics;
// everything else becomes a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		WriteAPIError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, processing.ErrMachineOccupied):
		WriteAPIError(w, http.StatusConflict, "machine_occupied", err.Error())
	case errors.Is(err, share.ErrBlocked):
		WriteAPIError(w, http.StatusTooManyRequests, "share_blocked", err.Error())
	case errors.Is(err, share.ErrQuotaExceeded):
		WriteAPIError(w, http.StatusTooManyRequests, "share_quota_exceeded", err.Error())
	default:
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
