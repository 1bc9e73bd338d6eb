package api

import (
	"encoding/json"
	"net/http"

	"github.com/perstream/checkout/utils"
)

const (
	maxPageLimit    = 100
	maxRequestBytes = 1 << 20
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// writeError maps service errors onto HTTP responses. Validation failures
// carry per-field details, canonical API errors carry their own status code,
// anything else is classified by GetHTTPStatusFromError.
func writeError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case utils.ValidationErrors:
		writeJSON(w, http.StatusBadRequest, e.ToJSON())
	case *utils.APIError:
		writeJSON(w, e.Code, e)
	default:
		writeJSON(w, utils.GetHTTPStatusFromError(err), ErrorResponse{Error: err.Error()})
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}
