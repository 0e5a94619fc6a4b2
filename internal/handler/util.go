// Package handler implements the gateway's HTTP and WebSocket endpoints.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/finchat/assistant/internal/model"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, model.ErrorResponse{
		Error:   message,
		Details: details,
	})
}
