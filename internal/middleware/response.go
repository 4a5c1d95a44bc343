package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// errorResponse is the JSON body written for any non-2xx response produced
// by middleware itself (as opposed to the fetch handler, which maps
// types.FetchError to the same {"error": ...} shape via its own writeErrorJSON).
type errorResponse struct {
	Error string `json:"error"`
}

// writeErrorResponse writes a minimal JSON error body with the given status.
func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(errorResponse{Error: message}); err != nil {
		log.Error().Err(err).Str("message", message).Msg("failed to encode middleware error response")
	}
}
