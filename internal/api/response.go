// Package api provides the HTTP surface: the messaging webhook and the
// operator endpoints for conversation inspection.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/CaravanDesk/ChatCaravan/internal/models"
)

// fallbackErrorResponse is pre-marshaled at startup so an encoding
// failure at request time still produces a valid JSON body.
var fallbackErrorResponse = mustMarshal(models.Error("Internal server error"))

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("api: failed to marshal fallback response: " + err.Error())
	}
	return data
}

// writeJSONResponse marshals before touching the ResponseWriter so an
// encoding error can still change the status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal response", "error", err)
		data = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		slog.Error("Server.writeJSONResponse: failed to write response", "error", err)
	}
}
