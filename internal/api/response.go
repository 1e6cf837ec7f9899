// Package api provides HTTP response utilities for IntakePipe.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// fallbackErrorResponse is written when a response cannot be encoded.
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("failed to marshal fallback error response: %v", err))
	}
}

// writeJSONResponse encodes response before any header is written, so an
// encoding failure still yields a well-formed 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err, "status", statusCode)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Warn("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}
