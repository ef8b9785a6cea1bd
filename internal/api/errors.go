package api

import (
	"encoding/json"
	"net/http"

	"github.com/allaspectsdev/screenman/internal/apperr"
)

// statusForKind maps an error classification to its HTTP status code.
// Storage and unclassified failures both surface as 500s.
func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInput:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindPrecondition:
		return http.StatusConflict
	case apperr.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as a JSON error envelope with the status derived
// from its kind.
func writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusForKind(apperr.KindOf(err)), err.Error())
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	resp := map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "screener_error",
		},
	}
	data, _ := json.Marshal(resp)
	_, _ = w.Write(data)
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(data)
}
