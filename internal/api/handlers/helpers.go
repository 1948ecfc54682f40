package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/matiasleandrokruk/velune/internal/domain/relay"
)

const (
	headerContentType = "Content-Type"
	mimeJSON          = "application/json"
	mimeEventStream   = "text/event-stream"
)

// writeJSON writes v with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(headerContentType, mimeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"detail":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response in the {"detail": ...} shape.
func writeError(w http.ResponseWriter, statusCode int, detail string) {
	writeJSON(w, statusCode, map[string]string{"detail": detail})
}

// writeRelayError maps a classified failure to its status code and detail.
func writeRelayError(w http.ResponseWriter, err error) {
	status := relay.KindOf(err).StatusCode()
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	writeError(w, status, relay.Detail(err))
}
