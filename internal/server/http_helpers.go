package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"sketchparty/internal/statesync"
)

const (
	errInvalidRequest   = "Invalid request"
	errInvalidGameState = "Invalid game state"
	errGameNotFound     = "Game not found"
	errStoreUnavailable = "Store unavailable"
)

func readJSON(body io.Reader, dest any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// readLenientJSON ignores keys dest does not declare. Browsers post the
// whole-state body with extra fields of their own.
func readLenientJSON(body io.Reader, dest any) error {
	return json.NewDecoder(body).Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, statesync.StateEnvelope{
		Success: false,
		Error:   message,
	})
}

func writeState(w http.ResponseWriter, envelope statesync.StateEnvelope) {
	envelope.Success = true
	writeJSON(w, http.StatusOK, envelope)
}

// writeStoreError maps store sentinels onto status codes. Anything else is
// logged and reported as 500.
func writeStoreError(w http.ResponseWriter, room, op string, err error) {
	switch {
	case errors.Is(err, statesync.ErrNotFound):
		writeError(w, http.StatusNotFound, errGameNotFound)
	case errors.Is(err, statesync.ErrRejected):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Str("room", room).Str("op", op).Msg("store operation failed")
		writeError(w, http.StatusInternalServerError, errStoreUnavailable)
	}
}
