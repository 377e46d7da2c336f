package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"sketchparty/internal/game"
	"sketchparty/internal/statesync"
)

type saveGameRequest struct {
	GameState json.RawMessage `json:"gameState"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetGame answers {"gameState": null} for a room that does not exist
// yet, the way browsers expect on first load.
func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	room, err := s.room(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, err := s.store.Fetch(r.Context(), room)
	if errors.Is(err, statesync.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"gameState": nil})
		return
	}
	if err != nil {
		writeStoreError(w, room, "fetch", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"gameState": state})
}

func (s *Server) handleSaveGame(w http.ResponseWriter, r *http.Request) {
	room, err := s.room(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req saveGameRequest
	if err := readLenientJSON(http.MaxBytesReader(w, r.Body, maxGameStateBody), &req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidRequest)
		return
	}
	if len(req.GameState) == 0 || string(req.GameState) == "null" {
		writeError(w, http.StatusBadRequest, errInvalidGameState)
		return
	}
	state, err := game.Decode(req.GameState)
	if err != nil {
		writeError(w, http.StatusBadRequest, errInvalidGameState)
		return
	}
	if err := s.store.Upsert(r.Context(), room, state); err != nil {
		writeStoreError(w, room, "upsert", err)
		return
	}
	log.Debug().Str("room", room).Str("phase", string(state.Phase)).Msg("game state saved")
	writeState(w, statesync.StateEnvelope{GameState: state})
}

func (s *Server) handleClearGame(w http.ResponseWriter, r *http.Request) {
	room, err := s.room(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Delete(r.Context(), room); err != nil {
		writeStoreError(w, room, "delete", err)
		return
	}
	log.Info().Str("room", room).Msg("game cleared")
	writeState(w, statesync.StateEnvelope{})
}

func (s *Server) handleSubmitDrawing(w http.ResponseWriter, r *http.Request) {
	room, err := s.room(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req statesync.DrawingRequest
	if err := readJSON(http.MaxBytesReader(w, r.Body, maxDrawingBody), &req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidRequest)
		return
	}
	req, err = validateDrawing(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	drawing := req.Drawing(s.clock.Now())
	state, err := s.store.SubmitDrawing(r.Context(), room, drawing)
	if err != nil {
		writeStoreError(w, room, "submit_drawing", err)
		return
	}
	log.Info().Str("room", room).Str("drawing_id", drawing.ID).Str("author_id", drawing.AuthorID).Msg("drawing submitted")
	writeState(w, statesync.StateEnvelope{GameState: state})
}

func (s *Server) handleSubmitVote(w http.ResponseWriter, r *http.Request) {
	room, err := s.room(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req statesync.VoteRequest
	if err := readJSON(http.MaxBytesReader(w, r.Body, maxSmallBody), &req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidRequest)
		return
	}
	req, err = validateVote(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, err := s.store.SubmitVote(r.Context(), room, req.VoterID, req.DrawingID)
	if err != nil {
		writeStoreError(w, room, "submit_vote", err)
		return
	}
	log.Info().Str("room", room).Str("voter_id", req.VoterID).Str("drawing_id", req.DrawingID).Msg("vote cast")
	writeState(w, statesync.StateEnvelope{GameState: state})
}

func (s *Server) handleUpdatePhase(w http.ResponseWriter, r *http.Request) {
	room, err := s.room(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req statesync.PhaseRequest
	if err := readJSON(http.MaxBytesReader(w, r.Body, maxSmallBody), &req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidRequest)
		return
	}
	if err := validatePhase(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, err := s.store.UpdatePhase(r.Context(), room, req.Update())
	if err != nil {
		writeStoreError(w, room, "update_phase", err)
		return
	}
	log.Info().Str("room", room).Str("from", string(req.From)).Str("to", string(req.To)).Msg("phase updated")
	writeState(w, statesync.StateEnvelope{GameState: state})
}

func (s *Server) handleResetRound(w http.ResponseWriter, r *http.Request) {
	room, err := s.room(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req statesync.ResetRequest
	if err := readJSON(http.MaxBytesReader(w, r.Body, maxSmallBody), &req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidRequest)
		return
	}
	req, err = validateReset(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, err := s.store.ResetRound(r.Context(), room, req.Reset(s.clock.Now(), s.words))
	if err != nil {
		writeStoreError(w, room, "reset_round", err)
		return
	}
	log.Info().Str("room", room).Str("word", state.CurrentWord).Msg("round reset")
	writeState(w, statesync.StateEnvelope{GameState: state})
}
