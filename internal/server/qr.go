package server

import (
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

const qrSize = 320

// handleJoinQR renders the room's join link as a PNG so players can scan
// it off a shared screen.
func (s *Server) handleJoinQR(w http.ResponseWriter, r *http.Request) {
	room, err := s.room(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	png, err := qrcode.Encode(s.cfg.JoinURL(room), qrcode.Medium, qrSize)
	if err != nil {
		log.Error().Err(err).Str("room", room).Msg("qr generation failed")
		writeError(w, http.StatusInternalServerError, "qr generation failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}
