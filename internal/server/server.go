// Package server is the fallback HTTP surface for rooms: whole-state reads
// and writes, the narrow operations, a websocket change feed and a join QR
// code.
package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"

	"sketchparty/internal/config"
	"sketchparty/internal/game"
	"sketchparty/internal/statesync"
)

type Server struct {
	store  statesync.RemoteStore
	ws     *wsHub
	cfg    config.Config
	words  *game.WordBank
	clock  clockwork.Clock
	origin string
}

type Option func(*Server)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

func WithWordBank(words *game.WordBank) Option {
	return func(s *Server) {
		if words != nil {
			s.words = words
		}
	}
}

// New serves rooms out of store. A nil store keeps rooms in memory, which
// matches a single-process deployment without a database.
func New(store statesync.RemoteStore, cfg config.Config, opts ...Option) *Server {
	if store == nil {
		store = statesync.NewMemoryStore()
	}
	s := &Server{
		store:  store,
		ws:     newWSHub(),
		cfg:    cfg,
		words:  game.DefaultWordBank(),
		clock:  clockwork.NewRealClock(),
		origin: "server-" + uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/game", s.handleGetGame)
	mux.HandleFunc("POST /api/game", s.handleSaveGame)
	mux.HandleFunc("DELETE /api/game", s.handleClearGame)
	mux.HandleFunc("POST /api/game/drawings", s.handleSubmitDrawing)
	mux.HandleFunc("POST /api/game/votes", s.handleSubmitVote)
	mux.HandleFunc("POST /api/game/phase", s.handleUpdatePhase)
	mux.HandleFunc("POST /api/game/reset", s.handleResetRound)
	mux.HandleFunc("GET /api/game/qr", s.handleJoinQR)
	mux.HandleFunc("GET /ws/game", s.handleWebsocket)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
		},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(mux)
}

// Close stops every room feed and drops connected sockets.
func (s *Server) Close() {
	s.ws.Close()
}

func (s *Server) room(r *http.Request) (string, error) {
	return validateRoom(statesync.RoomFromRequest(r, s.cfg.DefaultRoom))
}
