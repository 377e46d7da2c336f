package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"sketchparty/internal/statesync"
)

const wsWriteTimeout = 5 * time.Second

// wsConn serializes writes; gorilla connections allow one writer at a time.
type wsConn struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msg statesync.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(msg)
}

// write requires c.mu.
func (c *wsConn) write(msg statesync.Message) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(msg)
}

// wsHub groups sockets by room. Each room with at least one socket has a
// feed following the store.
type wsHub struct {
	mu     sync.Mutex
	groups map[string]map[*wsConn]struct{}
	feeds  map[string]context.CancelFunc
}

func newWSHub() *wsHub {
	return &wsHub{
		groups: make(map[string]map[*wsConn]struct{}),
		feeds:  make(map[string]context.CancelFunc),
	}
}

// Add registers conn and reports whether it is the room's first socket.
func (h *wsHub) Add(room string, conn *wsConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.groups[room]
	first := group == nil
	if first {
		group = make(map[*wsConn]struct{})
		h.groups[room] = group
	}
	group[conn] = struct{}{}
	return first
}

// SetFeed records the cancel func for a room feed. If the room emptied
// while the feed was starting, the feed is stopped at once.
func (h *wsHub) SetFeed(room string, cancel context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.groups[room] == nil {
		cancel()
		return
	}
	h.feeds[room] = cancel
}

func (h *wsHub) Remove(room string, conn *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.groups[room]
	if group == nil {
		return
	}
	if _, ok := group[conn]; !ok {
		return
	}
	delete(group, conn)
	_ = conn.conn.Close()
	if len(group) == 0 {
		delete(h.groups, room)
		if cancel := h.feeds[room]; cancel != nil {
			cancel()
			delete(h.feeds, room)
		}
	}
}

func (h *wsHub) Broadcast(room string, msg statesync.Message) {
	h.mu.Lock()
	group := h.groups[room]
	conns := make([]*wsConn, 0, len(group))
	for conn := range group {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		if err := conn.send(msg); err != nil {
			h.Remove(room, conn)
		}
	}
}

func (h *wsHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, cancel := range h.feeds {
		cancel()
		delete(h.feeds, room)
	}
	for room, group := range h.groups {
		for conn := range group {
			_ = conn.conn.Close()
		}
		delete(h.groups, room)
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	room, err := s.room(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &wsConn{id: uuid.NewString(), conn: raw}
	log.Info().Str("room", room).Str("conn_id", conn.id).Str("remote", r.RemoteAddr).Msg("ws connected")
	// Broadcasts wait for the replay, so a commit racing the fetch reaches
	// the socket after the older replayed value.
	conn.mu.Lock()
	if s.ws.Add(room, conn) {
		s.follow(room)
	}
	if state, err := s.store.Fetch(r.Context(), room); err == nil {
		_ = conn.write(statesync.NewUpdateMessage(s.origin, state, s.clock.Now()))
	}
	conn.mu.Unlock()
	go s.readWS(room, conn)
}

// readWS drains the socket until the peer goes away. Clients never send
// state over the socket; writes go through the HTTP endpoints.
func (s *Server) readWS(room string, conn *wsConn) {
	defer s.ws.Remove(room, conn)
	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			log.Info().Str("room", room).Str("conn_id", conn.id).Err(err).Msg("ws disconnected")
			return
		}
	}
}

// follow relays store changes for room to its sockets until the last
// socket leaves.
func (s *Server) follow(room string) {
	ctx, cancel := context.WithCancel(context.Background())
	changes, err := s.store.Watch(ctx, room)
	if err != nil {
		cancel()
		log.Error().Err(err).Str("room", room).Msg("store watch failed")
		return
	}
	s.ws.SetFeed(room, cancel)
	go func() {
		for change := range changes {
			if change.State == nil {
				s.ws.Broadcast(room, statesync.NewClearMessage(s.origin, s.clock.Now()))
				continue
			}
			s.ws.Broadcast(room, statesync.NewUpdateMessage(s.origin, change.State, s.clock.Now()))
		}
	}()
}
