// Package statesync keeps one room's GameState observable by every
// participant. Values arrive from three places: the cross-instance bus, the
// remote store's change feed and explicit fetches. All of them land in the
// same local cache and listener fan-out.
package statesync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sketchparty/internal/game"
)

const DefaultRoom = "default"

var (
	ErrNotFound = errors.New("room not found")
	ErrRejected = errors.New("operation rejected")
)

// RemoteStore is the shared store holding one state row per room. The four
// narrow operations are atomic inside the store; Upsert replaces the whole
// row and is last-write-wins.
type RemoteStore interface {
	Fetch(ctx context.Context, room string) (*game.State, error)
	Upsert(ctx context.Context, room string, state *game.State) error
	Delete(ctx context.Context, room string) error
	SubmitDrawing(ctx context.Context, room string, drawing game.Drawing) (*game.State, error)
	SubmitVote(ctx context.Context, room, voterID, drawingID string) (*game.State, error)
	UpdatePhase(ctx context.Context, room string, update game.PhaseUpdate) (*game.State, error)
	ResetRound(ctx context.Context, room string, reset game.RoundReset) (*game.State, error)
	Watch(ctx context.Context, room string) (<-chan Change, error)
}

// Change is one committed write. A nil State means the room was cleared.
type Change struct {
	Room  string
	State *game.State
}

const (
	MessageStateUpdate = "state-update"
	MessageStateClear  = "state-clear"
)

// Message travels over the bus and the fallback websocket.
type Message struct {
	Type      string      `json:"type"`
	Origin    string      `json:"origin,omitempty"`
	State     *game.State `json:"state,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func NewUpdateMessage(origin string, state *game.State, at time.Time) Message {
	return Message{Type: MessageStateUpdate, Origin: origin, State: state, Timestamp: at.UnixMilli()}
}

func NewClearMessage(origin string, at time.Time) Message {
	return Message{Type: MessageStateClear, Origin: origin, Timestamp: at.UnixMilli()}
}

// Bus carries state between instances sharing a room without a store
// round-trip.
type Bus interface {
	Publish(ctx context.Context, room string, msg Message) error
	Subscribe(room string, fn func(Message)) (func(), error)
}

// Cache mirrors the last seen state per room so new listeners get a value
// before the first fetch completes.
type Cache interface {
	Load(room string) (*game.State, bool)
	Save(room string, state *game.State)
	Remove(room string)
}

// RoomFromRequest reads the room query parameter, falling back to fallback
// and then DefaultRoom.
func RoomFromRequest(r *http.Request, fallback string) string {
	room := strings.TrimSpace(r.URL.Query().Get("room"))
	if room != "" {
		return room
	}
	if fallback != "" {
		return fallback
	}
	return DefaultRoom
}

func reject(err error) error {
	return fmt.Errorf("%w: %w", ErrRejected, err)
}

func notFound(room string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, room)
}
