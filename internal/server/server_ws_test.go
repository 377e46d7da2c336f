package server

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"sketchparty/internal/config"
	"sketchparty/internal/game"
	"sketchparty/internal/statesync"
)

func TestWebsocketReplaysCurrentState(t *testing.T) {
	_, ts := startServer(t)
	doRequest(t, ts, http.MethodPost, "/api/game?room=party", map[string]any{"gameState": browserState()})

	conn := dialRoom(t, ts, "party")
	msg := readWSMessage(t, conn, 5*time.Second)
	if msg.Type != statesync.MessageStateUpdate || msg.State == nil || msg.State.CurrentWord != "Star" {
		t.Fatalf("expected replay of current state, got %+v", msg)
	}
}

func TestWebsocketPushesChanges(t *testing.T) {
	_, ts := startServer(t)
	conn := dialRoom(t, ts, "party")
	other := dialRoom(t, ts, "other")

	doRequest(t, ts, http.MethodPost, "/api/game/reset?room=party", statesync.ResetRequest{Word: "Bells"})
	msg := readWSMessage(t, conn, 5*time.Second)
	if msg.Type != statesync.MessageStateUpdate || msg.State.CurrentWord != "Bells" {
		t.Fatalf("expected pushed update, got %+v", msg)
	}

	doRequest(t, ts, http.MethodDelete, "/api/game?room=party", nil)
	waitForWSMessage(t, conn, 5*time.Second, statesync.MessageStateClear)

	expectNoWSMessage(t, other, 300*time.Millisecond)
}

// waitForWSMessage skips messages until one of type msgType arrives. The
// connect-time replay may duplicate the first pushed update.
func waitForWSMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration, msgType string) statesync.Message {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		msg := readWSMessage(t, conn, time.Until(deadline))
		if msg.Type == msgType {
			return msg
		}
	}
	t.Fatalf("expected %s message", msgType)
	return statesync.Message{}
}

// racingStore commits a newer round right after the first Fetch reads the
// room, before the server has written that read to the socket.
type racingStore struct {
	*statesync.MemoryStore
	once sync.Once
}

func (s *racingStore) Fetch(ctx context.Context, room string) (*game.State, error) {
	state, err := s.MemoryStore.Fetch(ctx, room)
	s.once.Do(func() {
		_ = s.MemoryStore.Upsert(ctx, room, game.NewState("Bells", testEpoch.Add(time.Minute), game.DefaultLimits()))
		time.Sleep(100 * time.Millisecond)
	})
	return state, err
}

func TestWebsocketReplayPrecedesNewerCommit(t *testing.T) {
	store := &racingStore{MemoryStore: statesync.NewMemoryStore()}
	if err := store.Upsert(context.Background(), "party", game.NewState("Star", testEpoch, game.DefaultLimits())); err != nil {
		t.Fatalf("seed: %v", err)
	}
	srv := New(store, config.Default())
	ts := newTestServer(t, srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})

	conn := dialRoom(t, ts, "party")
	first := readWSMessage(t, conn, 5*time.Second)
	second := readWSMessage(t, conn, 5*time.Second)
	if first.State == nil || first.State.CurrentWord != "Star" {
		t.Fatalf("expected replay first, got %+v", first)
	}
	if second.State == nil || second.State.CurrentWord != "Bells" {
		t.Fatalf("expected newer commit last, got %+v", second)
	}
}
