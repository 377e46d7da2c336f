package server

import (
	"bytes"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"sketchparty/internal/game"
	"sketchparty/internal/statesync"
)

var testEpoch = time.UnixMilli(1_700_000_000_000)

func browserState() map[string]any {
	return map[string]any{
		"phase":            "drawing",
		"currentWord":      "Star",
		"drawings":         []any{},
		"votes":            map[string]any{},
		"startTime":        testEpoch.UnixMilli(),
		"drawingTimeLimit": 120,
		"votingTimeLimit":  20,
		"activePlayers":    map[string]any{"user_1": testEpoch.UnixMilli()},
	}
}

func TestGetMissingGame(t *testing.T) {
	_, ts := startServer(t)
	resp := doRequest(t, ts, http.MethodGet, "/api/game", nil)
	expectStatus(t, resp, http.StatusOK)
	body := decodeBody(t, resp)
	if value, ok := body["gameState"]; !ok || value != nil {
		t.Fatalf("expected null gameState, got %#v", body)
	}
}

func TestSaveAndFetchGame(t *testing.T) {
	_, ts := startServer(t)
	resp := doRequest(t, ts, http.MethodPost, "/api/game?room=party", map[string]any{"gameState": browserState()})
	expectStatus(t, resp, http.StatusOK)
	env := decodeEnvelope(t, resp)
	if !env.Success || env.GameState == nil || env.GameState.CurrentWord != "Star" {
		t.Fatalf("unexpected save response %+v", env)
	}

	resp = doRequest(t, ts, http.MethodGet, "/api/game?room=party", nil)
	expectStatus(t, resp, http.StatusOK)
	env = decodeEnvelope(t, resp)
	if env.GameState == nil || !env.GameState.StartTime.Equal(testEpoch) {
		t.Fatalf("unexpected fetched state %+v", env.GameState)
	}
	if _, ok := env.GameState.ActivePlayers["user_1"]; !ok {
		t.Fatalf("expected active players preserved")
	}

	resp = doRequest(t, ts, http.MethodGet, "/api/game", nil)
	if body := decodeBody(t, resp); body["gameState"] != nil {
		t.Fatalf("expected rooms isolated, got %#v", body["gameState"])
	}
}

func TestSaveGameIgnoresExtraKeys(t *testing.T) {
	_, ts := startServer(t)
	resp := doRequest(t, ts, http.MethodPost, "/api/game", map[string]any{
		"gameState": browserState(),
		"room":      "default",
		"sentAt":    1700000000000,
	})
	expectStatus(t, resp, http.StatusOK)
	if env := decodeEnvelope(t, resp); !env.Success || env.GameState.CurrentWord != "Star" {
		t.Fatalf("unexpected save response %+v", env)
	}
}

func TestSaveGameRejectsBadPayloads(t *testing.T) {
	_, ts := startServer(t)
	cases := []struct {
		name    string
		raw     string
		message string
	}{
		{"missing state", `{}`, "Invalid game state"},
		{"null state", `{"gameState":null}`, "Invalid game state"},
		{"unknown phase", `{"gameState":{"phase":"lobby"}}`, "Invalid game state"},
		{"malformed json", `{"gameState":`, "Invalid request"},
		{"state under another key", `{"state":{}}`, "Invalid game state"},
	}
	for _, tc := range cases {
		resp := doRawRequest(t, ts, http.MethodPost, "/api/game", tc.raw)
		expectStatus(t, resp, http.StatusBadRequest)
		body := decodeBody(t, resp)
		if body["success"] != false || body["error"] != tc.message {
			t.Fatalf("%s: unexpected body %#v", tc.name, body)
		}
	}
}

func TestClearGame(t *testing.T) {
	_, ts := startServer(t)
	doRequest(t, ts, http.MethodPost, "/api/game", map[string]any{"gameState": browserState()})
	resp := doRequest(t, ts, http.MethodDelete, "/api/game", nil)
	expectStatus(t, resp, http.StatusOK)
	resp = doRequest(t, ts, http.MethodGet, "/api/game", nil)
	if body := decodeBody(t, resp); body["gameState"] != nil {
		t.Fatalf("expected cleared room")
	}
}

func TestRoundThroughNarrowOperations(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	words, _ := game.NewWordBank("Tinsel")
	_, ts := startServer(t, WithClock(clock), WithWordBank(words))

	resp := doRequest(t, ts, http.MethodPost, "/api/game/drawings", statesync.DrawingRequest{AuthorID: "user_1", ImageData: testDrawingData})
	expectStatus(t, resp, http.StatusNotFound)

	resp = doRequest(t, ts, http.MethodPost, "/api/game/reset", statesync.ResetRequest{PlayerID: "user_1"})
	expectStatus(t, resp, http.StatusOK)
	env := decodeEnvelope(t, resp)
	if env.GameState.CurrentWord != "Tinsel" || !env.GameState.StartTime.Equal(testEpoch) {
		t.Fatalf("unexpected new round %+v", env.GameState)
	}

	resp = doRequest(t, ts, http.MethodPost, "/api/game/drawings", statesync.DrawingRequest{
		AuthorID:  "user_1",
		Author:    "Ada",
		Word:      "Tinsel",
		ImageData: testDrawingData,
	})
	expectStatus(t, resp, http.StatusOK)
	env = decodeEnvelope(t, resp)
	if len(env.GameState.Drawings) != 1 {
		t.Fatalf("expected one drawing, got %d", len(env.GameState.Drawings))
	}
	drawing := env.GameState.Drawings[0]
	if drawing.ID != game.DrawingID("user_1", testEpoch) || drawing.Author != "Ada" {
		t.Fatalf("unexpected drawing %+v", drawing)
	}

	earlier := testEpoch.Add(-time.Minute).UnixMilli()
	stale := statesync.PhaseRequest{From: game.PhaseDrawing, To: game.PhaseVoting, IfStartedAt: &earlier}
	expectStatus(t, doRequest(t, ts, http.MethodPost, "/api/game/phase", stale), http.StatusConflict)

	started := testEpoch.UnixMilli()
	phase := statesync.PhaseRequest{From: game.PhaseDrawing, To: game.PhaseVoting, IfStartedAt: &started}
	expectStatus(t, doRequest(t, ts, http.MethodPost, "/api/game/phase", phase), http.StatusOK)
	resp = doRequest(t, ts, http.MethodPost, "/api/game/phase", phase)
	expectStatus(t, resp, http.StatusConflict)
	if body := decodeBody(t, resp); body["success"] != false {
		t.Fatalf("expected failure body, got %#v", body)
	}

	resp = doRequest(t, ts, http.MethodPost, "/api/game/votes", statesync.VoteRequest{VoterID: "user_2", DrawingID: drawing.ID})
	expectStatus(t, resp, http.StatusOK)

	resp = doRequest(t, ts, http.MethodPost, "/api/game/phase", statesync.PhaseRequest{From: game.PhaseVoting, To: game.PhaseResults})
	expectStatus(t, resp, http.StatusOK)
	env = decodeEnvelope(t, resp)
	if env.GameState.Phase != game.PhaseResults || env.GameState.Drawings[0].Votes != 1 {
		t.Fatalf("expected tallied results, got %+v", env.GameState)
	}
}

func TestNarrowOperationValidation(t *testing.T) {
	_, ts := startServer(t)
	cases := []struct {
		name    string
		path    string
		payload any
	}{
		{"drawing without author", "/api/game/drawings", statesync.DrawingRequest{ImageData: testDrawingData}},
		{"drawing without image", "/api/game/drawings", statesync.DrawingRequest{AuthorID: "user_1"}},
		{"drawing not an image", "/api/game/drawings", statesync.DrawingRequest{AuthorID: "user_1", ImageData: "data:text/plain;base64,aGVsbG8="}},
		{"drawing bad name", "/api/game/drawings", statesync.DrawingRequest{AuthorID: "user_1", Author: "<script>", ImageData: testDrawingData}},
		{"vote without drawing", "/api/game/votes", statesync.VoteRequest{VoterID: "user_1"}},
		{"phase skip", "/api/game/phase", statesync.PhaseRequest{From: game.PhaseDrawing, To: game.PhaseResults}},
		{"phase unknown", "/api/game/phase", map[string]string{"from": "lobby", "to": "drawing"}},
		{"reset negative limits", "/api/game/reset", statesync.ResetRequest{DrawingTimeLimit: -1}},
	}
	for _, tc := range cases {
		resp := doRequest(t, ts, http.MethodPost, tc.path, tc.payload)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected status %d, got %d", tc.name, http.StatusBadRequest, resp.StatusCode)
		}
	}

	resp := doRequest(t, ts, http.MethodGet, "/api/game?room=bad%20room!", nil)
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestJoinQRCode(t *testing.T) {
	_, ts := startServer(t)
	resp := doRequest(t, ts, http.MethodGet, "/api/game/qr?room=party", nil)
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png, got %q", ct)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Fatalf("expected png payload")
	}
}

func TestCORSPreflight(t *testing.T) {
	_, ts := startServer(t)
	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/game", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
}

func TestHealth(t *testing.T) {
	_, ts := startServer(t)
	resp := doRequest(t, ts, http.MethodGet, "/healthz", nil)
	expectStatus(t, resp, http.StatusOK)
}
