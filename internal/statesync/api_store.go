package statesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"sketchparty/internal/game"
)

// Wire types shared by the fallback HTTP server and APIStore.

type StateEnvelope struct {
	Success   bool        `json:"success"`
	GameState *game.State `json:"gameState"`
	Error     string      `json:"error,omitempty"`
}

type DrawingRequest struct {
	ID        string `json:"id,omitempty"`
	AuthorID  string `json:"authorId"`
	Author    string `json:"author"`
	Word      string `json:"word"`
	ImageData string `json:"imageData"`
	SubmitAt  int64  `json:"submittedAt,omitempty"`
}

type VoteRequest struct {
	VoterID   string `json:"voterId"`
	DrawingID string `json:"drawingId"`
}

type PhaseRequest struct {
	From        game.Phase `json:"from"`
	To          game.Phase `json:"to"`
	StartTime   int64      `json:"startTime,omitempty"`
	IfStartedAt *int64     `json:"ifStartedAt,omitempty"`
}

type ResetRequest struct {
	Word             string `json:"word,omitempty"`
	StartTime        int64  `json:"startTime,omitempty"`
	DrawingTimeLimit int    `json:"drawingTimeLimit,omitempty"`
	VotingTimeLimit  int    `json:"votingTimeLimit,omitempty"`
	PlayerID         string `json:"playerId,omitempty"`
	IfStartedAt      *int64 `json:"ifStartedAt,omitempty"`
}

func NewDrawingRequest(d game.Drawing) DrawingRequest {
	return DrawingRequest{ID: d.ID, AuthorID: d.AuthorID, Author: d.Author, Word: d.Word, ImageData: d.ImageData}
}

func (r DrawingRequest) Drawing(now time.Time) game.Drawing {
	at := now
	if r.SubmitAt > 0 {
		at = time.UnixMilli(r.SubmitAt)
	}
	drawing := game.NewDrawing(r.AuthorID, r.Author, r.Word, r.ImageData, at)
	if r.ID != "" {
		drawing.ID = r.ID
	}
	return drawing
}

func NewPhaseRequest(u game.PhaseUpdate) PhaseRequest {
	req := PhaseRequest{From: u.From, To: u.To}
	if !u.StartTime.IsZero() {
		req.StartTime = u.StartTime.UnixMilli()
	}
	if u.IfStartedAt != nil {
		at := u.IfStartedAt.UnixMilli()
		req.IfStartedAt = &at
	}
	return req
}

func (r PhaseRequest) Update() game.PhaseUpdate {
	update := game.PhaseUpdate{From: r.From, To: r.To}
	if r.StartTime > 0 {
		update.StartTime = time.UnixMilli(r.StartTime)
	}
	if r.IfStartedAt != nil {
		at := time.UnixMilli(*r.IfStartedAt)
		update.IfStartedAt = &at
	}
	return update
}

func NewResetRequest(r game.RoundReset) ResetRequest {
	req := ResetRequest{
		Word:             r.Word,
		DrawingTimeLimit: r.Limits.DrawingSeconds,
		VotingTimeLimit:  r.Limits.VotingSeconds,
		PlayerID:         r.PlayerID,
	}
	if !r.StartTime.IsZero() {
		req.StartTime = r.StartTime.UnixMilli()
	}
	if r.IfStartedAt != nil {
		at := r.IfStartedAt.UnixMilli()
		req.IfStartedAt = &at
	}
	return req
}

// Reset fills in a word and epoch the caller left out.
func (r ResetRequest) Reset(now time.Time, words *game.WordBank) game.RoundReset {
	reset := game.RoundReset{
		Word:      r.Word,
		StartTime: now,
		Limits:    game.Limits{DrawingSeconds: r.DrawingTimeLimit, VotingSeconds: r.VotingTimeLimit},
		PlayerID:  r.PlayerID,
	}
	if reset.Word == "" {
		reset.Word = words.Random()
	}
	if r.StartTime > 0 {
		reset.StartTime = time.UnixMilli(r.StartTime)
	}
	if r.IfStartedAt != nil {
		at := time.UnixMilli(*r.IfStartedAt)
		reset.IfStartedAt = &at
	}
	return reset
}

// APIStore talks to the fallback HTTP server. It lets headless participants
// share a room with browsers when no database is configured.
type APIStore struct {
	baseURL string
	client  *http.Client
	dialer  *websocket.Dialer
}

func NewAPIStore(baseURL string, client *http.Client) *APIStore {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &APIStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		dialer:  websocket.DefaultDialer,
	}
}

func (a *APIStore) endpoint(path, room string) string {
	return a.baseURL + path + "?room=" + url.QueryEscape(room)
}

func (a *APIStore) Fetch(ctx context.Context, room string) (*game.State, error) {
	env, err := a.do(ctx, http.MethodGet, a.endpoint("/api/game", room), nil)
	if err != nil {
		return nil, err
	}
	if env.GameState == nil {
		return nil, notFound(room)
	}
	return env.GameState, nil
}

func (a *APIStore) Upsert(ctx context.Context, room string, state *game.State) error {
	_, err := a.do(ctx, http.MethodPost, a.endpoint("/api/game", room), map[string]any{"gameState": state})
	return err
}

func (a *APIStore) Delete(ctx context.Context, room string) error {
	_, err := a.do(ctx, http.MethodDelete, a.endpoint("/api/game", room), nil)
	return err
}

func (a *APIStore) SubmitDrawing(ctx context.Context, room string, drawing game.Drawing) (*game.State, error) {
	return a.state(a.do(ctx, http.MethodPost, a.endpoint("/api/game/drawings", room), NewDrawingRequest(drawing)))
}

func (a *APIStore) SubmitVote(ctx context.Context, room, voterID, drawingID string) (*game.State, error) {
	return a.state(a.do(ctx, http.MethodPost, a.endpoint("/api/game/votes", room), VoteRequest{VoterID: voterID, DrawingID: drawingID}))
}

func (a *APIStore) UpdatePhase(ctx context.Context, room string, update game.PhaseUpdate) (*game.State, error) {
	return a.state(a.do(ctx, http.MethodPost, a.endpoint("/api/game/phase", room), NewPhaseRequest(update)))
}

func (a *APIStore) ResetRound(ctx context.Context, room string, reset game.RoundReset) (*game.State, error) {
	return a.state(a.do(ctx, http.MethodPost, a.endpoint("/api/game/reset", room), NewResetRequest(reset)))
}

func (a *APIStore) state(env StateEnvelope, err error) (*game.State, error) {
	if err != nil {
		return nil, err
	}
	if env.GameState == nil {
		return nil, errors.New("response carried no game state")
	}
	return env.GameState, nil
}

func (a *APIStore) do(ctx context.Context, method, target string, payload any) (StateEnvelope, error) {
	var env StateEnvelope
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return env, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &body)
	if err != nil {
		return env, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return env, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return env, fmt.Errorf("decode %s %s: %w", method, target, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return env, fmt.Errorf("%w: %s", ErrNotFound, env.Error)
	case resp.StatusCode == http.StatusConflict:
		return env, fmt.Errorf("%w: %s", ErrRejected, env.Error)
	case resp.StatusCode >= 300:
		return env, fmt.Errorf("%s %s: status %d: %s", method, target, resp.StatusCode, env.Error)
	}
	return env, nil
}

// Watch follows the server's websocket feed. The feed ends on the first
// read error; there is no reconnect.
func (a *APIStore) Watch(ctx context.Context, room string) (<-chan Change, error) {
	wsURL := a.endpoint("/ws/game", room)
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	conn, _, err := a.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	changes := make(chan Change, watchBuffer)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(changes)
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("room", room).Msg("state feed closed")
				}
				return
			}
			change := Change{Room: room}
			if msg.Type == MessageStateUpdate {
				if msg.State == nil {
					continue
				}
				change.State = msg.State
			}
			select {
			case changes <- change:
			case <-ctx.Done():
				return
			}
		}
	}()
	return changes, nil
}
