// Package player is one participant's view of a room: joining, drawing,
// voting and reading the countdown.
package player

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"sketchparty/internal/game"
	"sketchparty/internal/phase"
)

var (
	ErrNameRequired     = errors.New("name is required")
	ErrNotJoined        = errors.New("join a room first")
	ErrAlreadySubmitted = errors.New("drawing already submitted this round")
	ErrEmptyDrawing     = errors.New("drawing is empty")
	ErrNoRoom           = errors.New("room has no game yet")
	ErrNotDrawing       = errors.New("room is not in the drawing phase")
)

// Syncer is the part of statesync.Client a session uses.
type Syncer interface {
	Room() string
	GetState() (*game.State, bool)
	GetRemoteState(ctx context.Context) (*game.State, error)
	BroadcastState(ctx context.Context, state *game.State)
	SubmitDrawing(ctx context.Context, drawing game.Drawing) (*game.State, error)
	CastVote(ctx context.Context, voterID, drawingID string) (*game.State, error)
	AdvancePhase(ctx context.Context, update game.PhaseUpdate) (*game.State, error)
	ResetRound(ctx context.Context, reset game.RoundReset) (*game.State, error)
}

// Counter reports how many participants are active. presence.Tracker
// satisfies it.
type Counter interface {
	ActiveCount(ctx context.Context) int
}

type Options struct {
	PlayerID string
	Clock    clockwork.Clock
	Words    *game.WordBank
	Limits   game.Limits
	TTL      time.Duration
	Presence Counter
}

type Session struct {
	syncer   Syncer
	id       string
	clock    clockwork.Clock
	words    *game.WordBank
	limits   game.Limits
	ttl      time.Duration
	presence Counter

	mu   sync.Mutex
	name string
}

func NewSession(syncer Syncer, opts Options) *Session {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	id := opts.PlayerID
	if id == "" {
		id = game.NewUserID(clock.Now())
	}
	words := opts.Words
	if words == nil {
		words = game.DefaultWordBank()
	}
	limits := opts.Limits
	if limits.DrawingSeconds <= 0 || limits.VotingSeconds <= 0 {
		limits = game.DefaultLimits()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = game.PresenceTTL
	}
	return &Session{
		syncer:   syncer,
		id:       id,
		clock:    clock,
		words:    words,
		limits:   limits,
		ttl:      ttl,
		presence: opts.Presence,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Join enters the room under name. An existing game is joined with a
// fresh heartbeat; otherwise a new game is created.
func (s *Session) Join(ctx context.Context, name string) (*game.State, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()

	now := s.clock.Now()
	existing, ok := s.syncer.GetState()
	if !ok {
		// A failed read is treated as an empty room; the error is logged
		// by the sync client.
		existing, _ = s.syncer.GetRemoteState(ctx)
	}

	var next *game.State
	if existing != nil {
		next = existing.Touch(s.id, now, s.ttl)
	} else {
		next = game.NewState(s.words.Random(), now, s.limits)
		next.ActivePlayers[s.id] = now
	}
	s.syncer.BroadcastState(ctx, next)
	return next.Clone(), nil
}

// SubmitDrawing adds the participant's drawing for the current word. A
// second submission in the same round is refused.
func (s *Session) SubmitDrawing(ctx context.Context, imageData string) (*game.State, error) {
	name, err := s.joinedName()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(imageData) == "" {
		return nil, ErrEmptyDrawing
	}
	state, err := s.syncer.GetRemoteState(ctx)
	if err != nil {
		cached, ok := s.syncer.GetState()
		if !ok {
			return nil, ErrNoRoom
		}
		state = cached
	}
	if _, done := state.DrawingBy(s.id); done {
		return nil, ErrAlreadySubmitted
	}
	drawing := game.NewDrawing(s.id, name, state.CurrentWord, imageData, s.clock.Now())
	return s.syncer.SubmitDrawing(ctx, drawing)
}

// Vote records the participant's choice. Re-voting for the current choice
// is a no-op.
func (s *Session) Vote(ctx context.Context, drawingID string) (*game.State, error) {
	if _, err := s.joinedName(); err != nil {
		return nil, err
	}
	state, ok := s.syncer.GetState()
	if !ok {
		return nil, ErrNoRoom
	}
	if state.Votes[s.id] == drawingID {
		return state, nil
	}
	return s.syncer.CastVote(ctx, s.id, drawingID)
}

// StartVoting ends the drawing phase early once at least one drawing is in.
// The voting countdown starts full, as it does when the drawing timer runs
// out.
func (s *Session) StartVoting(ctx context.Context) (*game.State, error) {
	if _, err := s.joinedName(); err != nil {
		return nil, err
	}
	state, err := s.syncer.GetRemoteState(ctx)
	if err != nil {
		cached, ok := s.syncer.GetState()
		if !ok {
			return nil, ErrNoRoom
		}
		state = cached
	}
	if state.Phase != game.PhaseDrawing {
		return nil, ErrNotDrawing
	}
	if len(state.Drawings) == 0 {
		return nil, game.ErrNoDrawings
	}
	return s.syncer.AdvancePhase(ctx, phase.VotingUpdate(state, s.clock.Now()))
}

// NewRound starts a fresh drawing round with a new word.
func (s *Session) NewRound(ctx context.Context) (*game.State, error) {
	if _, err := s.joinedName(); err != nil {
		return nil, err
	}
	return s.syncer.ResetRound(ctx, game.RoundReset{
		Word:      s.words.Random(),
		StartTime: s.clock.Now(),
		Limits:    s.limits,
		PlayerID:  s.id,
	})
}

func (s *Session) joinedName() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.name == "" {
		return "", ErrNotJoined
	}
	return s.name, nil
}
