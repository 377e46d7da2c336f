// Package presence keeps each participant's heartbeat fresh and counts who
// is still around.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"sketchparty/internal/game"
)

type Mode string

const (
	// ModeState writes heartbeats into the shared game state.
	ModeState Mode = "state"
	// ModeChannel writes heartbeats to a Roster and leaves the state alone.
	ModeChannel Mode = "channel"

	DefaultInterval = 2 * time.Second
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case "", ModeState:
		return ModeState, nil
	case ModeChannel:
		return ModeChannel, nil
	}
	return "", fmt.Errorf("unknown presence mode %q", raw)
}

// Syncer is the part of statesync.Client presence needs.
type Syncer interface {
	Room() string
	GetState() (*game.State, bool)
	BroadcastState(ctx context.Context, state *game.State)
}

type Tracker struct {
	syncer   Syncer
	playerID string
	mode     Mode
	roster   Roster
	clock    clockwork.Clock
	interval time.Duration
	ttl      time.Duration
}

type Option func(*Tracker)

func WithClock(clock clockwork.Clock) Option {
	return func(t *Tracker) { t.clock = clock }
}

func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

func WithTTL(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.ttl = d
		}
	}
}

// WithRoster switches the tracker to channel mode.
func WithRoster(roster Roster) Option {
	return func(t *Tracker) {
		t.roster = roster
		t.mode = ModeChannel
	}
}

func New(syncer Syncer, playerID string, opts ...Option) *Tracker {
	t := &Tracker{
		syncer:   syncer,
		playerID: playerID,
		mode:     ModeState,
		clock:    clockwork.NewRealClock(),
		interval: DefaultInterval,
		ttl:      game.PresenceTTL,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) Mode() Mode {
	return t.mode
}

// Run beats immediately and then every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()
	t.beatAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.beatAndLog(ctx)
		}
	}
}

func (t *Tracker) beatAndLog(ctx context.Context) {
	if err := t.Beat(ctx); err != nil {
		log.Warn().Err(err).Str("room", t.syncer.Room()).Str("player", t.playerID).Msg("heartbeat failed")
	}
}

// Beat records one heartbeat. In state mode it is a no-op until the room
// exists.
func (t *Tracker) Beat(ctx context.Context) error {
	now := t.clock.Now()
	if t.mode == ModeChannel {
		return t.roster.Beat(ctx, t.syncer.Room(), t.playerID, now)
	}
	state, ok := t.syncer.GetState()
	if !ok {
		return nil
	}
	t.syncer.BroadcastState(ctx, state.Touch(t.playerID, now, t.ttl))
	return nil
}

// ActiveCount is the number of participants seen within the TTL.
func (t *Tracker) ActiveCount(ctx context.Context) int {
	now := t.clock.Now()
	if t.mode == ModeChannel {
		active, err := t.roster.Active(ctx, t.syncer.Room(), now, t.ttl)
		if err != nil {
			log.Warn().Err(err).Str("room", t.syncer.Room()).Msg("read roster failed")
			return 0
		}
		return len(active)
	}
	state, ok := t.syncer.GetState()
	if !ok {
		return 0
	}
	return game.ActiveCount(state.ActivePlayers, now, t.ttl)
}

// Leave drops the participant from the roster. State-mode entries simply
// age out.
func (t *Tracker) Leave(ctx context.Context) error {
	if t.mode != ModeChannel {
		return nil
	}
	return t.roster.Leave(ctx, t.syncer.Room(), t.playerID)
}
