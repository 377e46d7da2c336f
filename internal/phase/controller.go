package phase

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"sketchparty/internal/game"
	"sketchparty/internal/statesync"
)

const DefaultInterval = time.Second

// Syncer is the part of statesync.Client the controller drives.
type Syncer interface {
	Room() string
	GetState() (*game.State, bool)
	GetRemoteState(ctx context.Context) (*game.State, error)
	AdvancePhase(ctx context.Context, update game.PhaseUpdate) (*game.State, error)
	ResetRound(ctx context.Context, reset game.RoundReset) (*game.State, error)
}

type Controller struct {
	syncer   Syncer
	clock    clockwork.Clock
	interval time.Duration
	words    *game.WordBank
	playerID string
}

type Option func(*Controller)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

func WithWordBank(words *game.WordBank) Option {
	return func(c *Controller) {
		if words != nil {
			c.words = words
		}
	}
}

// WithPlayerID stamps restarts and new rounds with the local participant.
func WithPlayerID(id string) Option {
	return func(c *Controller) { c.playerID = id }
}

func New(syncer Syncer, opts ...Option) *Controller {
	c := &Controller{
		syncer:   syncer,
		clock:    clockwork.NewRealClock(),
		interval: DefaultInterval,
		words:    game.DefaultWordBank(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run evaluates the cached state on every tick until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := c.Tick(ctx); err != nil {
				log.Error().Err(err).Str("room", c.syncer.Room()).Msg("phase tick failed")
			}
		}
	}
}

// Tick performs at most one transition. Losing a race to another
// participant is not an error.
func (c *Controller) Tick(ctx context.Context) (Transition, error) {
	state, ok := c.syncer.GetState()
	if !ok {
		return None, nil
	}
	now := c.clock.Now()
	t := Check(state, now)

	var err error
	switch t {
	case None:
		return None, nil
	case ToVoting:
		_, err = c.syncer.AdvancePhase(ctx, VotingUpdate(state, now))
	case ToResults:
		_, err = c.syncer.AdvancePhase(ctx, ResultsUpdate(state))
	case Restart:
		_, err = c.syncer.ResetRound(ctx, RestartReset(state, now, c.words.Random(), c.playerID))
	}
	if errors.Is(err, statesync.ErrRejected) {
		// The cached round is behind the store; refresh so the next tick
		// evaluates the room as it is now.
		log.Debug().Str("room", c.syncer.Room()).Stringer("transition", t).Msg("transition already applied")
		if _, err := c.syncer.GetRemoteState(ctx); err != nil && !errors.Is(err, statesync.ErrNotFound) {
			log.Warn().Err(err).Str("room", c.syncer.Room()).Msg("refresh after rejected transition failed")
		}
		return None, nil
	}
	if err != nil {
		return None, err
	}
	log.Info().Str("room", c.syncer.Room()).Stringer("transition", t).Msg("phase transition")
	return t, nil
}

// NewRound starts the next drawing round on explicit request. It applies
// from any phase.
func (c *Controller) NewRound(ctx context.Context) (*game.State, error) {
	reset := game.RoundReset{
		Word:      c.words.Random(),
		StartTime: c.clock.Now(),
		PlayerID:  c.playerID,
	}
	if state, ok := c.syncer.GetState(); ok {
		reset.Limits = state.Limits()
	}
	return c.syncer.ResetRound(ctx, reset)
}
