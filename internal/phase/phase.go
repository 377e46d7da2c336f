// Package phase drives a room through drawing, voting and results from the
// shared start time. Every participant runs a controller; the store decides
// which of the racing transitions lands.
package phase

import (
	"time"

	"sketchparty/internal/game"
)

type Transition int

const (
	None Transition = iota
	ToVoting
	ToResults
	Restart
)

func (t Transition) String() string {
	switch t {
	case ToVoting:
		return "to-voting"
	case ToResults:
		return "to-results"
	case Restart:
		return "restart"
	default:
		return "none"
	}
}

// Check reports which transition state is due for at now.
func Check(state *game.State, now time.Time) Transition {
	if state == nil {
		return None
	}
	elapsed := state.Elapsed(now)
	switch state.Phase {
	case game.PhaseDrawing:
		if elapsed < state.DrawingTimeLimit {
			return None
		}
		if len(state.Drawings) == 0 {
			return Restart
		}
		return ToVoting
	case game.PhaseVoting:
		if elapsed < state.DrawingTimeLimit+state.VotingTimeLimit {
			return None
		}
		return ToResults
	default:
		return None
	}
}

// Evaluate returns the state after the transition due at now. word is only
// used when an empty drawing round restarts. When nothing is due the
// returned state is nil.
func Evaluate(state *game.State, now time.Time, word string) (*game.State, Transition) {
	t := Check(state, now)
	if t == None {
		return nil, None
	}
	var (
		next *game.State
		err  error
	)
	switch t {
	case ToVoting:
		next, err = state.Advance(VotingUpdate(state, now))
	case ToResults:
		next, err = state.Advance(ResultsUpdate(state))
	case Restart:
		next, err = state.Reset(RestartReset(state, now, word, ""))
	}
	if err != nil {
		return nil, None
	}
	return next, t
}

// VotingUpdate moves the epoch back by the drawing limit so the voting
// countdown starts full even when the transition fires late.
// The update is bound to state's round, so a participant holding an old
// round cannot advance a newer one.
func VotingUpdate(state *game.State, now time.Time) game.PhaseUpdate {
	started := state.StartTime
	return game.PhaseUpdate{
		From:        game.PhaseDrawing,
		To:          game.PhaseVoting,
		StartTime:   now.Add(-time.Duration(state.DrawingTimeLimit) * time.Second),
		IfStartedAt: &started,
	}
}

func ResultsUpdate(state *game.State) game.PhaseUpdate {
	started := state.StartTime
	return game.PhaseUpdate{From: game.PhaseVoting, To: game.PhaseResults, IfStartedAt: &started}
}

// RestartReset replaces the round only if nobody else restarted it first.
func RestartReset(state *game.State, now time.Time, word, playerID string) game.RoundReset {
	started := state.StartTime
	return game.RoundReset{
		Word:        word,
		StartTime:   now,
		PlayerID:    playerID,
		IfStartedAt: &started,
	}
}
