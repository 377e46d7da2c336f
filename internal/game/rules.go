package game

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrPhaseMismatch     = errors.New("phase mismatch")
	ErrInvalidTransition = errors.New("invalid phase transition")
	ErrNoDrawings        = errors.New("no drawings submitted")
	ErrUnknownDrawing    = errors.New("unknown drawing")
	ErrStaleRound        = errors.New("round already restarted")
)

// PhaseUpdate moves a room from one phase to the next. From guards against
// applying the same transition twice: once a transition lands, a repeat
// carrying the old From is rejected. When IfStartedAt is set the update
// only applies to the round with that epoch.
type PhaseUpdate struct {
	From        Phase
	To          Phase
	StartTime   time.Time
	IfStartedAt *time.Time
}

// RoundReset replaces the round. When IfStartedAt is set the reset only
// applies to the round with that epoch.
type RoundReset struct {
	Word        string
	StartTime   time.Time
	Limits      Limits
	PlayerID    string
	IfStartedAt *time.Time
}

// Advance applies u. Entering voting requires at least one drawing and
// entering results attaches the vote tally.
func (s *State) Advance(u PhaseUpdate) (*State, error) {
	if s.Phase != u.From {
		return nil, fmt.Errorf("%w: room is %s, expected %s", ErrPhaseMismatch, s.Phase, u.From)
	}
	if u.IfStartedAt != nil && !sameEpoch(s.StartTime, *u.IfStartedAt) {
		return nil, ErrStaleRound
	}
	next, ok := u.From.Next()
	if !ok || next != u.To {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, u.From, u.To)
	}
	if u.To == PhaseVoting && len(s.Drawings) == 0 {
		return nil, ErrNoDrawings
	}
	out := s.Clone()
	if u.To == PhaseResults {
		out = out.WithTally()
	}
	out.Phase = u.To
	if !u.StartTime.IsZero() {
		out.StartTime = u.StartTime
	}
	return out, nil
}

// Reset applies r to s. A nil s creates the room.
func (s *State) Reset(r RoundReset) (*State, error) {
	if s != nil && r.IfStartedAt != nil && !sameEpoch(s.StartTime, *r.IfStartedAt) {
		return nil, ErrStaleRound
	}
	var out *State
	if s == nil {
		out = NewState(r.Word, r.StartTime, r.Limits)
	} else {
		out = s.NextRound(r.Word, r.StartTime)
		if r.Limits.DrawingSeconds > 0 {
			out.DrawingTimeLimit = r.Limits.DrawingSeconds
		}
		if r.Limits.VotingSeconds > 0 {
			out.VotingTimeLimit = r.Limits.VotingSeconds
		}
	}
	if r.PlayerID != "" {
		out.ActivePlayers[r.PlayerID] = r.StartTime
	}
	return out, nil
}

// Submit adds d during the drawing phase, replacing the author's earlier
// submission.
func (s *State) Submit(d Drawing) (*State, error) {
	if s.Phase != PhaseDrawing {
		return nil, fmt.Errorf("%w: drawings close once the room is %s", ErrPhaseMismatch, s.Phase)
	}
	return s.AddDrawing(d), nil
}

// CastVote records a vote during the voting phase.
func (s *State) CastVote(voterID, drawingID string) (*State, error) {
	if s.Phase != PhaseVoting {
		return nil, fmt.Errorf("%w: votes close once the room is %s", ErrPhaseMismatch, s.Phase)
	}
	if !s.HasDrawing(drawingID) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDrawing, drawingID)
	}
	return s.SetVote(voterID, drawingID), nil
}

// sameEpoch compares at the millisecond precision start times are stored
// with.
func sameEpoch(a, b time.Time) bool {
	return a.UnixMilli() == b.UnixMilli()
}
