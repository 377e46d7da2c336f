package player

import (
	"context"
	"fmt"

	"sketchparty/internal/game"
)

// View is what a participant's screen shows at one instant.
type View struct {
	Room          string
	Joined        bool
	Ready         bool
	Phase         game.Phase
	Word          string
	TimeLeft      int
	HasSubmitted  bool
	Vote          string
	ActivePlayers int
	Drawings      []game.Drawing
	Winners       []game.Drawing
}

func (s *Session) View(ctx context.Context) View {
	v := View{Room: s.syncer.Room(), Joined: s.Name() != ""}
	state, ok := s.syncer.GetState()
	if !ok {
		return v
	}
	now := s.clock.Now()
	v.Ready = true
	v.Phase = state.Phase
	v.Word = state.CurrentWord
	v.TimeLeft = state.Remaining(now)
	_, v.HasSubmitted = state.DrawingBy(s.id)
	v.Vote = state.Votes[s.id]
	v.Drawings = state.Drawings
	if state.Phase == game.PhaseResults {
		v.Winners = state.Winners()
	}
	if s.presence != nil {
		v.ActivePlayers = s.presence.ActiveCount(ctx)
	} else {
		v.ActivePlayers = game.ActiveCount(state.ActivePlayers, now, s.ttl)
	}
	return v
}

// FormatTime renders seconds as m:ss.
func FormatTime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
