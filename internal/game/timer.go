package game

import "time"

// Elapsed is the number of whole seconds from start to now, floored at zero
// so a clock behind the epoch never yields more than the full limit.
func Elapsed(start, now time.Time) int {
	if now.Before(start) {
		return 0
	}
	return int(now.Sub(start) / time.Second)
}

// Remaining computes the countdown for phase. Voting is measured from an
// epoch offset by the drawing limit. The result is never negative.
func Remaining(phase Phase, start, now time.Time, drawingLimit, votingLimit int) int {
	elapsed := Elapsed(start, now)
	var left int
	switch phase {
	case PhaseDrawing:
		left = drawingLimit - elapsed
	case PhaseVoting:
		left = votingLimit - (elapsed - drawingLimit)
	default:
		return 0
	}
	if left < 0 {
		return 0
	}
	return left
}

func (s *State) Elapsed(now time.Time) int {
	return Elapsed(s.StartTime, now)
}

func (s *State) Remaining(now time.Time) int {
	return Remaining(s.Phase, s.StartTime, now, s.DrawingTimeLimit, s.VotingTimeLimit)
}

// VotingDeadline is the instant voting closes for the current epoch.
func (s *State) VotingDeadline() time.Time {
	return s.StartTime.Add(time.Duration(s.DrawingTimeLimit+s.VotingTimeLimit) * time.Second)
}

func (s *State) DrawingDeadline() time.Time {
	return s.StartTime.Add(time.Duration(s.DrawingTimeLimit) * time.Second)
}
