package game

// Tally counts voters per drawing id.
func Tally(votes map[string]string) map[string]int {
	counts := make(map[string]int, len(votes))
	for _, drawingID := range votes {
		counts[drawingID]++
	}
	return counts
}

// WithTally returns a copy whose drawings carry vote counts derived from
// the votes map. Recomputing from the same votes gives the same counts.
func (s *State) WithTally() *State {
	out := s.Clone()
	counts := Tally(out.Votes)
	for i := range out.Drawings {
		out.Drawings[i].Votes = counts[out.Drawings[i].ID]
	}
	return out
}

// Winners returns the drawings with the highest non-zero vote count.
func (s *State) Winners() []Drawing {
	best := 0
	for _, drawing := range s.Drawings {
		if drawing.Votes > best {
			best = drawing.Votes
		}
	}
	if best == 0 {
		return nil
	}
	var winners []Drawing
	for _, drawing := range s.Drawings {
		if drawing.Votes == best {
			winners = append(winners, drawing)
		}
	}
	return winners
}
