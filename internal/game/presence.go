package game

import "time"

// PruneInactive drops players whose last heartbeat is older than ttl.
func PruneInactive(players map[string]time.Time, now time.Time, ttl time.Duration) map[string]time.Time {
	cutoff := now.Add(-ttl)
	out := make(map[string]time.Time, len(players))
	for id, seen := range players {
		if seen.Before(cutoff) {
			continue
		}
		out[id] = seen
	}
	return out
}

func ActiveCount(players map[string]time.Time, now time.Time, ttl time.Duration) int {
	cutoff := now.Add(-ttl)
	count := 0
	for _, seen := range players {
		if seen.After(cutoff) {
			count++
		}
	}
	return count
}

// Touch stamps playerID as seen at now and prunes stale entries.
func (s *State) Touch(playerID string, now time.Time, ttl time.Duration) *State {
	out := s.Clone()
	if playerID != "" {
		out.ActivePlayers[playerID] = now
	}
	out.ActivePlayers = PruneInactive(out.ActivePlayers, now, ttl)
	return out
}
