package game

import (
	"strings"
	"time"
)

type Phase string

const (
	PhaseDrawing Phase = "drawing"
	PhaseVoting  Phase = "voting"
	PhaseResults Phase = "results"
)

const (
	DefaultDrawingSeconds = 120
	DefaultVotingSeconds  = 20
	PresenceTTL           = 30 * time.Second
)

func (p Phase) Valid() bool {
	switch p {
	case PhaseDrawing, PhaseVoting, PhaseResults:
		return true
	default:
		return false
	}
}

// Next returns the phase that follows p within a round. Results has no
// successor; leaving it starts a new round instead.
func (p Phase) Next() (Phase, bool) {
	switch p {
	case PhaseDrawing:
		return PhaseVoting, true
	case PhaseVoting:
		return PhaseResults, true
	default:
		return "", false
	}
}

type Drawing struct {
	ID        string
	AuthorID  string
	ImageData string
	Word      string
	Author    string
	Votes     int
}

// AuthoredBy reports whether playerID submitted d. Drawings written before
// AuthorID existed are matched on the id prefix.
func (d Drawing) AuthoredBy(playerID string) bool {
	if playerID == "" {
		return false
	}
	if d.AuthorID != "" {
		return d.AuthorID == playerID
	}
	return strings.HasPrefix(d.ID, playerID+"_")
}

func NewDrawing(authorID, author, word, imageData string, at time.Time) Drawing {
	return Drawing{
		ID:        DrawingID(authorID, at),
		AuthorID:  authorID,
		ImageData: imageData,
		Word:      word,
		Author:    DisplayName(author, authorID),
	}
}

type Limits struct {
	DrawingSeconds int
	VotingSeconds  int
}

func DefaultLimits() Limits {
	return Limits{
		DrawingSeconds: DefaultDrawingSeconds,
		VotingSeconds:  DefaultVotingSeconds,
	}
}

// State is the whole shared value for one room.
type State struct {
	Phase            Phase
	CurrentWord      string
	Drawings         []Drawing
	Votes            map[string]string
	StartTime        time.Time
	DrawingTimeLimit int
	VotingTimeLimit  int
	ActivePlayers    map[string]time.Time
}

func NewState(word string, now time.Time, limits Limits) *State {
	if limits.DrawingSeconds <= 0 {
		limits.DrawingSeconds = DefaultDrawingSeconds
	}
	if limits.VotingSeconds <= 0 {
		limits.VotingSeconds = DefaultVotingSeconds
	}
	return &State{
		Phase:            PhaseDrawing,
		CurrentWord:      word,
		Drawings:         []Drawing{},
		Votes:            map[string]string{},
		StartTime:        now,
		DrawingTimeLimit: limits.DrawingSeconds,
		VotingTimeLimit:  limits.VotingSeconds,
		ActivePlayers:    map[string]time.Time{},
	}
}

func (s *State) Limits() Limits {
	return Limits{DrawingSeconds: s.DrawingTimeLimit, VotingSeconds: s.VotingTimeLimit}
}

func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Drawings = make([]Drawing, len(s.Drawings))
	copy(out.Drawings, s.Drawings)
	out.Votes = make(map[string]string, len(s.Votes))
	for voter, drawingID := range s.Votes {
		out.Votes[voter] = drawingID
	}
	out.ActivePlayers = make(map[string]time.Time, len(s.ActivePlayers))
	for id, seen := range s.ActivePlayers {
		out.ActivePlayers[id] = seen
	}
	return &out
}

func (s *State) DrawingBy(playerID string) (Drawing, bool) {
	for _, drawing := range s.Drawings {
		if drawing.AuthoredBy(playerID) {
			return drawing, true
		}
	}
	return Drawing{}, false
}

func (s *State) HasDrawing(id string) bool {
	for _, drawing := range s.Drawings {
		if drawing.ID == id {
			return true
		}
	}
	return false
}

// AddDrawing appends d, dropping any earlier drawing by the same author.
func (s *State) AddDrawing(d Drawing) *State {
	out := s.Clone()
	author := d.AuthorID
	kept := out.Drawings[:0]
	for _, existing := range out.Drawings {
		if existing.AuthoredBy(author) || (author == "" && existing.ID == d.ID) {
			continue
		}
		kept = append(kept, existing)
	}
	out.Drawings = append(kept, d)
	return out
}

// SetVote records voterID's choice, replacing any earlier one.
func (s *State) SetVote(voterID, drawingID string) *State {
	out := s.Clone()
	out.Votes[voterID] = drawingID
	return out
}

// NextRound starts a fresh drawing phase with a new word and epoch. The
// active-player roster carries over.
func (s *State) NextRound(word string, now time.Time) *State {
	next := NewState(word, now, s.Limits())
	for id, seen := range s.ActivePlayers {
		next.ActivePlayers[id] = seen
	}
	return next
}
