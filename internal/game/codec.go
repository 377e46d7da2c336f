package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Storage form. Keys and millisecond timestamps match what browser clients
// already write into the shared store.
type drawingRecord struct {
	ID        string `json:"id"`
	AuthorID  string `json:"authorId,omitempty"`
	ImageData string `json:"imageData"`
	Word      string `json:"word"`
	Author    string `json:"author"`
	Votes     int    `json:"votes"`
}

type stateRecord struct {
	Phase            Phase             `json:"phase"`
	CurrentWord      string            `json:"currentWord"`
	Drawings         []drawingRecord   `json:"drawings"`
	Votes            map[string]string `json:"votes"`
	StartTime        int64             `json:"startTime"`
	DrawingTimeLimit int               `json:"drawingTimeLimit"`
	VotingTimeLimit  int               `json:"votingTimeLimit"`
	ActivePlayers    map[string]int64  `json:"activePlayers"`
}

var ErrInvalidState = errors.New("invalid game state")

func (s State) MarshalJSON() ([]byte, error) {
	record := stateRecord{
		Phase:            s.Phase,
		CurrentWord:      s.CurrentWord,
		Drawings:         make([]drawingRecord, 0, len(s.Drawings)),
		Votes:            s.Votes,
		StartTime:        s.StartTime.UnixMilli(),
		DrawingTimeLimit: s.DrawingTimeLimit,
		VotingTimeLimit:  s.VotingTimeLimit,
		ActivePlayers:    make(map[string]int64, len(s.ActivePlayers)),
	}
	if record.Votes == nil {
		record.Votes = map[string]string{}
	}
	for _, d := range s.Drawings {
		record.Drawings = append(record.Drawings, drawingRecord(d))
	}
	for id, seen := range s.ActivePlayers {
		record.ActivePlayers[id] = seen.UnixMilli()
	}
	return json.Marshal(record)
}

func (s *State) UnmarshalJSON(data []byte) error {
	var record stateRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return err
	}
	if !record.Phase.Valid() {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidState, record.Phase)
	}
	out := State{
		Phase:            record.Phase,
		CurrentWord:      record.CurrentWord,
		Drawings:         make([]Drawing, 0, len(record.Drawings)),
		Votes:            record.Votes,
		StartTime:        time.UnixMilli(record.StartTime),
		DrawingTimeLimit: record.DrawingTimeLimit,
		VotingTimeLimit:  record.VotingTimeLimit,
		ActivePlayers:    make(map[string]time.Time, len(record.ActivePlayers)),
	}
	if out.Votes == nil {
		out.Votes = map[string]string{}
	}
	for _, d := range record.Drawings {
		out.Drawings = append(out.Drawings, Drawing(d))
	}
	for id, seen := range record.ActivePlayers {
		out.ActivePlayers[id] = time.UnixMilli(seen)
	}
	*s = out
	return nil
}

func Encode(s *State) ([]byte, error) {
	if s == nil {
		return nil, ErrInvalidState
	}
	return json.Marshal(s)
}

func Decode(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
