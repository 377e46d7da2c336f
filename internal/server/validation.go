package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"sketchparty/internal/statesync"
)

const (
	maxRoomLength    = 64
	maxIDLength      = 128
	maxNameLength    = 32
	maxWordLength    = 60
	maxDrawingBytes  = 2 << 20
	maxDrawingBody   = maxDrawingBytes*4/3 + 16<<10
	maxSmallBody     = 16 << 10
	maxGameStateBody = 64 << 20
)

func validateRoom(room string) (string, error) {
	trimmed := strings.TrimSpace(room)
	if trimmed == "" {
		return "", errors.New("room is required")
	}
	if len(trimmed) > maxRoomLength {
		return "", fmt.Errorf("room must be %d characters or fewer", maxRoomLength)
	}
	if !isSafeID(trimmed) {
		return "", errors.New("room contains unsupported characters")
	}
	return trimmed, nil
}

func validateID(label, id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", fmt.Errorf("%s is required", label)
	}
	if len(trimmed) > maxIDLength {
		return "", fmt.Errorf("%s must be %d characters or fewer", label, maxIDLength)
	}
	if !isSafeID(trimmed) {
		return "", fmt.Errorf("%s contains unsupported characters", label)
	}
	return trimmed, nil
}

// validateName allows an empty name; the author is then shown as
// "Player <id suffix>".
func validateName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", nil
	}
	return validateText("name", name, maxNameLength)
}

func validateWord(word string) (string, error) {
	if strings.TrimSpace(word) == "" {
		return "", nil
	}
	return validateText("word", word, maxWordLength)
}

func validateDrawing(req statesync.DrawingRequest) (statesync.DrawingRequest, error) {
	var err error
	if req.AuthorID, err = validateID("authorId", req.AuthorID); err != nil {
		return req, err
	}
	if req.ID != "" {
		if req.ID, err = validateID("id", req.ID); err != nil {
			return req, err
		}
	}
	if req.Author, err = validateName(req.Author); err != nil {
		return req, err
	}
	if req.Word, err = validateWord(req.Word); err != nil {
		return req, err
	}
	image, err := decodeImageData(req.ImageData)
	if err != nil {
		return req, fmt.Errorf("imageData: %w", err)
	}
	if len(image) > maxDrawingBytes {
		return req, fmt.Errorf("drawing must be %d bytes or fewer", maxDrawingBytes)
	}
	if !strings.HasPrefix(http.DetectContentType(image), "image/") {
		return req, errors.New("imageData is not an image")
	}
	return req, nil
}

func validateVote(req statesync.VoteRequest) (statesync.VoteRequest, error) {
	var err error
	if req.VoterID, err = validateID("voterId", req.VoterID); err != nil {
		return req, err
	}
	if req.DrawingID, err = validateID("drawingId", req.DrawingID); err != nil {
		return req, err
	}
	return req, nil
}

func validatePhase(req statesync.PhaseRequest) error {
	if !req.From.Valid() || !req.To.Valid() {
		return errors.New("unknown phase")
	}
	if next, ok := req.From.Next(); !ok || next != req.To {
		return fmt.Errorf("cannot move from %s to %s", req.From, req.To)
	}
	return nil
}

func validateReset(req statesync.ResetRequest) (statesync.ResetRequest, error) {
	var err error
	if req.Word, err = validateWord(req.Word); err != nil {
		return req, err
	}
	if req.PlayerID != "" {
		if req.PlayerID, err = validateID("playerId", req.PlayerID); err != nil {
			return req, err
		}
	}
	if req.DrawingTimeLimit < 0 || req.VotingTimeLimit < 0 {
		return req, errors.New("time limits must be positive")
	}
	return req, nil
}

func validateText(label, text string, maxLen int) (string, error) {
	trimmed := normalizeText(text)
	if trimmed == "" {
		return "", fmt.Errorf("%s is required", label)
	}
	if utf8.RuneCountInString(trimmed) > maxLen {
		return "", fmt.Errorf("%s must be %d characters or fewer", label, maxLen)
	}
	if !isSafeText(trimmed) {
		return "", fmt.Errorf("%s contains unsupported characters", label)
	}
	return trimmed, nil
}

func normalizeText(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	return strings.Join(fields, " ")
}

// isSafeText accepts printable text in any script. Control characters and
// markup brackets are refused.
func isSafeText(text string) bool {
	for _, r := range text {
		if r == utf8.RuneError || !unicode.IsPrint(r) {
			return false
		}
		if r == '<' || r == '>' {
			return false
		}
	}
	return true
}

// isSafeID accepts the characters produced by game.NewUserID and
// game.DrawingID plus a few separators rooms commonly use.
func isSafeID(text string) bool {
	for _, r := range text {
		if !isIDRune(r) && r != '.' {
			return false
		}
	}
	return true
}

func isIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_':
		return true
	}
	return false
}
