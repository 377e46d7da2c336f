package game

import (
	"fmt"
	"math/rand"
	"strconv"
	"time"
)

const userIDSuffixLength = 9

// NewUserID returns an id of the form user_<millis>_<base36 suffix>. The
// random suffix keeps ids distinct within the same millisecond on one host;
// it is not a global uniqueness guarantee.
func NewUserID(now time.Time) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	buf := make([]byte, userIDSuffixLength)
	for i := range buf {
		buf[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return fmt.Sprintf("user_%d_%s", now.UnixMilli(), buf)
}

// DrawingID derives a drawing id from its author and submission time.
func DrawingID(authorID string, at time.Time) string {
	return authorID + "_" + strconv.FormatInt(at.UnixMilli(), 10)
}

// DisplayName falls back to "Player <last 4 of id>" for anonymous players.
func DisplayName(name, userID string) string {
	if name != "" {
		return name
	}
	suffix := userID
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "Player " + suffix
}
