package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"sketchparty/internal/game"
	"sketchparty/internal/statesync"
)

// Roster keeps heartbeats out of the durable room row.
type Roster interface {
	Beat(ctx context.Context, room, playerID string, at time.Time) error
	Leave(ctx context.Context, room, playerID string) error
	Active(ctx context.Context, room string, now time.Time, ttl time.Duration) (map[string]time.Time, error)
}

type MemoryRoster struct {
	mu    sync.Mutex
	rooms map[string]map[string]time.Time
}

func NewMemoryRoster() *MemoryRoster {
	return &MemoryRoster{rooms: make(map[string]map[string]time.Time)}
}

func (m *MemoryRoster) Beat(ctx context.Context, room, playerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	players := m.rooms[room]
	if players == nil {
		players = make(map[string]time.Time)
		m.rooms[room] = players
	}
	players[playerID] = at
	return nil
}

func (m *MemoryRoster) Leave(ctx context.Context, room, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms[room], playerID)
	return nil
}

func (m *MemoryRoster) Active(ctx context.Context, room string, now time.Time, ttl time.Duration) (map[string]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := game.PruneInactive(m.rooms[room], now, ttl)
	m.rooms[room] = live
	out := make(map[string]time.Time, len(live))
	for id, seen := range live {
		out[id] = seen
	}
	return out, nil
}

const DefaultBucket = "sketchparty_presence"

// NATSRoster stores heartbeats in a JetStream key-value bucket whose TTL
// expires silent participants server-side. Keys are <room>.<player>.
type NATSRoster struct {
	kv jetstream.KeyValue
}

func NewNATSRoster(ctx context.Context, nc *nats.Conn, bucket string, ttl time.Duration) (*NATSRoster, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "participant heartbeats",
		TTL:         ttl,
		History:     1,
		Storage:     jetstream.MemoryStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create presence bucket: %w", err)
	}
	return &NATSRoster{kv: kv}, nil
}

func rosterKey(room, playerID string) string {
	return statesync.SubjectToken(room) + "." + statesync.SubjectToken(playerID)
}

func (r *NATSRoster) Beat(ctx context.Context, room, playerID string, at time.Time) error {
	value := strconv.FormatInt(at.UnixMilli(), 10) + " " + playerID
	if _, err := r.kv.Put(ctx, rosterKey(room, playerID), []byte(value)); err != nil {
		return fmt.Errorf("put heartbeat: %w", err)
	}
	return nil
}

func (r *NATSRoster) Leave(ctx context.Context, room, playerID string) error {
	err := r.kv.Delete(ctx, rosterKey(room, playerID))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete heartbeat: %w", err)
	}
	return nil
}

func (r *NATSRoster) Active(ctx context.Context, room string, now time.Time, ttl time.Duration) (map[string]time.Time, error) {
	keys, err := r.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return map[string]time.Time{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list heartbeats: %w", err)
	}
	prefix := statesync.SubjectToken(room) + "."
	seen := make(map[string]time.Time)
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entry, err := r.kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read heartbeat %s: %w", key, err)
		}
		playerID, at, ok := parseBeat(entry.Value())
		if !ok {
			continue
		}
		seen[playerID] = at
	}
	return game.PruneInactive(seen, now, ttl), nil
}

// parseBeat reads "<unix ms> <player id>". The raw id is kept in the value
// because the key form is sanitized.
func parseBeat(value []byte) (string, time.Time, bool) {
	ms, playerID, ok := strings.Cut(string(value), " ")
	if !ok || playerID == "" {
		return "", time.Time{}, false
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return playerID, time.UnixMilli(n), true
}
