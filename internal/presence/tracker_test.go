package presence

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"sketchparty/internal/game"
	"sketchparty/internal/statesync"
)

var epoch = time.UnixMilli(1_700_000_000_000)

func newClient(t *testing.T, clock clockwork.Clock) (*statesync.Client, *statesync.MemoryStore) {
	t.Helper()
	store := statesync.NewMemoryStore()
	client := statesync.NewClient(statesync.Options{Room: "r", Store: store, Clock: clock})
	_, err := client.ResetRound(context.Background(), game.RoundReset{Word: "Elf", StartTime: clock.Now()})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return client, store
}

func TestStateBeatPrunesStalePlayers(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	client, store := newClient(t, clock)

	clock.Advance(40 * time.Second)
	state, _ := client.GetState()
	state.ActivePlayers["stale"] = clock.Now().Add(-31 * time.Second)
	state.ActivePlayers["recent"] = clock.Now().Add(-5 * time.Second)
	client.BroadcastState(ctx, state)

	tracker := New(client, "me", WithClock(clock))
	if err := tracker.Beat(ctx); err != nil {
		t.Fatalf("beat: %v", err)
	}
	stored, err := store.Fetch(ctx, "r")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, ok := stored.ActivePlayers["stale"]; ok {
		t.Fatalf("expected stale player pruned")
	}
	if _, ok := stored.ActivePlayers["me"]; !ok {
		t.Fatalf("expected own heartbeat stored")
	}
	if got := tracker.ActiveCount(ctx); got != 2 {
		t.Fatalf("expected 2 active players, got %d", got)
	}
}

func TestStateBeatWithoutRoom(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	client := statesync.NewClient(statesync.Options{Room: "empty", Store: statesync.NewMemoryStore(), Clock: clock})
	tracker := New(client, "me", WithClock(clock))
	if err := tracker.Beat(context.Background()); err != nil {
		t.Fatalf("beat: %v", err)
	}
	if _, ok := client.GetState(); ok {
		t.Fatalf("expected beat not to create a room")
	}
	if got := tracker.ActiveCount(context.Background()); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestChannelBeatLeavesStateAlone(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	client, store := newClient(t, clock)
	roster := NewMemoryRoster()

	me := New(client, "me", WithClock(clock), WithRoster(roster))
	you := New(client, "you", WithClock(clock), WithRoster(roster))
	if me.Mode() != ModeChannel {
		t.Fatalf("expected channel mode")
	}
	if err := you.Beat(ctx); err != nil {
		t.Fatalf("beat: %v", err)
	}
	clock.Advance(31 * time.Second)
	if err := me.Beat(ctx); err != nil {
		t.Fatalf("beat: %v", err)
	}

	if got := me.ActiveCount(ctx); got != 1 {
		t.Fatalf("expected only the fresh heartbeat counted, got %d", got)
	}
	stored, _ := store.Fetch(ctx, "r")
	if len(stored.ActivePlayers) != 0 {
		t.Fatalf("expected durable state untouched, got %v", stored.ActivePlayers)
	}

	if err := me.Leave(ctx); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if got := me.ActiveCount(ctx); got != 0 {
		t.Fatalf("expected empty roster after leave, got %d", got)
	}
}

func TestRunBeatsOnInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockwork.NewFakeClockAt(epoch)
	client, _ := newClient(t, clock)
	roster := NewMemoryRoster()
	tracker := New(client, "me", WithClock(clock), WithRoster(roster), WithInterval(2*time.Second))

	go tracker.Run(ctx)
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("ticker not started: %v", err)
	}
	clock.Advance(2 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		active, _ := roster.Active(ctx, "r", clock.Now(), game.PresenceTTL)
		if seen, ok := active["me"]; ok && seen.Equal(clock.Now()) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected a heartbeat at the advanced time")
}

func TestParseMode(t *testing.T) {
	if mode, err := ParseMode(""); err != nil || mode != ModeState {
		t.Fatalf("expected default state mode, got %q (%v)", mode, err)
	}
	if mode, err := ParseMode("channel"); err != nil || mode != ModeChannel {
		t.Fatalf("expected channel mode, got %q (%v)", mode, err)
	}
	if _, err := ParseMode("carrier-pigeon"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestParseBeat(t *testing.T) {
	id, at, ok := parseBeat([]byte("1700000000000 user_1.x"))
	if !ok || id != "user_1.x" || !at.Equal(epoch) {
		t.Fatalf("unexpected parse %q %v %v", id, at, ok)
	}
	if _, _, ok := parseBeat([]byte("garbage")); ok {
		t.Fatalf("expected malformed value rejected")
	}
	if got := rosterKey("a room", "user.1"); got != "a_20room.user_2E1" {
		t.Fatalf("unexpected key %q", got)
	}
}
