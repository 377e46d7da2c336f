package statesync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"sketchparty/internal/game"
)

type recorder struct {
	mu     sync.Mutex
	states []*game.State
}

func (r *recorder) listen(state *game.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recorder) last() (*game.State, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return nil, 0
	}
	return r.states[len(r.states)-1], len(r.states)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

// failingStore rejects every write and records whether listeners had
// already seen the value when the write was attempted.
type failingStore struct {
	*MemoryStore
	seenBeforeWrite bool
	rec             *recorder
}

func (f *failingStore) Upsert(ctx context.Context, room string, state *game.State) error {
	_, n := f.rec.last()
	f.seenBeforeWrite = n > 0
	return errors.New("store unavailable")
}

func TestSubscribeReplaysCachedState(t *testing.T) {
	cache := NewMemoryCache()
	cache.Save("r", game.NewState("Elf", testEpoch, game.DefaultLimits()))
	client := NewClient(Options{Room: "r", Store: NewMemoryStore(), Cache: cache})

	rec := &recorder{}
	unsubscribe := client.Subscribe(rec.listen)
	state, n := rec.last()
	if n != 1 || state.CurrentWord != "Elf" {
		t.Fatalf("expected cached replay, got %d states", n)
	}
	unsubscribe()

	client.BroadcastState(context.Background(), game.NewState("Star", testEpoch, game.DefaultLimits()))
	if _, n := rec.last(); n != 1 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", n)
	}
}

func TestGetStateEmptyUntilPopulated(t *testing.T) {
	client := NewClient(Options{Room: "r", Store: NewMemoryStore()})
	if _, ok := client.GetState(); ok {
		t.Fatalf("expected no cached state")
	}
	if _, err := client.GetRemoteState(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBroadcastStateIsOptimistic(t *testing.T) {
	rec := &recorder{}
	store := &failingStore{MemoryStore: NewMemoryStore(), rec: rec}
	client := NewClient(Options{Room: "r", Store: store})
	client.Subscribe(rec.listen)

	client.BroadcastState(context.Background(), game.NewState("Elf", testEpoch, game.DefaultLimits()))
	if !store.seenBeforeWrite {
		t.Fatalf("expected listeners notified before the store write")
	}
	if state, ok := client.GetState(); !ok || state.CurrentWord != "Elf" {
		t.Fatalf("expected optimistic local state to survive a failed write")
	}
	if _, err := store.Fetch(context.Background(), "r"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected store untouched, got %v", err)
	}
}

func TestGetStateReturnsCopy(t *testing.T) {
	client := NewClient(Options{Room: "r", Store: NewMemoryStore()})
	client.BroadcastState(context.Background(), game.NewState("Elf", testEpoch, game.DefaultLimits()))
	state, _ := client.GetState()
	state.CurrentWord = "mutated"
	again, _ := client.GetState()
	if again.CurrentWord != "Elf" {
		t.Fatalf("expected cache isolated from callers")
	}
}

func TestClientsConvergeThroughStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewMemoryStore()
	seedRoom(t, store, "r")

	alice := NewClient(Options{Room: "r", Store: store})
	bob := NewClient(Options{Room: "r", Store: store})
	alice.Start(ctx)
	bob.Start(ctx)

	rec := &recorder{}
	bob.Subscribe(rec.listen)

	drawing := game.NewDrawing("alice", "Alice", "Snowman", "img", testEpoch.Add(time.Second))
	if _, err := alice.SubmitDrawing(ctx, drawing); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool {
		state, _ := rec.last()
		return state != nil && len(state.Drawings) == 1
	})
}

func TestClientsConvergeThroughBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewLocalBus()
	alice := NewClient(Options{Room: "r", Bus: bus})
	bob := NewClient(Options{Room: "r", Bus: bus})
	alice.Start(ctx)
	bob.Start(ctx)

	aliceRec := &recorder{}
	bobRec := &recorder{}
	alice.Subscribe(aliceRec.listen)
	bob.Subscribe(bobRec.listen)

	alice.BroadcastState(ctx, game.NewState("Elf", testEpoch, game.DefaultLimits()))
	if state, _ := bobRec.last(); state == nil || state.CurrentWord != "Elf" {
		t.Fatalf("expected bob to receive the bus update")
	}
	if _, n := aliceRec.last(); n != 1 {
		t.Fatalf("expected alice to ignore her own echo, got %d deliveries", n)
	}

	alice.Clear(ctx)
	if _, ok := bob.GetState(); ok {
		t.Fatalf("expected bob cleared through the bus")
	}
	if state, n := bobRec.last(); n != 2 || state != nil {
		t.Fatalf("expected nil delivered on clear")
	}
}

func TestNarrowOperationRejectedLeavesCache(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	client := NewClient(Options{Room: "r", Store: store, Clock: clockwork.NewFakeClockAt(testEpoch)})
	if _, err := client.ResetRound(ctx, game.RoundReset{Word: "Elf", StartTime: testEpoch}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := client.AdvancePhase(ctx, game.PhaseUpdate{From: game.PhaseDrawing, To: game.PhaseVoting}); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected empty round advance rejected, got %v", err)
	}
	state, ok := client.GetState()
	if !ok || state.Phase != game.PhaseDrawing {
		t.Fatalf("expected cache still drawing")
	}
}

func TestRoomFromRequest(t *testing.T) {
	cases := []struct {
		url      string
		fallback string
		want     string
	}{
		{"/api/game", "", DefaultRoom},
		{"/api/game", "lobby", "lobby"},
		{"/api/game?room=party", "lobby", "party"},
		{"/api/game?room=%20", "", DefaultRoom},
	}
	for _, tc := range cases {
		req := httptestRequest(t, tc.url)
		if got := RoomFromRequest(req, tc.fallback); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.url, tc.want, got)
		}
	}
}

func TestConcurrentUpdatesDeliverInOrder(t *testing.T) {
	cache := NewMemoryCache()
	client := NewClient(Options{Room: "r", Cache: cache, Clock: clockwork.NewFakeClockAt(testEpoch)})
	rec := &recorder{}
	client.Subscribe(rec.listen)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			state := game.NewState("word", testEpoch.Add(time.Duration(i)*time.Second), game.DefaultLimits())
			client.BroadcastState(context.Background(), state)
		}(i)
	}
	wg.Wait()

	current, ok := client.GetState()
	if !ok {
		t.Fatalf("expected a current state")
	}
	delivered, n := rec.last()
	if n != 50 {
		t.Fatalf("expected 50 deliveries, got %d", n)
	}
	if !delivered.StartTime.Equal(current.StartTime) {
		t.Fatalf("listener saw %v last, client holds %v", delivered.StartTime, current.StartTime)
	}
	cached, ok := cache.Load("r")
	if !ok {
		t.Fatalf("expected a cached state")
	}
	if !cached.StartTime.Equal(current.StartTime) {
		t.Fatalf("cache holds %v, client holds %v", cached.StartTime, current.StartTime)
	}
}
