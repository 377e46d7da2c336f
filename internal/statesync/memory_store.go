package statesync

import (
	"context"
	"sync"

	"sketchparty/internal/game"
)

const watchBuffer = 32

// MemoryStore is an in-process RemoteStore. It backs the fallback HTTP
// server and tests, and is lost on restart.
type MemoryStore struct {
	mu       sync.Mutex
	rooms    map[string]*game.State
	watchers map[string]map[chan Change]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[string]*game.State),
		watchers: make(map[string]map[chan Change]struct{}),
	}
}

func (m *MemoryStore) Fetch(ctx context.Context, room string) (*game.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.rooms[room]
	if !ok {
		return nil, notFound(room)
	}
	return state.Clone(), nil
}

func (m *MemoryStore) Upsert(ctx context.Context, room string, state *game.State) error {
	_, err := m.mutate(room, func(*game.State) (*game.State, error) {
		return state.Clone(), nil
	})
	return err
}

func (m *MemoryStore) Delete(ctx context.Context, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, room)
	m.notifyLocked(Change{Room: room})
	return nil
}

func (m *MemoryStore) SubmitDrawing(ctx context.Context, room string, drawing game.Drawing) (*game.State, error) {
	return m.mutate(room, func(current *game.State) (*game.State, error) {
		if current == nil {
			return nil, notFound(room)
		}
		next, err := current.Submit(drawing)
		if err != nil {
			return nil, reject(err)
		}
		return next, nil
	})
}

func (m *MemoryStore) SubmitVote(ctx context.Context, room, voterID, drawingID string) (*game.State, error) {
	return m.mutate(room, func(current *game.State) (*game.State, error) {
		if current == nil {
			return nil, notFound(room)
		}
		next, err := current.CastVote(voterID, drawingID)
		if err != nil {
			return nil, reject(err)
		}
		return next, nil
	})
}

func (m *MemoryStore) UpdatePhase(ctx context.Context, room string, update game.PhaseUpdate) (*game.State, error) {
	return m.mutate(room, func(current *game.State) (*game.State, error) {
		if current == nil {
			return nil, notFound(room)
		}
		next, err := current.Advance(update)
		if err != nil {
			return nil, reject(err)
		}
		return next, nil
	})
}

func (m *MemoryStore) ResetRound(ctx context.Context, room string, reset game.RoundReset) (*game.State, error) {
	return m.mutate(room, func(current *game.State) (*game.State, error) {
		next, err := current.Reset(reset)
		if err != nil {
			return nil, reject(err)
		}
		return next, nil
	})
}

// Watch delivers changes in commit order. A slow reader loses the oldest
// pending change rather than blocking writers.
func (m *MemoryStore) Watch(ctx context.Context, room string) (<-chan Change, error) {
	ch := make(chan Change, watchBuffer)
	m.mu.Lock()
	group := m.watchers[room]
	if group == nil {
		group = make(map[chan Change]struct{})
		m.watchers[room] = group
	}
	group[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers[room], ch)
		if len(m.watchers[room]) == 0 {
			delete(m.watchers, room)
		}
		close(ch)
	}()
	return ch, nil
}

func (m *MemoryStore) mutate(room string, fn func(current *game.State) (*game.State, error)) (*game.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := fn(m.rooms[room].Clone())
	if err != nil {
		return nil, err
	}
	m.rooms[room] = next
	m.notifyLocked(Change{Room: room, State: next.Clone()})
	return next.Clone(), nil
}

func (m *MemoryStore) notifyLocked(change Change) {
	for ch := range m.watchers[change.Room] {
		select {
		case ch <- change:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- change:
		default:
		}
	}
}
