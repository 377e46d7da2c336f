package statesync

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"sketchparty/internal/game"
)

// Listener receives every observed state. A nil state means the room was
// cleared. Deliveries are serialized; a listener must not call back into
// the Client's write methods.
type Listener func(state *game.State)

type Options struct {
	Room  string
	Store RemoteStore
	Bus   Bus
	Cache Cache
	Clock clockwork.Clock
}

// Client is one participant's view of a room. Store failures are logged and
// swallowed; callers see them only as "nothing changed yet".
type Client struct {
	room   string
	origin string
	store  RemoteStore
	bus    Bus
	cache  Cache
	clock  clockwork.Clock

	// deliver orders cache writes and listener fan-out with updates to
	// current.
	deliver   sync.Mutex
	mu        sync.Mutex
	current   *game.State
	listeners map[int]Listener
	nextID    int
}

func NewClient(opts Options) *Client {
	room := opts.Room
	if room == "" {
		room = DefaultRoom
	}
	cache := opts.Cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c := &Client{
		room:      room,
		origin:    uuid.NewString(),
		store:     opts.Store,
		bus:       opts.Bus,
		cache:     cache,
		clock:     clock,
		listeners: make(map[int]Listener),
	}
	if cached, ok := cache.Load(room); ok {
		c.current = cached
	}
	return c
}

func (c *Client) Room() string {
	return c.room
}

func (c *Client) Clock() clockwork.Clock {
	return c.clock
}

// Start wires the bus and the store change feed into the listeners and
// performs the initial fetch. Everything it starts stops with ctx.
func (c *Client) Start(ctx context.Context) {
	if c.bus != nil {
		cancel, err := c.bus.Subscribe(c.room, c.handleMessage)
		if err != nil {
			log.Error().Err(err).Str("room", c.room).Msg("bus subscribe failed")
		} else {
			go func() {
				<-ctx.Done()
				cancel()
			}()
		}
	}
	if c.store != nil {
		changes, err := c.store.Watch(ctx, c.room)
		if err != nil {
			log.Error().Err(err).Str("room", c.room).Msg("store watch failed")
		} else {
			go c.consume(ctx, changes)
		}
	}
	if _, err := c.GetRemoteState(ctx); err != nil && !errors.Is(err, ErrNotFound) {
		log.Warn().Err(err).Str("room", c.room).Msg("initial fetch failed")
	}
}

// Subscribe registers fn and replays the cached state to it right away.
func (c *Client) Subscribe(fn Listener) func() {
	c.deliver.Lock()
	defer c.deliver.Unlock()
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	current := c.current.Clone()
	c.mu.Unlock()

	if current != nil {
		fn(current)
	}
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// GetState returns the last cached value, which may lag the store.
func (c *Client) GetState() (*game.State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, false
	}
	return c.current.Clone(), true
}

// GetRemoteState reads the store directly. A successful read also
// refreshes the cache and listeners.
func (c *Client) GetRemoteState(ctx context.Context) (*game.State, error) {
	if c.store == nil {
		return nil, notFound(c.room)
	}
	state, err := c.store.Fetch(ctx, c.room)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Error().Err(err).Str("room", c.room).Msg("fetch state failed")
		}
		return nil, err
	}
	c.observe(state)
	return state.Clone(), nil
}

// BroadcastState replaces the room's state. Local listeners and the bus see
// the value before the store write completes.
func (c *Client) BroadcastState(ctx context.Context, state *game.State) {
	if state == nil {
		return
	}
	c.observe(state)
	c.publish(ctx, NewUpdateMessage(c.origin, state, c.clock.Now()))
	if c.store == nil {
		return
	}
	if err := c.store.Upsert(ctx, c.room, state); err != nil {
		log.Error().Err(err).Str("room", c.room).Msg("persist state failed")
	}
}

func (c *Client) SubmitDrawing(ctx context.Context, drawing game.Drawing) (*game.State, error) {
	return c.apply(ctx, "submit drawing", func() (*game.State, error) {
		return c.store.SubmitDrawing(ctx, c.room, drawing)
	})
}

func (c *Client) CastVote(ctx context.Context, voterID, drawingID string) (*game.State, error) {
	return c.apply(ctx, "cast vote", func() (*game.State, error) {
		return c.store.SubmitVote(ctx, c.room, voterID, drawingID)
	})
}

func (c *Client) AdvancePhase(ctx context.Context, update game.PhaseUpdate) (*game.State, error) {
	return c.apply(ctx, "advance phase", func() (*game.State, error) {
		return c.store.UpdatePhase(ctx, c.room, update)
	})
}

func (c *Client) ResetRound(ctx context.Context, reset game.RoundReset) (*game.State, error) {
	return c.apply(ctx, "reset round", func() (*game.State, error) {
		return c.store.ResetRound(ctx, c.room, reset)
	})
}

// Clear deletes the room and tells listeners it is gone.
func (c *Client) Clear(ctx context.Context) {
	if c.store != nil {
		if err := c.store.Delete(ctx, c.room); err != nil {
			log.Error().Err(err).Str("room", c.room).Msg("clear state failed")
		}
	}
	c.clearLocal()
	c.publish(ctx, NewClearMessage(c.origin, c.clock.Now()))
}

func (c *Client) apply(ctx context.Context, op string, call func() (*game.State, error)) (*game.State, error) {
	if c.store == nil {
		return nil, notFound(c.room)
	}
	state, err := call()
	if err != nil {
		if errors.Is(err, ErrRejected) {
			log.Debug().Err(err).Str("room", c.room).Str("op", op).Msg("store rejected operation")
		} else {
			log.Error().Err(err).Str("room", c.room).Str("op", op).Msg("store operation failed")
		}
		return nil, err
	}
	c.observe(state)
	c.publish(ctx, NewUpdateMessage(c.origin, state, c.clock.Now()))
	return state.Clone(), nil
}

func (c *Client) publish(ctx context.Context, msg Message) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(ctx, c.room, msg); err != nil {
		log.Warn().Err(err).Str("room", c.room).Msg("bus publish failed")
	}
}

func (c *Client) handleMessage(msg Message) {
	if msg.Origin == c.origin {
		return
	}
	switch msg.Type {
	case MessageStateUpdate:
		if msg.State != nil {
			c.observe(msg.State)
		}
	case MessageStateClear:
		c.clearLocal()
	}
}

func (c *Client) consume(ctx context.Context, changes <-chan Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if change.State == nil {
				c.clearLocal()
				continue
			}
			c.observe(change.State)
		}
	}
}

func (c *Client) observe(state *game.State) {
	state = state.Clone()
	c.deliver.Lock()
	defer c.deliver.Unlock()
	c.mu.Lock()
	c.current = state
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	c.cache.Save(c.room, state)
	for _, fn := range listeners {
		fn(state.Clone())
	}
}

func (c *Client) clearLocal() {
	c.deliver.Lock()
	defer c.deliver.Unlock()
	c.mu.Lock()
	c.current = nil
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	c.cache.Remove(c.room)
	for _, fn := range listeners {
		fn(nil)
	}
}

func (c *Client) snapshotListeners() []Listener {
	out := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		out = append(out, fn)
	}
	return out
}
