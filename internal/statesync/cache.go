package statesync

import (
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"sketchparty/internal/game"
)

type MemoryCache struct {
	mu     sync.Mutex
	states map[string]*game.State
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{states: make(map[string]*game.State)}
}

func (c *MemoryCache) Load(room string) (*game.State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.states[room]
	if !ok {
		return nil, false
	}
	return state.Clone(), true
}

func (c *MemoryCache) Save(room string, state *game.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[room] = state.Clone()
}

func (c *MemoryCache) Remove(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, room)
}

// FileCache keeps one JSON file per room under dir and survives restarts.
type FileCache struct {
	dir string
	mu  sync.Mutex
}

func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileCache{dir: dir}, nil
}

func (c *FileCache) path(room string) string {
	return filepath.Join(c.dir, url.PathEscape(room)+".json")
}

func (c *FileCache) Load(room string) (*game.State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := os.ReadFile(c.path(room))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("room", room).Msg("cache read failed")
		}
		return nil, false
	}
	state, err := game.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("room", room).Msg("cache entry unreadable")
		return nil, false
	}
	return state, true
}

func (c *FileCache) Save(room string, state *game.State) {
	data, err := game.Encode(state)
	if err != nil {
		log.Warn().Err(err).Str("room", room).Msg("cache encode failed")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tmp := c.path(room) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Warn().Err(err).Str("room", room).Msg("cache write failed")
		return
	}
	if err := os.Rename(tmp, c.path(room)); err != nil {
		log.Warn().Err(err).Str("room", room).Msg("cache write failed")
	}
}

func (c *FileCache) Remove(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.path(room)); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("room", room).Msg("cache remove failed")
	}
}
