package level

import (
	"log/slog"
	"sync"

	"github.com/ctfmode/extension/internal/match"
)

const noMap = "No map loaded"

// Context holds the current map and its match
type Context struct {
	mu      sync.RWMutex
	mapName string
	match   *match.Match
}

// NewContext creates a new Context with default values
func NewContext() *Context {
	return &Context{mapName: noMap}
}

// MapName returns the current map name
func (c *Context) MapName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mapName
}

// Match returns the current match, nil between levels
func (c *Context) Match() *match.Match {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.match
}

// Set installs the match of a freshly loaded map
func (c *Context) Set(mapName string, m *match.Match) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mapName = mapName
	c.match = m
}

// Clear forgets the current map and returns its match
func (c *Context) Clear() *match.Match {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.match
	c.mapName = noMap
	c.match = nil
	return m
}

// LogAttrs returns the attributes injected into every log record
func (c *Context) LogAttrs() []slog.Attr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	attrs := []slog.Attr{slog.String("map", c.mapName)}
	if c.match != nil {
		attrs = append(attrs, slog.Uint64("round", uint64(c.match.Round())))
	}
	return attrs
}
