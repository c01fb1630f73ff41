package cache

import (
	"time"

	"github.com/maypok86/otter/v2"
)

const defaultMaxEntries = 256

// Cache keeps fetched playlist bodies keyed by source URL. Entries expire a
// fixed duration after they were written, so a refresh within the window
// reuses the body instead of hitting the provider again.
type Cache struct {
	playlists *otter.Cache[string, string]
}

// NewCache creates a playlist cache. A zero or negative duration disables it.
func NewCache(duration time.Duration) *Cache {
	c := &Cache{}
	if duration <= 0 {
		return c
	}
	c.playlists = otter.Must(&otter.Options[string, string]{
		MaximumSize:      defaultMaxEntries,
		ExpiryCalculator: otter.ExpiryWriting[string, string](duration),
	})
	return c
}

// Enabled reports whether entries are kept at all
func (c *Cache) Enabled() bool {
	return c != nil && c.playlists != nil
}

// GetPlaylist returns a cached playlist body
func (c *Cache) GetPlaylist(key string) (string, bool) {
	if !c.Enabled() {
		return "", false
	}
	return c.playlists.GetIfPresent(key)
}

// SetPlaylist stores a playlist body
func (c *Cache) SetPlaylist(key, body string) {
	if !c.Enabled() {
		return
	}
	c.playlists.Set(key, body)
}

// Invalidate drops one playlist
func (c *Cache) Invalidate(key string) {
	if !c.Enabled() {
		return
	}
	c.playlists.Invalidate(key)
}

// Clear drops everything
func (c *Cache) Clear() {
	if !c.Enabled() {
		return
	}
	c.playlists.InvalidateAll()
}

