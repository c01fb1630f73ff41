package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaylistRoundTrip(t *testing.T) {
	c := NewCache(time.Minute)
	require.True(t, c.Enabled())

	_, ok := c.GetPlaylist("http://a/list.m3u")
	assert.False(t, ok)

	c.SetPlaylist("http://a/list.m3u", "#EXTM3U")
	body, ok := c.GetPlaylist("http://a/list.m3u")
	assert.True(t, ok)
	assert.Equal(t, "#EXTM3U", body)

	c.Invalidate("http://a/list.m3u")
	_, ok = c.GetPlaylist("http://a/list.m3u")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	c := NewCache(time.Minute)
	c.SetPlaylist("a", "1")
	c.SetPlaylist("b", "2")
	c.Clear()
	_, okA := c.GetPlaylist("a")
	_, okB := c.GetPlaylist("b")
	assert.False(t, okA)
	assert.False(t, okB)
}

func TestExpiry(t *testing.T) {
	c := NewCache(50 * time.Millisecond)
	c.SetPlaylist("a", "1")
	require.Eventually(t, func() bool {
		_, ok := c.GetPlaylist("a")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestDisabledCache(t *testing.T) {
	c := NewCache(0)
	assert.False(t, c.Enabled())
	c.SetPlaylist("a", "1")
	_, ok := c.GetPlaylist("a")
	assert.False(t, ok)
	c.Clear()

	var nilCache *Cache
	assert.False(t, nilCache.Enabled())
}
