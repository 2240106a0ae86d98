package scancache

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagforge/tcdb/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRecord(artist string) Record {
	return Record{
		Size:  4096,
		MTime: time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local),
		Tags:  core.TagSet{"artist": {artist}, "title": {"t"}},
	}
}

// newTestCache returns a cache whose ceiling fits roughly k typical
// test entries, worked out from the cost model rather than a magic
// number.
func newTestCache(t *testing.T, k int) *Cache {
	t.Helper()
	c, err := New(MinCeiling, testLogger())
	require.NoError(t, err)
	cost := entryCost(Key("/music/track000.mp3"), testRecord("artist"))
	// SetCeiling would reject small values, so poke the field directly.
	c.ceiling = cost * int64(k)
	return c
}

func TestNewRejectsLowCeiling(t *testing.T) {
	_, err := New(MinCeiling-1, testLogger())
	assert.ErrorIs(t, err, core.ErrCeilingTooLow)

	c, err := New(MinCeiling, testLogger())
	require.NoError(t, err)
	assert.Equal(t, int64(MinCeiling), c.Ceiling())
}

func TestKeyNormalization(t *testing.T) {
	c := newTestCache(t, 10)
	c.Set("/Music/Track.MP3", testRecord("a"))

	_, ok := c.Get("/music/track.mp3")
	assert.True(t, ok)
	assert.True(t, c.Contains("/MUSIC/TRACK.mp3"))
}

func TestLRUEviction(t *testing.T) {
	const k = 8
	c := newTestCache(t, k)

	for i := 0; i < k; i++ {
		c.Set(fmt.Sprintf("/music/track%03d.mp3", i), testRecord("artist"))
	}
	require.Equal(t, k, c.Len())

	// One more insert crosses the ceiling and evicts from the LRU tail,
	// which is the first inserted entry.
	c.Set("/music/overflow.mp3", testRecord("artist"))
	assert.Less(t, c.Len(), k+1)
	_, ok := c.Get("/music/track000.mp3")
	assert.False(t, ok, "oldest entry should have been evicted")
}

func TestGetProtectsFromEviction(t *testing.T) {
	const k = 8
	c := newTestCache(t, k)

	for i := 0; i < k; i++ {
		c.Set(fmt.Sprintf("/music/track%03d.mp3", i), testRecord("artist"))
	}

	// Touch the oldest entry; the next eviction must take track001.
	_, ok := c.Get("/music/track000.mp3")
	require.True(t, ok)

	c.Set("/music/overflow.mp3", testRecord("artist"))
	_, ok = c.Get("/music/track000.mp3")
	assert.True(t, ok, "recently touched entry should survive")
	_, ok = c.Get("/music/track001.mp3")
	assert.False(t, ok)
}

func TestSetCeilingRetrims(t *testing.T) {
	c, err := New(MinCeiling, testLogger())
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		c.Set(fmt.Sprintf("/music/track%03d.mp3", i), testRecord("artist"))
	}
	require.Equal(t, 100, c.Len())

	assert.ErrorIs(t, c.SetCeiling(1), core.ErrCeilingTooLow)
	require.NoError(t, c.SetCeiling(MinCeiling))
	assert.Equal(t, 100, c.Len(), "raising the ceiling must not evict")
}

func TestCleanupKeepsOnlyGivenKeys(t *testing.T) {
	c := newTestCache(t, 10)
	c.Set("/music/a.mp3", testRecord("a"))
	c.Set("/music/b.mp3", testRecord("b"))
	c.Set("/music/c.mp3", testRecord("c"))

	removed := c.Cleanup(map[string]struct{}{
		"/music/a.mp3": {},
		"/music/c.mp3": {},
	})
	assert.Equal(t, 1, removed)
	assert.True(t, c.Contains("/music/a.mp3"))
	assert.False(t, c.Contains("/music/b.mp3"))
	assert.True(t, c.Contains("/music/c.mp3"))
}

func TestUsedBytesAccounting(t *testing.T) {
	c := newTestCache(t, 10)
	require.Zero(t, c.UsedBytes())

	c.Set("/music/a.mp3", testRecord("a"))
	afterOne := c.UsedBytes()
	assert.Positive(t, afterOne)

	// Overwriting in place adjusts, not doubles.
	c.Set("/music/a.mp3", testRecord("bb"))
	assert.InDelta(t, afterOne, c.UsedBytes(), 16)

	c.Clear()
	assert.Zero(t, c.UsedBytes())
	assert.Zero(t, c.Len())
}
