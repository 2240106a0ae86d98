package scancache

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagforge/tcdb/compressors"
	"github.com/tagforge/tcdb/core"
)

func populatedCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(MinCeiling, testLogger())
	require.NoError(t, err)
	c.Set("/music/a.mp3", Record{
		Size:  1111,
		MTime: time.Unix(1700000000, 0),
		Tags:  core.TagSet{"artist": {"A"}, "genre": {"Rock", "Indie"}},
	})
	c.Set("/music/b.mp3", Record{
		Size:  2222,
		MTime: time.Unix(1700000100, 0),
		Tags:  core.TagSet{"artist": {"B"}},
	})
	return c
}

func TestSnapshotRoundTrip(t *testing.T) {
	for _, comp := range []core.Compressor{
		&compressors.NoCompressionCompressor{},
		compressors.NewSnappyCompressor(),
		compressors.NewLz4Compressor(),
		compressors.NewZstdCompressor(),
	} {
		t.Run(comp.Type().String(), func(t *testing.T) {
			src := populatedCache(t)
			path := filepath.Join(t.TempDir(), "scan_cache.tcs")

			saved, missing, err := src.Save(path, nil, comp)
			require.NoError(t, err)
			assert.Equal(t, 2, saved)
			assert.Zero(t, missing)

			dst, err := New(MinCeiling, testLogger())
			require.NoError(t, err)
			loaded, skipped, err := dst.Load(path)
			require.NoError(t, err)
			assert.Equal(t, 2, loaded)
			assert.Zero(t, skipped)

			rec, ok := dst.Get("/music/a.mp3")
			require.True(t, ok)
			assert.Equal(t, int64(1111), rec.Size)
			assert.Equal(t, int64(1700000000), rec.MTime.Unix())
			assert.Equal(t, []string{"Rock", "Indie"}, rec.Tags["genre"])
		})
	}
}

func TestSnapshotKeepSet(t *testing.T) {
	src := populatedCache(t)
	path := filepath.Join(t.TempDir(), "scan_cache.tcs")

	keep := map[string]struct{}{
		"/music/a.mp3":       {},
		"/music/evicted.mp3": {}, // requested but no longer cached
	}
	saved, missing, err := src.Save(path, keep, &compressors.NoCompressionCompressor{})
	require.NoError(t, err)
	assert.Equal(t, 1, saved)
	assert.Equal(t, 1, missing)

	dst, err := New(MinCeiling, testLogger())
	require.NoError(t, err)
	loaded, _, err := dst.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
	assert.False(t, dst.Contains("/music/b.mp3"))
}

func TestSnapshotDeterministicBytes(t *testing.T) {
	path1 := filepath.Join(t.TempDir(), "one.tcs")
	path2 := filepath.Join(t.TempDir(), "two.tcs")

	c1 := populatedCache(t)
	c2 := populatedCache(t)
	// Different access order must not change snapshot bytes.
	c2.Get("/music/a.mp3")

	_, _, err := c1.Save(path1, nil, &compressors.NoCompressionCompressor{})
	require.NoError(t, err)
	_, _, err = c2.Save(path2, nil, &compressors.NoCompressionCompressor{})
	require.NoError(t, err)

	b1, err := os.ReadFile(path1)
	require.NoError(t, err)
	b2, err := os.ReadFile(path2)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tcs")
	require.NoError(t, os.WriteFile(path, make([]byte, snapshotHeaderSize), 0o644))

	c, err := New(MinCeiling, testLogger())
	require.NoError(t, err)
	_, _, err = c.Load(path)
	assert.ErrorIs(t, err, core.ErrUnsupportedVersion)
}

func TestLoadRejectsChecksumMismatch(t *testing.T) {
	src := populatedCache(t)
	path := filepath.Join(t.TempDir(), "scan_cache.tcs")
	_, _, err := src.Save(path, nil, &compressors.NoCompressionCompressor{})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	dst, err := New(MinCeiling, testLogger())
	require.NoError(t, err)
	_, _, err = dst.Load(path)
	assert.ErrorIs(t, err, core.ErrCorrupted)
}

func TestLoadSkipsCorruptRecord(t *testing.T) {
	src := populatedCache(t)
	path := filepath.Join(t.TempDir(), "scan_cache.tcs")
	_, _, err := src.Save(path, nil, &compressors.NoCompressionCompressor{})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	// Records are sorted, so the first is /music/a.mp3. Corrupt its path
	// length so decoding fails, then recompute the payload checksum so
	// only the record is bad, not the file.
	payload := raw[snapshotHeaderSize:]
	recStart := 4 + 4 // count + first record's length prefix
	binary.LittleEndian.PutUint16(payload[recStart:], 0xFFFF)
	binary.LittleEndian.PutUint32(raw[8:12], crc32.ChecksumIEEE(payload))
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	dst, err := New(MinCeiling, testLogger())
	require.NoError(t, err)
	loaded, skipped, err := dst.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
	assert.Equal(t, 1, skipped)
	assert.False(t, dst.Contains("/music/a.mp3"))
	assert.True(t, dst.Contains("/music/b.mp3"))
}
