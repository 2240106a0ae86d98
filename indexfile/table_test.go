package indexfile

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagforge/tcdb/core"
	"github.com/tagforge/tcdb/tagfile"
)

func buildCatalog(t *testing.T) (FieldTables, *Table) {
	t.Helper()
	tables := NewFieldTables()
	index := New(tables)

	for i, track := range []struct {
		artist, title, path string
	}{
		{"Artist A", "Song One", "/Music/a/01.mp3"},
		{"Artist A", "Song Two", "/Music/a/02.mp3"},
		{"Artist B", "Song Three", "/Music/b/01.mp3"},
	} {
		row := NewRow()
		row.SetRef(core.FieldArtist, tables[core.FieldArtist].Intern(track.artist, ""))
		row.SetRef(core.FieldTitle, tables[core.FieldTitle].Intern(track.title, ""))
		row.SetRef(core.FieldPath, tables[core.FieldPath].Intern(track.path, ""))
		row.Attrs[core.AttrTrackNumber] = uint32(i + 1)
		row.SetMTime(time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local))
		index.Append(row)
	}
	return tables, index
}

func writeCatalog(t *testing.T, dir string, tables FieldTables, index *Table) {
	t.Helper()
	for _, f := range core.Fields() {
		require.NoError(t, tables[f].WriteFile(filepath.Join(dir, f.TableFileName())))
	}
	require.NoError(t, index.WriteFile(filepath.Join(dir, core.IndexFileName)))
}

func readCatalog(t *testing.T, dir string) (FieldTables, *Table) {
	t.Helper()
	tables := make(FieldTables, core.NumFields)
	for _, f := range core.Fields() {
		tbl, err := tagfile.ReadFile(filepath.Join(dir, f.TableFileName()), f)
		require.NoError(t, err)
		tables[f] = tbl
	}
	index, err := ReadFile(filepath.Join(dir, core.IndexFileName), tables, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return tables, index
}

func TestIndexRoundTrip(t *testing.T) {
	tables, index := buildCatalog(t)
	dir := t.TempDir()
	writeCatalog(t, dir, tables, index)

	_, got := readCatalog(t, dir)
	require.Equal(t, index.Count(), got.Count())
	assert.Equal(t, index.Serial, got.Serial)
	assert.Equal(t, index.CommitID, got.CommitID)
	assert.Equal(t, 0, got.OrphanRefs())

	for i, row := range got.Rows() {
		want := index.Rows()[i]
		assert.Equal(t, want.Path(), row.Path())
		assert.Equal(t, want.Ref(core.FieldArtist).Value(), row.Ref(core.FieldArtist).Value())
		assert.Equal(t, want.Attrs, row.Attrs)
	}
}

func TestWriteIncrementsCommitAndClearsDirty(t *testing.T) {
	tables, index := buildCatalog(t)
	index.Dirty = 1
	dir := t.TempDir()

	writeCatalog(t, dir, tables, index)
	assert.Equal(t, uint32(1), index.CommitID)
	assert.Equal(t, uint32(0), index.Dirty)

	require.NoError(t, index.WriteFile(filepath.Join(dir, core.IndexFileName)))
	assert.Equal(t, uint32(2), index.CommitID)
}

func TestWriteRejectsUnserializedTables(t *testing.T) {
	_, index := buildCatalog(t)
	// Offsets are only assigned by writing the tables; skip that.
	err := index.WriteTo(&bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unserialized")
}

func TestReadSubstitutesPlaceholders(t *testing.T) {
	tables, index := buildCatalog(t)
	dir := t.TempDir()
	writeCatalog(t, dir, tables, index)

	// Point row 0's artist reference at an offset no entry occupies.
	idxPath := filepath.Join(dir, core.IndexFileName)
	raw, err := os.ReadFile(idxPath)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(raw[core.IndexHeaderSize:], 0xFFFF)
	require.NoError(t, os.WriteFile(idxPath, raw, 0o644))

	_, got := readCatalog(t, dir)
	require.Equal(t, 3, got.Count())
	assert.Equal(t, 1, got.OrphanRefs())
	assert.Equal(t, core.InvalidRefValue, got.Rows()[0].Ref(core.FieldArtist).Value())
	// Remaining references are untouched.
	assert.Equal(t, "/Music/a/01.mp3", got.Rows()[0].Path())
}

func TestReadToleratesSizeDrift(t *testing.T) {
	tables, index := buildCatalog(t)
	dir := t.TempDir()
	writeCatalog(t, dir, tables, index)

	idxPath := filepath.Join(dir, core.IndexFileName)
	raw, err := os.ReadFile(idxPath)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(raw[4:8], 12345)
	require.NoError(t, os.WriteFile(idxPath, raw, 0o644))

	// Unlike the string-table codec, size drift here only warns.
	_, got := readCatalog(t, dir)
	assert.Equal(t, 3, got.Count())
}

func TestReadRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, [6]uint32{0x11111111, 0, 0, 0, 0, 0})
	_, err := ReadFrom(&buf, NewFieldTables(), "bad_idx.tcd", nil)
	assert.ErrorIs(t, err, core.ErrUnsupportedVersion)
}

func TestTombstoneRetainsRow(t *testing.T) {
	_, index := buildCatalog(t)
	index.Tombstone(1)

	assert.Equal(t, 3, index.Count())
	assert.Equal(t, 1, index.DeletedCount())
	assert.True(t, index.Rows()[1].IsDeleted())
	assert.True(t, index.DeletedRows().Contains(1))
	assert.False(t, index.Rows()[0].IsDeleted())
}

func TestDeclaredSizeExcludesPathTable(t *testing.T) {
	tables, index := buildCatalog(t)
	want := core.IndexHeaderSize + index.DataSize()
	for f, tbl := range tables {
		if f == core.FieldPath {
			continue
		}
		want += tbl.Size()
	}
	assert.Equal(t, want, index.Size())
}
