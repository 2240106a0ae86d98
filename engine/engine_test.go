package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagforge/tcdb/core"
	"github.com/tagforge/tcdb/internal/testutil"
	"github.com/tagforge/tcdb/scancache"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDB(t *testing.T, tags map[string]core.TagSet) *DB {
	t.Helper()
	db, err := New(Options{
		TagReader: &testutil.FakeTagReader{Tags: tags},
		Evaluator: testutil.SimpleEvaluator{},
		Logger:    testLogger(),
	})
	require.NoError(t, err)
	return db
}

func writeLibrary(t *testing.T, dir string) map[string]core.TagSet {
	t.Helper()
	mtime := time.Date(2024, 4, 1, 9, 0, 0, 0, time.Local)
	tags := make(map[string]core.TagSet)
	for _, f := range []struct{ name, artist, title string }{
		{"a/01.mp3", "Artist A", "One"},
		{"a/02.mp3", "Artist A", "Two"},
		{"b/01.mp3", "Artist B", "Three"},
	} {
		abs, err := testutil.WriteAudioFile(dir, f.name, mtime)
		require.NoError(t, err)
		tags[abs] = core.TagSet{
			"artist": {f.artist},
			"title":  {f.title},
			"genre":  {"Rock"},
		}
	}
	return tags
}

func TestScanGenerateWriteReadCycle(t *testing.T) {
	musicDir := t.TempDir()
	tags := writeLibrary(t, musicDir)
	db := newTestDB(t, tags)
	ctx := context.Background()

	added, failed, err := db.Scan(ctx, musicDir)
	require.NoError(t, err)
	assert.Equal(t, 3, added)
	assert.Empty(t, failed)

	rows, err := db.Generate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rows)
	assert.Equal(t, 2, db.Tables()[core.FieldArtist].Len())

	catalogDir := t.TempDir()
	require.NoError(t, db.Write(ctx, catalogDir))
	for _, f := range core.Fields() {
		assert.FileExists(t, filepath.Join(catalogDir, f.TableFileName()))
	}
	assert.FileExists(t, filepath.Join(catalogDir, core.IndexFileName))

	reopened := newTestDB(t, tags)
	require.NoError(t, reopened.Read(catalogDir))
	assert.Equal(t, 3, reopened.Index().Count())
	assert.Equal(t, db.Index().CommitID, reopened.Index().CommitID)
}

func TestValidateCleanCatalog(t *testing.T) {
	musicDir := t.TempDir()
	tags := writeLibrary(t, musicDir)
	db := newTestDB(t, tags)
	ctx := context.Background()

	_, _, err := db.Scan(ctx, musicDir)
	require.NoError(t, err)
	_, err = db.Generate(ctx)
	require.NoError(t, err)

	catalogDir := t.TempDir()
	require.NoError(t, db.Write(ctx, catalogDir))

	issues, err := db.Validate(catalogDir)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestValidateReportsMissingFiles(t *testing.T) {
	db := newTestDB(t, nil)
	issues, err := db.Validate(t.TempDir())
	require.NoError(t, err)
	require.NotEmpty(t, issues)
	for _, issue := range issues {
		assert.Equal(t, SeverityError, issue.Severity)
	}
}

func TestValidateReportsTombstones(t *testing.T) {
	musicDir := t.TempDir()
	tags := writeLibrary(t, musicDir)
	db := newTestDB(t, tags)
	ctx := context.Background()

	_, _, err := db.Scan(ctx, musicDir)
	require.NoError(t, err)
	_, err = db.Generate(ctx)
	require.NoError(t, err)
	db.Index().Tombstone(0)

	catalogDir := t.TempDir()
	require.NoError(t, db.Write(ctx, catalogDir))

	issues, err := db.Validate(catalogDir)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityInfo, issues[0].Severity)
	assert.Contains(t, issues[0].Message, "tombstoned")
}

func TestUpdateDetectsRenameAndDeletion(t *testing.T) {
	musicDir := t.TempDir()
	tags := writeLibrary(t, musicDir)
	db := newTestDB(t, tags)
	ctx := context.Background()

	_, _, err := db.Scan(ctx, musicDir)
	require.NoError(t, err)
	_, err = db.Generate(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, db.Index().Count())
	db.Index().Rows()[0].Attrs[core.AttrPlayCount] = 42

	// Rename a/01.mp3 in place, delete b/01.mp3, add a new track.
	oldPath := filepath.Join(musicDir, "a", "01.mp3")
	newPath := filepath.Join(musicDir, "a", "01 - renamed.mp3")
	fi, err := os.Stat(oldPath)
	require.NoError(t, err)
	require.NoError(t, os.Rename(oldPath, newPath))
	require.NoError(t, os.Chtimes(newPath, fi.ModTime(), fi.ModTime()))
	tags[newPath] = tags[oldPath]
	delete(tags, oldPath)

	require.NoError(t, os.Remove(filepath.Join(musicDir, "b", "01.mp3")))

	freshPath, err := testutil.WriteAudioFile(musicDir, "c/05.mp3", time.Date(2024, 7, 1, 8, 0, 0, 0, time.Local))
	require.NoError(t, err)
	tags[freshPath] = core.TagSet{"artist": {"Artist C"}, "title": {"Five"}}

	stats, err := db.Update(ctx, musicDir)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Renamed)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 1, stats.Deleted)
	assert.Equal(t, 1, stats.Unchanged)
	assert.Zero(t, stats.Failed)

	// 3 original rows (one tombstoned, one renamed) plus the new track.
	assert.Equal(t, 4, db.Index().Count())
	assert.Equal(t, 1, db.Index().DeletedCount())

	renamed := db.Index().Rows()[0]
	assert.Contains(t, renamed.Path(), "01 - renamed.mp3")
	assert.Equal(t, uint32(42), renamed.Attrs[core.AttrPlayCount])
}

func TestCacheSnapshotThroughEngine(t *testing.T) {
	musicDir := t.TempDir()
	tags := writeLibrary(t, musicDir)
	db := newTestDB(t, tags)
	ctx := context.Background()

	_, _, err := db.Scan(ctx, musicDir)
	require.NoError(t, err)

	snapPath := filepath.Join(t.TempDir(), "scan_cache.tcs")
	saved, missing, err := db.SaveCacheSnapshot(snapPath)
	require.NoError(t, err)
	assert.Equal(t, 3, saved)
	assert.Zero(t, missing)

	other := newTestDB(t, tags)
	loaded, skipped, err := other.LoadCacheSnapshot(snapPath)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded)
	assert.Zero(t, skipped)
	assert.Equal(t, 3, other.Cache().Len())
}

func TestSetFormatRejectsStructuralFields(t *testing.T) {
	db := newTestDB(t, nil)
	assert.Error(t, db.SetFormat(core.FieldTitle, core.FieldFormat{Expr: "%title%"}))
	assert.Error(t, db.SetFormat(core.FieldPath, core.FieldFormat{Expr: "%path%"}))
	assert.NoError(t, db.SetFormat(core.FieldGenre, core.FieldFormat{Expr: "%genre%", Multiple: true}))
}

func TestGenerateCleansCache(t *testing.T) {
	musicDir := t.TempDir()
	tags := writeLibrary(t, musicDir)
	db := newTestDB(t, tags)
	ctx := context.Background()

	// An unrelated leftover entry from some earlier build.
	db.Cache().Set("/stale/entry.mp3", scancache.Record{
		Size:  1,
		MTime: time.Now(),
		Tags:  core.TagSet{"title": {"stale"}},
	})

	_, _, err := db.Scan(ctx, musicDir)
	require.NoError(t, err)
	_, err = db.Generate(ctx)
	require.NoError(t, err)

	assert.False(t, db.Cache().Contains("/stale/entry.mp3"))
	assert.Equal(t, 3, db.Cache().Len())
}
