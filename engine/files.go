package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"

	"github.com/tagforge/tcdb/core"
	"github.com/tagforge/tcdb/indexfile"
	"github.com/tagforge/tcdb/tagfile"
)

// Write serializes the catalog into dir. Every string table is written
// before the index: the index stores byte offsets into the tables, and
// those offsets only exist once each table has been serialized. The
// index writer rejects unassigned offsets, so the ordering is enforced,
// not just conventional.
func (db *DB) Write(ctx context.Context, dir string) error {
	if db.tracer != nil {
		var span trace.Span
		_, span = db.tracer.Start(ctx, "DB.Write")
		defer span.End()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create catalog directory %s: %w", dir, err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	for _, f := range core.Fields() {
		if err := db.tables[f].WriteFile(filepath.Join(dir, f.TableFileName())); err != nil {
			return err
		}
	}
	if err := db.index.WriteFile(filepath.Join(dir, core.IndexFileName)); err != nil {
		return err
	}

	db.logger.Info("catalog written", "dir", dir,
		"rows", db.index.Count(), "commit_id", db.index.CommitID)
	return nil
}

// Read replaces the in-memory catalog with the one serialized in dir.
func (db *DB) Read(dir string) error {
	tables, index, err := readCatalog(db, dir)
	if err != nil {
		return err
	}
	db.mu.Lock()
	db.tables = tables
	db.index = index
	db.mu.Unlock()
	db.logger.Info("catalog loaded", "dir", dir,
		"rows", index.Count(), "orphan_refs", index.OrphanRefs())
	return nil
}

// Open constructs a DB and loads the catalog serialized in dir.
func Open(dir string, opts Options) (*DB, error) {
	db, err := New(opts)
	if err != nil {
		return nil, err
	}
	if err := db.Read(dir); err != nil {
		return nil, err
	}
	return db, nil
}

func readCatalog(db *DB, dir string) (indexfile.FieldTables, *indexfile.Table, error) {
	tables := make(indexfile.FieldTables, core.NumFields)
	for _, f := range core.Fields() {
		t, err := readTable(dir, f)
		if err != nil {
			return nil, nil, err
		}
		tables[f] = t
	}
	index, err := indexfile.ReadFile(filepath.Join(dir, core.IndexFileName), tables, db.logger)
	if err != nil {
		return nil, nil, err
	}
	return tables, index, nil
}

func readTable(dir string, f core.Field) (*tagfile.Table, error) {
	return tagfile.ReadFile(filepath.Join(dir, f.TableFileName()), f)
}
