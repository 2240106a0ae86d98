// Package engine is the catalog façade: it owns the field tables, the
// index and the scan cache, and exposes the build lifecycle (scan,
// generate, update, write, read, validate) to callers.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tagforge/tcdb/compressors"
	"github.com/tagforge/tcdb/config"
	"github.com/tagforge/tcdb/core"
	"github.com/tagforge/tcdb/generator"
	"github.com/tagforge/tcdb/indexfile"
	"github.com/tagforge/tcdb/scancache"
	"github.com/tagforge/tcdb/scanner"
	"github.com/tagforge/tcdb/update"
)

// Options configures a DB. TagReader and Evaluator are the injected
// collaborators; the core never parses audio or format expressions.
type Options struct {
	Config    *config.Config
	Cache     *scancache.Cache // optional shared cache instance
	TagReader core.TagReader
	Evaluator core.Evaluator
	Logger    *slog.Logger
	Tracer    trace.Tracer
}

// UpdateStats reports one incremental update.
type UpdateStats struct {
	Added     int
	Renamed   int
	Deleted   int
	Unchanged int
	Failed    int
}

// DB is one catalog build: nine string tables, the index, and the
// session state accumulated across scans.
type DB struct {
	mu sync.Mutex

	cfg     *config.Config
	cache   *scancache.Cache
	scanner *scanner.Scanner
	eval    core.Evaluator
	formats map[core.Field]core.FieldFormat

	tables indexfile.FieldTables
	index  *indexfile.Table

	// scanned holds the cache keys this instance has seen, in insertion
	// order with duplicates collapsed. Generate consumes it wholesale.
	scanned    []string
	scannedSet map[string]struct{}

	// failed accumulates per-file extraction failures across scans.
	// Never fatal; callers read it back after a run.
	failed []string

	logger *slog.Logger
	tracer trace.Tracer
}

// New creates an empty catalog.
func New(opts Options) (*DB, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(nil); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		// Resolves through the global provider: a no-op unless the host
		// application installed a real one.
		tracer = otel.Tracer("github.com/tagforge/tcdb")
	}

	cache := opts.Cache
	if cache == nil {
		ceiling := cfg.Cache.MaxMemoryBytes
		if ceiling == 0 {
			ceiling = scancache.DefaultCeiling()
		}
		var err error
		if cache, err = scancache.New(ceiling, logger); err != nil {
			return nil, err
		}
	}

	tables := indexfile.NewFieldTables()
	db := &DB{
		cfg:   cfg,
		cache: cache,
		scanner: scanner.New(scanner.Options{
			Cache:      cache,
			TagReader:  opts.TagReader,
			Workers:    cfg.Scanner.Workers,
			Extensions: cfg.Scanner.Extensions,
			Logger:     logger,
		}),
		eval:       opts.Evaluator,
		formats:    DefaultFormats(),
		tables:     tables,
		index:      indexfile.New(tables),
		scannedSet: make(map[string]struct{}),
		logger:     logger.With("component", "engine"),
		tracer:     tracer,
	}
	return db, nil
}

// DefaultFormats returns the stock value-derivation rules: each
// formatted field maps to its own tag, except grouping, which defaults
// to the title tag. Title and path are not formatted at all.
func DefaultFormats() map[core.Field]core.FieldFormat {
	formats := make(map[core.Field]core.FieldFormat)
	for _, f := range []core.Field{
		core.FieldArtist, core.FieldAlbum, core.FieldGenre,
		core.FieldComposer, core.FieldComment, core.FieldAlbumArtist,
	} {
		tag := f.String()
		if f == core.FieldAlbumArtist {
			tag = "albumartist"
		}
		formats[f] = core.FieldFormat{Expr: "%" + tag + "%"}
	}
	formats[core.FieldGrouping] = core.FieldFormat{Expr: "%title%"}
	return formats
}

// SetFormat replaces the derivation rule for one field. Title and path
// are derived structurally and cannot be formatted.
func (db *DB) SetFormat(field core.Field, format core.FieldFormat) error {
	if field == core.FieldTitle || field == core.FieldPath {
		return fmt.Errorf("field %s does not accept a format", field)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.formats[field] = format
	return nil
}

// Scan walks dir, feeds the scan cache and records the discovered
// paths for the next Generate. Extraction failures accumulate and are
// returned; they never abort the scan.
func (db *DB) Scan(ctx context.Context, dir string) (added int, failed []string, err error) {
	res, err := db.scanner.ScanDir(ctx, dir)
	if err != nil {
		return 0, nil, err
	}
	db.mu.Lock()
	for _, key := range res.Paths {
		if _, seen := db.scannedSet[key]; !seen {
			db.scannedSet[key] = struct{}{}
			db.scanned = append(db.scanned, key)
			added++
		}
	}
	db.failed = append(db.failed, res.Failed...)
	db.mu.Unlock()
	return added, res.Failed, nil
}

// Generate rebuilds the catalog from everything scanned so far. The
// previous tables and index are discarded; afterwards the cache is
// cleaned down to the keys this build actually used.
func (db *DB) Generate(ctx context.Context) (rowCount int, err error) {
	if db.tracer != nil {
		var span trace.Span
		ctx, span = db.tracer.Start(ctx, "DB.Generate")
		defer span.End()
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	tables := indexfile.NewFieldTables()
	index := indexfile.New(tables)
	index.Serial = db.index.Serial
	index.Dirty = 1

	gen := db.newGenerator()
	_, missing, err := gen.Generate(ctx, db.scanned, tables, index)
	if err != nil {
		return 0, err
	}
	db.failed = append(db.failed, missing...)

	db.tables = tables
	db.index = index

	keep := make(map[string]struct{}, len(db.scanned))
	for _, k := range db.scanned {
		keep[k] = struct{}{}
	}
	if dropped := db.cache.Cleanup(keep); dropped > 0 {
		db.logger.Debug("cleaned scan cache after generation", "dropped", dropped)
	}
	return index.Count(), nil
}

// Update rescans dir against the current catalog: detects renames,
// tombstones vanished rows and appends rows for genuinely new files
// without renumbering anything.
func (db *DB) Update(ctx context.Context, dir string) (UpdateStats, error) {
	if db.tracer != nil {
		var span trace.Span
		ctx, span = db.tracer.Start(ctx, "DB.Update")
		defer span.End()
	}

	res, err := db.scanner.ScanDir(ctx, dir)
	if err != nil {
		return UpdateStats{}, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	db.failed = append(db.failed, res.Failed...)

	infos := make([]update.FileInfo, 0, len(res.Paths))
	for _, key := range res.Paths {
		fi := update.FileInfo{
			Key:     key,
			DevPath: generator.TranslatePath(key, db.cfg.Database.MountPoint, db.cfg.Database.DevicePrefix),
		}
		if rec, ok := db.cache.Get(key); ok {
			fi.Size = rec.Size
			fi.MTime = rec.MTime
		}
		infos = append(infos, fi)

		if _, seen := db.scannedSet[key]; !seen {
			db.scannedSet[key] = struct{}{}
			db.scanned = append(db.scanned, key)
		}
	}

	plan := update.BuildPlan(db.index, infos, db.cfg.Update.SimilarityThreshold, db.logger)
	renamed := update.Apply(plan, db.index, db.tables)

	addedKeys := make([]string, 0, len(plan.Added))
	for _, fi := range plan.Added {
		addedKeys = append(addedKeys, fi.Key)
	}
	gen := db.newGenerator()
	added, missing, err := gen.Generate(ctx, addedKeys, db.tables, db.index)
	if err != nil {
		return UpdateStats{}, err
	}
	db.failed = append(db.failed, missing...)
	db.index.Dirty = 1

	return UpdateStats{
		Added:     added,
		Renamed:   renamed,
		Deleted:   len(plan.Deleted),
		Unchanged: plan.Unchanged,
		Failed:    len(res.Failed) + len(missing),
	}, nil
}

// Failed returns the accumulated per-file failures.
func (db *DB) Failed() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]string, len(db.failed))
	copy(out, db.failed)
	return out
}

// ClearFailed resets the accumulated failure list.
func (db *DB) ClearFailed() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.failed = nil
}

// Tables exposes the field tables, primarily for inspection and tests.
func (db *DB) Tables() indexfile.FieldTables {
	return db.tables
}

// Index exposes the index table.
func (db *DB) Index() *indexfile.Table {
	return db.index
}

// Cache exposes the scan cache so callers can share it across builds.
func (db *DB) Cache() *scancache.Cache {
	return db.cache
}

// SaveCacheSnapshot persists the scan cache, restricted to the keys
// this build scanned, using the configured snapshot compression.
func (db *DB) SaveCacheSnapshot(path string) (saved, missing int, err error) {
	ct, err := core.ParseCompressionType(db.cfg.Cache.SnapshotCompression)
	if err != nil {
		return 0, 0, err
	}
	comp, err := compressors.NewCompressor(ct)
	if err != nil {
		return 0, 0, err
	}

	db.mu.Lock()
	keep := make(map[string]struct{}, len(db.scanned))
	for _, k := range db.scanned {
		keep[k] = struct{}{}
	}
	db.mu.Unlock()
	if len(keep) == 0 {
		keep = nil // nothing scanned yet, snapshot the whole cache
	}
	return db.cache.Save(path, keep, comp)
}

// LoadCacheSnapshot restores a previously saved scan cache.
func (db *DB) LoadCacheSnapshot(path string) (loaded, skipped int, err error) {
	return db.cache.Load(path)
}

func (db *DB) newGenerator() *generator.Generator {
	return generator.New(generator.Options{
		Cache:        db.cache,
		Evaluator:    db.eval,
		Formats:      db.formats,
		MountPoint:   db.cfg.Database.MountPoint,
		DevicePrefix: db.cfg.Database.DevicePrefix,
		Workers:      db.cfg.Generator.Workers,
		Logger:       db.logger,
		Tracer:       db.tracer,
	})
}
