// Package generator builds string tables and index rows from cached
// scan records. Preparation (path translation and rule evaluation) is
// pure per-track work and fans out over a pool; interning and row
// append happen in a single commit pass over the fixed path order, so
// output is byte-identical whether one worker ran or many.
package generator

import (
	"context"
	"log/slog"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/otel/trace"

	"github.com/tagforge/tcdb/core"
	"github.com/tagforge/tcdb/indexfile"
	"github.com/tagforge/tcdb/scancache"
)

// batchSize is the unit of preparation work per pool submission.
const batchSize = 100

// parallelThreshold is the path count below which the pool is skipped;
// both routes commit identically, the pool just costs more for small
// runs.
const parallelThreshold = 1000

// Embedded attribute derivation rules, evaluated through the injected
// expression capability like any field rule.
var attrExprs = map[core.Attr]string{
	core.AttrDate:        "%date%",
	core.AttrDiscNumber:  "%discnumber%",
	core.AttrTrackNumber: "%tracknumber%",
	core.AttrBitrate:     "%bitrate%",
}

// Options configures a Generator.
type Options struct {
	Cache     *scancache.Cache
	Evaluator core.Evaluator
	// Formats holds the value-derivation rule per formatted field.
	// Title and path have none: the title is the raw tag, the path
	// comes from translation.
	Formats map[core.Field]core.FieldFormat
	// MountPoint is the host prefix stripped from scan paths. Empty
	// means drive-letter stripping and separator normalization only.
	MountPoint string
	// DevicePrefix is prepended to device-relative paths, e.g. "/<HDD0>".
	DevicePrefix string
	Workers      int
	Logger       *slog.Logger
	Tracer       trace.Tracer
}

// Generator turns cached scan records into catalog rows.
type Generator struct {
	opts    Options
	workers int
	logger  *slog.Logger
}

// New creates a generator.
func New(opts Options) *Generator {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		opts:    opts,
		workers: workers,
		logger:  logger.With("component", "generator"),
	}
}

// valueSort pairs a derived value with its optional explicit sort key.
type valueSort struct {
	value string
	sort  string
}

// prepared is the pure per-track result of steps 1-3, ready to commit.
type prepared struct {
	key     string // cache key
	devPath string
	title   string
	single  map[core.Field]valueSort
	multi   map[core.Field][]valueSort
	attrs   [core.NumAttrs]uint32
	missing bool // no cache record for the path
}

// Generate processes paths (cache keys) into the given tables and
// index. Passing the tables and index of an existing catalog appends
// delta rows without renumbering anything. Returns the number of rows
// appended and the paths that had no cache record.
func (g *Generator) Generate(ctx context.Context, paths []string, tables indexfile.FieldTables, index *indexfile.Table) (added int, missing []string, err error) {
	if g.opts.Tracer != nil {
		var span trace.Span
		ctx, span = g.opts.Tracer.Start(ctx, "Generator.Generate")
		defer span.End()
	}

	// Fixed total order: lexicographic on normalized path, independent
	// of the caller's ordering and of worker scheduling.
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	results := make([]*prepared, len(sorted))
	if len(sorted) >= parallelThreshold && g.workers > 1 {
		if err := g.prepareParallel(ctx, sorted, results); err != nil {
			return 0, nil, err
		}
	} else {
		for i, key := range sorted {
			results[i] = g.prepare(key)
		}
	}

	// Commit phase: single writer, fixed order. Interning uniqueness
	// and monotonic row ordering both depend on this being serial.
	before := index.Count()
	for _, p := range results {
		if p.missing {
			missing = append(missing, p.key)
			continue
		}
		g.commit(p, tables, index)
	}
	added = index.Count() - before

	// Offsets are assigned at write time, so reordering the tables here
	// is safe and gives the device its sorted browse order.
	for _, f := range core.Fields() {
		tables[f].SortEntries()
	}

	g.logger.Info("generation pass complete",
		"paths", len(sorted), "rows_added", added, "missing", len(missing))
	return added, missing, nil
}

func (g *Generator) prepareParallel(ctx context.Context, sorted []string, results []*prepared) error {
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for start := 0; start < len(sorted); start += batchSize {
		if ectx.Err() != nil {
			break
		}
		start := start
		end := min(start+batchSize, len(sorted))
		eg.Go(func() error {
			for i := start; i < end; i++ {
				results[i] = g.prepare(sorted[i])
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// prepare runs steps 1-3 for one track: path translation, rule
// evaluation, attribute derivation. Pure with respect to shared state.
func (g *Generator) prepare(key string) *prepared {
	rec, ok := g.opts.Cache.Get(key)
	if !ok {
		return &prepared{key: key, missing: true}
	}

	p := &prepared{
		key:     key,
		devPath: TranslatePath(key, g.opts.MountPoint, g.opts.DevicePrefix),
		single:  make(map[core.Field]valueSort),
		multi:   make(map[core.Field][]valueSort),
	}

	if t, ok := rec.Tags.First("title"); ok && t != "" {
		p.title = t
	} else {
		p.title = core.UntaggedValue
	}

	for _, f := range core.Fields() {
		format, ok := g.opts.Formats[f]
		if !ok {
			continue
		}
		if format.Multiple {
			p.multi[f] = g.evalMulti(format, rec.Tags)
		} else {
			p.single[f] = g.evalSingle(f, format, rec.Tags, p.title)
		}
	}

	g.deriveAttrs(p, rec)
	return p
}

func (g *Generator) evalSingle(f core.Field, format core.FieldFormat, tags core.TagSet, rawTitle string) valueSort {
	value := g.evalOne(format.Expr, tags)
	sortKey := ""
	if format.SortExpr != "" {
		sortKey = g.evalOne(format.SortExpr, tags)
	}

	// Grouping falls back to the raw title tag, not the title rule's
	// output, and the fallback shows in the sort key too.
	if f == core.FieldGrouping && (value == "" || value == core.UntaggedValue) {
		return valueSort{value: rawTitle, sort: rawTitle}
	}
	if value == "" {
		value = core.UntaggedValue
	}
	return valueSort{value: value, sort: sortKey}
}

func (g *Generator) evalMulti(format core.FieldFormat, tags core.TagSet) []valueSort {
	values := g.evalList(format.Expr, tags)
	var sorts []string
	if format.SortExpr != "" {
		sorts = g.evalList(format.SortExpr, tags)
	}

	out := make([]valueSort, 0, len(values)+1)
	for i, v := range values {
		if v == "" {
			continue
		}
		vs := valueSort{value: v}
		if i < len(sorts) {
			vs.sort = sorts[i]
		}
		out = append(out, vs)
	}
	// A track lacking any value still contributes one combination,
	// through the blank sentinel the firmware knows to hide.
	if len(out) == 0 {
		out = append(out, valueSort{value: core.BlankValue})
	}
	return out
}

func (g *Generator) evalOne(expr string, tags core.TagSet) string {
	vs := g.evalList(expr, tags)
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

func (g *Generator) evalList(expr string, tags core.TagSet) []string {
	vs, err := g.opts.Evaluator.Evaluate(expr, tags)
	if err != nil {
		g.logger.Debug("expression evaluation failed", "expr", expr, "error", err)
		return nil
	}
	return vs
}

// deriveAttrs fills the embedded numeric attributes: rule-derived
// values coerce to integers with 0 on any failure, track length scales
// to milliseconds, the mtime is FAT-encoded, and a missing or negative
// track number stores 0 with the generated-number flag set.
func (g *Generator) deriveAttrs(p *prepared, rec scancache.Record) {
	for attr, expr := range attrExprs {
		v := core.CoerceInt(g.evalOne(expr, rec.Tags))
		if v < 0 {
			v = 0
		}
		p.attrs[attr] = uint32(v)
	}
	if p.attrs[core.AttrTrackNumber] == 0 {
		p.attrs[core.AttrFlags] |= core.FlagTrkNumGen
	}
	if lv, ok := rec.Tags.First("length"); ok {
		if secs := core.CoerceFloat(lv); secs > 0 {
			p.attrs[core.AttrLength] = uint32(secs * 1000)
		}
	}
	p.attrs[core.AttrMTime] = core.MTimeToFAT(rec.MTime)
}

// commit executes steps 4-6 for one track under the single-writer
// discipline: intern every value, expand multi-value combinations, and
// append rows.
func (g *Generator) commit(p *prepared, tables indexfile.FieldTables, index *indexfile.Table) {
	proto := indexfile.NewRow()
	proto.Attrs = p.attrs
	proto.Attrs[core.AttrCommitID] = index.CommitID + 1

	rowOrdinal := uint32(index.Count())

	pathEntry := tables[core.FieldPath].Intern(p.devPath, "")
	if pathEntry.Ordinal == core.InvalidOrdinal {
		pathEntry.Ordinal = rowOrdinal
	}
	proto.SetRef(core.FieldPath, pathEntry)

	titleEntry := tables[core.FieldTitle].Intern(p.title, "")
	if titleEntry.Ordinal == core.InvalidOrdinal {
		titleEntry.Ordinal = rowOrdinal
	}
	proto.SetRef(core.FieldTitle, titleEntry)

	for f, vs := range p.single {
		proto.SetRef(f, tables[f].Intern(vs.value, vs.sort))
	}

	// Cartesian product across multi-valued fields, in field order so
	// row emission order is stable.
	multiFields := make([]core.Field, 0, len(p.multi))
	for _, f := range core.Fields() {
		if _, ok := p.multi[f]; ok {
			multiFields = append(multiFields, f)
		}
	}
	g.expand(proto, multiFields, p.multi, tables, index)
}

func (g *Generator) expand(proto *indexfile.Row, fields []core.Field, multi map[core.Field][]valueSort, tables indexfile.FieldTables, index *indexfile.Table) {
	if len(fields) == 0 {
		index.Append(proto.Clone())
		return
	}
	f := fields[0]
	for _, vs := range multi[f] {
		row := proto.Clone()
		row.SetRef(f, tables[f].Intern(vs.value, vs.sort))
		g.expand(row, fields[1:], multi, tables, index)
	}
}
