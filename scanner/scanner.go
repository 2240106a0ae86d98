// Package scanner walks music directories and feeds the scan cache,
// running metadata extraction on a worker pool. Tag parsing is the
// expensive part of a build, so unchanged files (same size and mtime as
// the cached record) are never re-read.
package scanner

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tagforge/tcdb/core"
	"github.com/tagforge/tcdb/scancache"
)

// DefaultExtensions is the audio suffix filter applied during walks.
var DefaultExtensions = []string{
	".mp3", ".ogg", ".oga", ".opus", ".flac", ".m4a", ".m4b", ".mp4",
	".aac", ".wma", ".wav", ".aiff", ".ape", ".wv", ".mpc", ".spx",
}

// batchSize is the unit of work handed to one pool worker.
const batchSize = 100

// Options configures a Scanner.
type Options struct {
	Cache      *scancache.Cache
	TagReader  core.TagReader
	Workers    int      // <=0 means GOMAXPROCS
	Extensions []string // nil means DefaultExtensions
	Logger     *slog.Logger
}

// Scanner discovers audio files and populates the scan cache.
type Scanner struct {
	cache   *scancache.Cache
	reader  core.TagReader
	workers int
	exts    map[string]struct{}
	logger  *slog.Logger
}

// Result reports one scan: cache keys now known for the directory, and
// the paths whose metadata extraction failed. Failures never abort a
// scan; they are accumulated and handed back.
type Result struct {
	Paths  []string
	Failed []string
}

// New creates a scanner.
func New(opts Options) *Scanner {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	exts := opts.Extensions
	if exts == nil {
		exts = DefaultExtensions
	}
	extSet := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		extSet[strings.ToLower(e)] = struct{}{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		cache:   opts.Cache,
		reader:  opts.TagReader,
		workers: workers,
		exts:    extSet,
		logger:  logger.With("component", "scanner"),
	}
}

// ScanDir walks dir recursively and scans every supported file.
// Cancellation is coarse: a canceled context stops new batches from
// being submitted, in-flight batches run to completion.
func (s *Scanner) ScanDir(ctx context.Context, dir string) (Result, error) {
	files, err := s.collect(dir)
	if err != nil {
		return Result{}, err
	}
	return s.ScanFiles(ctx, files)
}

// ScanFiles scans an explicit file list through the worker pool.
func (s *Scanner) ScanFiles(ctx context.Context, files []string) (Result, error) {
	type batchOut struct {
		paths  []string
		failed []string
	}

	nBatches := (len(files) + batchSize - 1) / batchSize
	outs := make([]batchOut, nBatches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for b := 0; b < nBatches; b++ {
		if gctx.Err() != nil {
			break
		}
		b := b
		start := b * batchSize
		end := min(start+batchSize, len(files))
		g.Go(func() error {
			out := &outs[b]
			for _, path := range files[start:end] {
				key, ok := s.scanOne(path)
				if ok {
					out.paths = append(out.paths, key)
				} else {
					out.failed = append(out.failed, path)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	// Merge in batch order so the result is independent of scheduling.
	var res Result
	for _, out := range outs {
		res.Paths = append(res.Paths, out.paths...)
		res.Failed = append(res.Failed, out.failed...)
	}
	return res, ctx.Err()
}

// scanOne stats a file, reuses the cached record when unchanged, and
// otherwise extracts and caches a fresh minimal tag set.
func (s *Scanner) scanOne(path string) (key string, ok bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	key = scancache.Key(abs)

	info, err := os.Stat(abs)
	if err != nil {
		s.logger.Debug("stat failed", "path", abs, "error", err)
		return key, false
	}

	if rec, hit := s.cache.Get(key); hit {
		if rec.Size == info.Size() && rec.MTime.Unix() == info.ModTime().Unix() {
			return key, true
		}
	}

	tags, err := s.reader.ReadTags(abs)
	if err != nil || tags == nil {
		s.logger.Debug("tag extraction failed", "path", abs, "error", err)
		return key, false
	}

	s.cache.Set(key, scancache.Record{
		Size:  info.Size(),
		MTime: info.ModTime(),
		Tags:  tags.Shrink(),
	})
	return key, true
}

// collect walks dir and returns the supported files in sorted order.
func (s *Scanner) collect(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("walk error, skipping", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := s.exts[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
