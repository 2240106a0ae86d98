// Package update computes the delta between an existing catalog and a
// fresh rescan: which files were added, which disappeared, and which of
// the disappeared ones merely moved. Detected renames mutate the
// existing path entry in place so the row keeps its play count, rating
// and the rest of its statistics.
package update

import (
	"log/slog"
	"sort"
	"time"

	"github.com/tagforge/tcdb/core"
	"github.com/tagforge/tcdb/indexfile"
)

// DefaultSimilarityThreshold is the minimum path-similarity score for
// the first rename pass.
const DefaultSimilarityThreshold = 0.75

// FileInfo describes one scanned file in both namespaces: the cache key
// (host path) and the device path the catalog stores.
type FileInfo struct {
	Key     string
	DevPath string
	Size    int64
	MTime   time.Time
}

// Rename is one detected move: the surviving row plus its old and new
// device paths.
type Rename struct {
	Ordinal uint32
	OldPath string
	NewPath string
	Reason  string // "path_similarity" or "metadata_match"
}

// Plan is the result of classification and rename detection.
type Plan struct {
	Added     []FileInfo // files to hand to the generator in delta mode
	Renames   []Rename
	Deleted   []uint32 // row ordinals to tombstone
	Unchanged int
}

// candidate is a non-deleted row whose path vanished from the rescan.
type candidate struct {
	ordinal uint32
	path    string // lower-cased device path
	mtime   time.Time
}

// BuildPlan classifies the rescan against the index and runs rename
// detection. threshold <= 0 selects the default.
func BuildPlan(index *indexfile.Table, scanned []FileInfo, threshold float64, logger *slog.Logger) *Plan {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}

	existing := make(map[string]uint32) // lower device path -> row ordinal
	for i, row := range index.Rows() {
		if row.IsDeleted() {
			continue
		}
		if p := row.Path(); p != "" {
			existing[lower(p)] = uint32(i)
		}
	}

	newByPath := make(map[string]FileInfo, len(scanned))
	for _, fi := range scanned {
		newByPath[lower(fi.DevPath)] = fi
	}

	plan := &Plan{}
	var candidates []candidate

	for p, ord := range existing {
		if _, ok := newByPath[p]; ok {
			plan.Unchanged++
		} else {
			row := index.Rows()[ord]
			candidates = append(candidates, candidate{ordinal: ord, path: p, mtime: row.MTime()})
		}
	}
	// Greedy matching is order-dependent; sorted path order keeps it
	// deterministic run to run.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].path < candidates[j].path })

	addedPaths := make([]string, 0)
	for p := range newByPath {
		if _, ok := existing[p]; !ok {
			addedPaths = append(addedPaths, p)
		}
	}
	sort.Strings(addedPaths)

	matchedOld := make(map[uint32]struct{})
	matchedNew := make(map[string]struct{})

	// Pass 1: path similarity, verified by mtime unless the score is
	// high enough on its own.
	for _, c := range candidates {
		bestScore := 0.0
		bestPath := ""
		for _, np := range addedPaths {
			if _, taken := matchedNew[np]; taken {
				continue
			}
			score := PathSimilarity(c.path, np)
			if score <= bestScore || score < threshold {
				continue
			}
			if mtimeClose(c.mtime, newByPath[np].MTime, 2*time.Second) || score >= 0.85 {
				bestScore = score
				bestPath = np
			}
		}
		if bestPath != "" {
			plan.Renames = append(plan.Renames, Rename{
				Ordinal: c.ordinal,
				OldPath: c.path,
				NewPath: newByPath[bestPath].DevPath,
				Reason:  "path_similarity",
			})
			matchedOld[c.ordinal] = struct{}{}
			matchedNew[bestPath] = struct{}{}
			logger.Debug("rename detected by path similarity",
				"score", bestScore, "old", c.path, "new", bestPath)
		}
	}

	// Pass 2: files moved somewhere unrelated but with an intact
	// timestamp. The similarity floor only guards against pairing two
	// entirely different files that happen to share an mtime.
	for _, c := range candidates {
		if _, done := matchedOld[c.ordinal]; done {
			continue
		}
		if c.mtime.IsZero() {
			continue
		}
		for _, np := range addedPaths {
			if _, taken := matchedNew[np]; taken {
				continue
			}
			if !mtimeClose(c.mtime, newByPath[np].MTime, time.Second) {
				continue
			}
			if PathSimilarity(c.path, np) < 0.3 {
				continue
			}
			plan.Renames = append(plan.Renames, Rename{
				Ordinal: c.ordinal,
				OldPath: c.path,
				NewPath: newByPath[np].DevPath,
				Reason:  "metadata_match",
			})
			matchedOld[c.ordinal] = struct{}{}
			matchedNew[np] = struct{}{}
			logger.Debug("rename detected by mtime match", "old", c.path, "new", np)
			break
		}
	}

	for _, c := range candidates {
		if _, done := matchedOld[c.ordinal]; !done {
			plan.Deleted = append(plan.Deleted, c.ordinal)
		}
	}
	for _, np := range addedPaths {
		if _, taken := matchedNew[np]; !taken {
			plan.Added = append(plan.Added, newByPath[np])
		}
	}

	logger.Info("update plan built",
		"added", len(plan.Added), "renamed", len(plan.Renames),
		"deleted", len(plan.Deleted), "unchanged", plan.Unchanged)
	return plan
}

// Apply mutates the catalog per the plan: renames repoint the existing
// path entries in place (and re-key the path table's interning map),
// remaining candidates become tombstones. Added files are the caller's
// to generate. Returns the number of renames applied.
func Apply(plan *Plan, index *indexfile.Table, tables indexfile.FieldTables) int {
	pathTable := tables[core.FieldPath]
	applied := 0
	for _, rn := range plan.Renames {
		rows := index.Rows()
		if int(rn.Ordinal) >= len(rows) {
			continue
		}
		entry := rows[rn.Ordinal].Ref(core.FieldPath)
		if entry == nil {
			continue
		}
		old := entry.Value()
		entry.SetValue(rn.NewPath)
		pathTable.Rekey(old, rn.NewPath)
		applied++
	}
	for _, ord := range plan.Deleted {
		index.Tombstone(ord)
	}
	return applied
}

func mtimeClose(a, b time.Time, tolerance time.Duration) bool {
	if a.IsZero() || b.IsZero() {
		// Unknown mtimes never veto a match in pass 1.
		return true
	}
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}
