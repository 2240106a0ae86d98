package update

import (
	"path"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Weighting for the combined score. The filename dominates: moving a
// track between directories is far more common than renaming the file
// itself.
const (
	filenameWeight = 0.7
	fullPathWeight = 0.3
)

// PathSimilarity scores two device paths in [0, 1]. Both inputs are
// expected to be case-normalized already.
func PathSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	fn := stringSimilarity(path.Base(a), path.Base(b))
	fp := stringSimilarity(a, b)
	return filenameWeight*fn + fullPathWeight*fp
}

// stringSimilarity is a normalized edit-distance ratio: 1 minus the
// Levenshtein distance over the longer string's rune length.
func stringSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}
