// Package testutil provides the canned collaborators tests inject in
// place of real metadata extraction and expression evaluation.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tagforge/tcdb/core"
)

// FakeTagReader serves canned tag sets keyed by absolute path. Paths
// without an entry fail extraction.
type FakeTagReader struct {
	Tags map[string]core.TagSet
}

func (r *FakeTagReader) ReadTags(path string) (core.TagSet, error) {
	key := strings.ToLower(path)
	for p, tags := range r.Tags {
		if strings.ToLower(p) == key {
			return tags, nil
		}
	}
	return nil, fmt.Errorf("no tags for %s", path)
}

// SimpleEvaluator implements the "%name%" subset of a field-formatting
// language: the expression "%artist%" yields every artist value, any
// other text is returned verbatim as a single value.
type SimpleEvaluator struct{}

func (SimpleEvaluator) Evaluate(expr string, tags core.TagSet) ([]string, error) {
	if strings.HasPrefix(expr, "%") && strings.HasSuffix(expr, "%") && len(expr) > 2 {
		name := expr[1 : len(expr)-1]
		return tags[name], nil
	}
	return []string{expr}, nil
}

// WriteAudioFile creates an empty placeholder file with the given
// modification time and returns its absolute path.
func WriteAudioFile(dir, name string, mtime time.Time) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		return "", err
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			return "", err
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return abs, nil
}
