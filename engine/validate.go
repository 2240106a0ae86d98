package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tagforge/tcdb/core"
	"github.com/tagforge/tcdb/indexfile"
	"github.com/tagforge/tcdb/tagfile"
)

// Issue severities. Errors make the catalog unusable; warnings mean
// the device would still load it.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Issue is one finding from Validate.
type Issue struct {
	Severity string
	File     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.File, i.Message)
}

// Validate inspects a serialized catalog without mutating the receiver.
// It reports missing files, unreadable tables, unresolved row
// references, declared-size drift and the tombstone count. An empty
// slice means a clean catalog.
func (db *DB) Validate(dir string) ([]Issue, error) {
	var issues []Issue

	names := make([]string, 0, core.NumFields+1)
	for _, f := range core.Fields() {
		names = append(names, f.TableFileName())
	}
	names = append(names, core.IndexFileName)

	missing := 0
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			issues = append(issues, Issue{SeverityError, name, "file is missing"})
			missing++
		}
	}
	if missing > 0 {
		return issues, nil
	}

	tables := make(indexfile.FieldTables, core.NumFields)
	readable := true
	for _, f := range core.Fields() {
		t, err := tagfile.ReadFile(filepath.Join(dir, f.TableFileName()), f)
		if err != nil {
			issues = append(issues, Issue{SeverityError, f.TableFileName(), err.Error()})
			readable = false
			continue
		}
		tables[f] = t
	}
	if !readable {
		return issues, nil
	}

	indexPath := filepath.Join(dir, core.IndexFileName)
	index, err := indexfile.ReadFile(indexPath, tables, db.logger)
	if err != nil {
		var fe *core.FormatError
		if errors.As(err, &fe) || errors.Is(err, core.ErrUnsupportedVersion) {
			issues = append(issues, Issue{SeverityError, core.IndexFileName, err.Error()})
			return issues, nil
		}
		return nil, err
	}

	if index.OrphanRefs() > 0 {
		issues = append(issues, Issue{SeverityWarning, core.IndexFileName,
			fmt.Sprintf("%d row references could not be resolved, placeholders substituted", index.OrphanRefs())})
	}
	if declared, err := declaredIndexSize(indexPath); err == nil {
		if computed := uint32(index.Size()); declared != computed {
			issues = append(issues, Issue{SeverityWarning, core.IndexFileName,
				fmt.Sprintf("declared size %d does not match computed size %d", declared, computed)})
		}
	}
	if n := index.DeletedCount(); n > 0 {
		issues = append(issues, Issue{SeverityInfo, core.IndexFileName,
			fmt.Sprintf("%d of %d rows are tombstoned", n, index.Count())})
	}
	if index.Count() == 0 {
		issues = append(issues, Issue{SeverityWarning, core.IndexFileName, "catalog has no rows"})
	}
	return issues, nil
}

func declaredIndexSize(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	var hdr [core.IndexHeaderSize]byte
	if _, err := f.Read(hdr[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(hdr[4:8]), nil
}
