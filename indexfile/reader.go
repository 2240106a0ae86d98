package indexfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tagforge/tcdb/core"
	"github.com/tagforge/tcdb/tagfile"
)

// ReadFile loads the index from path, resolving row references through
// the already-loaded field tables. The codec is deliberately more
// lenient than the string-table one: a reference that does not resolve
// becomes a placeholder, and a declared-size mismatch is only a
// warning, because the index header calculation has drifted across
// firmware versions.
func ReadFile(path string, tables FieldTables, logger *slog.Logger) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index file %s: %w", path, err)
	}
	defer f.Close()
	return ReadFrom(bufio.NewReaderSize(f, core.DefaultWriteBufferSize), tables, path, logger)
}

// ReadFrom parses a serialized index. name is used for error identity.
func ReadFrom(r io.Reader, tables FieldTables, name string, logger *slog.Logger) (*Table, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var hdr [core.IndexHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, core.NewFormatError(name, "truncated header", err.Error(), nil)
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	declaredSize := binary.LittleEndian.Uint32(hdr[4:8])
	count := binary.LittleEndian.Uint32(hdr[8:12])

	if !magicSupported(magic) {
		return nil, core.NewUnsupportedVersionError(name, magic, core.SupportedMagics)
	}
	if count > core.MaxEntryCount {
		return nil, core.NewFormatError(name, "absurd row count", count, fmt.Sprintf("<= %d", core.MaxEntryCount))
	}

	t := New(tables)
	t.Serial = binary.LittleEndian.Uint32(hdr[12:16])
	t.CommitID = binary.LittleEndian.Uint32(hdr[16:20])
	t.Dirty = binary.LittleEndian.Uint32(hdr[20:24])

	var words [core.NumFields + core.NumAttrs]uint32
	for i := uint32(0); i < count; i++ {
		if err := binary.Read(r, binary.LittleEndian, words[:]); err != nil {
			return nil, core.NewFormatError(name, fmt.Sprintf("truncated row %d", i), err.Error(), nil)
		}

		row := NewRow()
		for _, f := range core.Fields() {
			off := words[f]
			if off == 0 {
				row.SetRef(f, placeholderEntry(f))
				t.orphans++
				continue
			}
			e, ok := tables[f].EntryAtOffset(off)
			if !ok {
				row.SetRef(f, placeholderEntry(f))
				t.orphans++
				continue
			}
			row.SetRef(f, e)
		}
		copy(row.Attrs[:], words[core.NumFields:])
		t.Append(row)
	}

	if computed := uint32(t.Size()); declaredSize != computed {
		logger.Warn("index declared size does not match computed size, continuing",
			"file", name, "declared", declaredSize, "computed", computed)
	}
	if t.orphans > 0 {
		logger.Warn("index contains unresolved references, placeholders substituted",
			"file", name, "orphans", t.orphans)
	}
	return t, nil
}

func placeholderEntry(f core.Field) *tagfile.Entry {
	return tagfile.NewEntry(core.InvalidRefValue, "", f == core.FieldPath)
}

func magicSupported(magic uint32) bool {
	for _, m := range core.SupportedMagics {
		if m == magic {
			return true
		}
	}
	return false
}
