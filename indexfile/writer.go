package indexfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/tagforge/tcdb/core"
)

// WriteFile serializes the index to path. Writing increments the commit
// counter and clears the dirty flag; both survive in the in-memory
// table so a subsequent write commits again.
func (t *Table) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create index file %s: %w", path, err)
	}
	w := bufio.NewWriterSize(f, core.DefaultWriteBufferSize)
	if err := t.WriteTo(w); err != nil {
		f.Close()
		return fmt.Errorf("failed to write index file %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush index file %s: %w", path, err)
	}
	return f.Close()
}

// WriteTo serializes header and rows. Rows store string-table byte
// offsets, not ordinals, so every referenced table must already have
// been serialized; an unassigned offset fails the write rather than
// emit a dangling reference.
func (t *Table) WriteTo(w io.Writer) error {
	t.CommitID++
	t.Dirty = 0

	hdr := [6]uint32{
		core.TagCacheMagic,
		uint32(t.Size()),
		uint32(len(t.rows)),
		t.Serial,
		t.CommitID,
		t.Dirty,
	}
	if err := binary.Write(w, binary.LittleEndian, hdr[:]); err != nil {
		return fmt.Errorf("failed to write index header: %w", err)
	}

	var words [core.NumFields + core.NumAttrs]uint32
	for i, row := range t.rows {
		for _, f := range core.Fields() {
			ref := row.Ref(f)
			if ref == nil {
				words[f] = 0
				continue
			}
			if ref.Offset == 0 {
				return fmt.Errorf("row %d field %s references an unserialized table entry %q", i, f, ref.Value())
			}
			words[f] = ref.Offset
		}
		copy(words[core.NumFields:], row.Attrs[:])
		if err := binary.Write(w, binary.LittleEndian, words[:]); err != nil {
			return fmt.Errorf("failed to write index row %d: %w", i, err)
		}
	}
	return nil
}
