package tagfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/tagforge/tcdb/core"
)

// WriteFile serializes the table to path with buffered I/O.
func (t *Table) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create table file %s: %w", path, err)
	}
	w := bufio.NewWriterSize(f, core.DefaultWriteBufferSize)
	if err := t.WriteTo(w); err != nil {
		f.Close()
		return fmt.Errorf("failed to write table file %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush table file %s: %w", path, err)
	}
	return f.Close()
}

// WriteTo serializes the table. Each entry's Offset is assigned the
// stream position at which its header begins; the index codec stores
// these offsets as its cross references, which is why every table must
// be fully written before the index is.
func (t *Table) WriteTo(w io.Writer) error {
	clear(t.offsets)

	hdr := [3]uint32{core.TagCacheMagic, uint32(t.Size()), uint32(len(t.entries))}
	if err := binary.Write(w, binary.LittleEndian, hdr[:]); err != nil {
		return fmt.Errorf("failed to write table header: %w", err)
	}

	pos := uint32(core.TagFileHeaderSize)
	for _, e := range t.entries {
		e.Offset = pos
		t.offsets[pos] = e

		padded := e.PaddedLength()
		if err := binary.Write(w, binary.LittleEndian, [2]uint32{uint32(padded), e.Ordinal}); err != nil {
			return fmt.Errorf("failed to write entry header: %w", err)
		}

		buf := make([]byte, padded)
		n := copy(buf, e.value)
		buf[n] = 0
		for i := n + 1; i < padded; i++ {
			buf[i] = core.PadFiller
		}
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("failed to write entry value: %w", err)
		}

		pos += uint32(8 + padded)
	}
	return nil
}
