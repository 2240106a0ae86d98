package tagfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/tagforge/tcdb/core"
)

// maxEntryBytes rejects entry lengths that cannot be real before
// allocating for them.
const maxEntryBytes = 1 << 20

// ReadFile loads a table from path. The codec is strict: bad magic, an
// absurd entry count or a declared-size mismatch all fail hard with a
// typed format error carrying the file identity.
func ReadFile(path string, field core.Field) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table file %s: %w", path, err)
	}
	defer f.Close()
	return ReadFrom(bufio.NewReaderSize(f, core.DefaultWriteBufferSize), field, path)
}

// ReadFrom parses a serialized table, rebuilding the offset map the
// index codec resolves its references through. name is used only for
// error identity.
func ReadFrom(r io.Reader, field core.Field, name string) (*Table, error) {
	var hdr [core.TagFileHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, core.NewFormatError(name, "truncated header", err.Error(), nil)
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	declaredSize := binary.LittleEndian.Uint32(hdr[4:8])
	count := binary.LittleEndian.Uint32(hdr[8:12])

	if !supportedMagic(magic) {
		return nil, core.NewUnsupportedVersionError(name, magic, core.SupportedMagics)
	}
	if count > core.MaxEntryCount {
		return nil, core.NewFormatError(name, "absurd entry count", count, fmt.Sprintf("<= %d", core.MaxEntryCount))
	}

	t := NewTable(field)
	pos := uint32(core.TagFileHeaderSize)
	var dataBytes uint32

	for i := uint32(0); i < count; i++ {
		var ehdr [8]byte
		if _, err := io.ReadFull(r, ehdr[:]); err != nil {
			return nil, core.NewFormatError(name, fmt.Sprintf("truncated entry %d header", i), err.Error(), nil)
		}
		padded := binary.LittleEndian.Uint32(ehdr[0:4])
		ordinal := binary.LittleEndian.Uint32(ehdr[4:8])

		if padded == 0 || padded > maxEntryBytes {
			return nil, core.NewFormatError(name, fmt.Sprintf("entry %d length", i), padded, fmt.Sprintf("1..%d", maxEntryBytes))
		}

		raw := make([]byte, padded)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, core.NewFormatError(name, fmt.Sprintf("truncated entry %d value", i), err.Error(), nil)
		}
		value, _, _ := bytes.Cut(raw, []byte{0})

		e := NewEntry(decodeValue(value), "", field == core.FieldPath)
		e.Ordinal = ordinal
		e.Offset = pos
		t.append(e)
		t.offsets[pos] = e

		pos += 8 + padded
		dataBytes += 8 + padded
	}

	if declaredSize != dataBytes {
		return nil, core.NewFormatError(name, "declared data size", declaredSize, dataBytes)
	}
	return t, nil
}

func supportedMagic(magic uint32) bool {
	for _, m := range core.SupportedMagics {
		if m == magic {
			return true
		}
	}
	return false
}
