package scancache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"
	"time"

	"github.com/tagforge/tcdb/compressors"
	"github.com/tagforge/tcdb/core"
)

// Snapshot file layout: a 16-byte plain header
//
//	u32 magic ("TCHS"), u8 version, u8 compressor, u16 reserved,
//	u32 payload crc32 (IEEE, over the compressed payload), u32 reserved
//
// followed by the compressed payload:
//
//	u32 record count, then per record a u32 length-prefixed body of
//	(path, size, mtime, minimal tag set), sorted by path.
//
// The length prefix is what makes per-record corruption survivable:
// a record that fails to parse is skipped by its declared length.

const snapshotHeaderSize = 16

// maxSnapshotRecord bounds a single record's framing.
const maxSnapshotRecord = 16 * 1024 * 1024

// Save writes the cache to a compressed snapshot at path. When keep is
// non-nil only those keys are written; the second return value counts
// keys requested but no longer cached (evicted since they were scanned).
// Records are written in sorted-path order so identical cache contents
// produce identical snapshots.
func (c *Cache) Save(path string, keep map[string]struct{}, comp core.Compressor) (saved, missing int, err error) {
	if comp == nil {
		comp = &compressors.NoCompressionCompressor{}
	}

	keys := c.SortedKeys()
	if keep != nil {
		kept := keys[:0]
		for _, k := range keys {
			if _, ok := keep[k]; ok {
				kept = append(kept, k)
			}
		}
		missing = len(keep) - len(kept)
		keys = kept
	}

	var payload bytes.Buffer
	var scratch bytes.Buffer
	binary.Write(&payload, binary.LittleEndian, uint32(len(keys)))
	for _, k := range keys {
		rec, ok := c.Get(k)
		if !ok {
			// Evicted between SortedKeys and now; already counted only
			// when keep was supplied, so recount here.
			missing++
			continue
		}
		scratch.Reset()
		encodeRecord(&scratch, k, rec)
		binary.Write(&payload, binary.LittleEndian, uint32(scratch.Len()))
		payload.Write(scratch.Bytes())
		saved++
	}
	if missing > 0 {
		c.logger.Warn("snapshot is missing entries evicted from the cache",
			"missing", missing, "saved", saved)
	}

	compressed, err := comp.Compress(payload.Bytes())
	if err != nil {
		return 0, 0, fmt.Errorf("failed to compress snapshot payload: %w", err)
	}

	var hdr [snapshotHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], core.SnapshotMagic)
	hdr[4] = core.SnapshotFormatVersion
	hdr[5] = byte(comp.Type())
	binary.LittleEndian.PutUint32(hdr[8:12], crc32.ChecksumIEEE(compressed))

	f, err := os.Create(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create snapshot file %s: %w", path, err)
	}
	if _, err := f.Write(hdr[:]); err != nil {
		f.Close()
		return 0, 0, fmt.Errorf("failed to write snapshot header: %w", err)
	}
	if _, err := f.Write(compressed); err != nil {
		f.Close()
		return 0, 0, fmt.Errorf("failed to write snapshot payload: %w", err)
	}
	return saved, missing, f.Close()
}

// Load reads a snapshot into the cache. Unreadable records are skipped
// and counted rather than failing the load; only structural problems
// (bad magic, payload checksum, truncation) are fatal.
func (c *Cache) Load(path string) (loaded, skipped int, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read snapshot file %s: %w", path, err)
	}
	if len(raw) < snapshotHeaderSize {
		return 0, 0, core.NewFormatError(path, "truncated header", len(raw), snapshotHeaderSize)
	}

	magic := binary.LittleEndian.Uint32(raw[0:4])
	if magic != core.SnapshotMagic {
		return 0, 0, core.NewUnsupportedVersionError(path, magic, []uint32{core.SnapshotMagic})
	}
	if v := raw[4]; v != core.SnapshotFormatVersion {
		return 0, 0, core.NewFormatError(path, "snapshot version", v, core.SnapshotFormatVersion)
	}

	compressed := raw[snapshotHeaderSize:]
	if want := binary.LittleEndian.Uint32(raw[8:12]); crc32.ChecksumIEEE(compressed) != want {
		return 0, 0, core.NewFormatError(path, "payload checksum", crc32.ChecksumIEEE(compressed), want)
	}

	comp, err := compressors.NewCompressor(core.CompressionType(raw[5]))
	if err != nil {
		return 0, 0, core.NewFormatError(path, "compressor type", raw[5], nil)
	}
	rc, err := comp.Decompress(compressed)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decompress snapshot %s: %w", path, err)
	}
	defer rc.Close()
	payload, err := io.ReadAll(rc)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read snapshot payload %s: %w", path, err)
	}

	r := bytes.NewReader(payload)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return 0, 0, core.NewFormatError(path, "truncated record count", err.Error(), nil)
	}

	for i := uint32(0); i < count; i++ {
		var recLen uint32
		if err := binary.Read(r, binary.LittleEndian, &recLen); err != nil {
			// Framing lost; everything remaining is unrecoverable.
			skipped += int(count - i)
			break
		}
		if recLen == 0 || int64(recLen) > int64(r.Len()) || recLen > maxSnapshotRecord {
			skipped += int(count - i)
			break
		}
		body := make([]byte, recLen)
		io.ReadFull(r, body)

		key, rec, err := decodeRecord(body)
		if err != nil {
			skipped++
			continue
		}
		c.Set(key, rec)
		loaded++
	}

	if skipped > 0 {
		c.logger.Warn("skipped corrupted snapshot records", "file", path, "skipped", skipped, "loaded", loaded)
	}
	return loaded, skipped, nil
}

func encodeRecord(w *bytes.Buffer, key string, rec Record) {
	binary.Write(w, binary.LittleEndian, uint16(len(key)))
	w.WriteString(key)
	binary.Write(w, binary.LittleEndian, uint64(rec.Size))
	binary.Write(w, binary.LittleEndian, rec.MTime.Unix())

	names := make([]string, 0, len(rec.Tags))
	for name := range rec.Tags {
		names = append(names, name)
	}
	sort.Strings(names)

	binary.Write(w, binary.LittleEndian, uint16(len(names)))
	for _, name := range names {
		binary.Write(w, binary.LittleEndian, uint16(len(name)))
		w.WriteString(name)
		vs := rec.Tags[name]
		binary.Write(w, binary.LittleEndian, uint16(len(vs)))
		for _, v := range vs {
			binary.Write(w, binary.LittleEndian, uint32(len(v)))
			w.WriteString(v)
		}
	}
}

func decodeRecord(body []byte) (string, Record, error) {
	r := bytes.NewReader(body)

	key, err := readString16(r)
	if err != nil || key == "" {
		return "", Record{}, fmt.Errorf("bad record path: %w", err)
	}
	var size uint64
	var mtime int64
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return "", Record{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &mtime); err != nil {
		return "", Record{}, err
	}

	var tagCount uint16
	if err := binary.Read(r, binary.LittleEndian, &tagCount); err != nil {
		return "", Record{}, err
	}
	tags := make(core.TagSet, tagCount)
	for i := uint16(0); i < tagCount; i++ {
		name, err := readString16(r)
		if err != nil {
			return "", Record{}, err
		}
		var valCount uint16
		if err := binary.Read(r, binary.LittleEndian, &valCount); err != nil {
			return "", Record{}, err
		}
		vs := make([]string, 0, valCount)
		for j := uint16(0); j < valCount; j++ {
			var vlen uint32
			if err := binary.Read(r, binary.LittleEndian, &vlen); err != nil {
				return "", Record{}, err
			}
			if int64(vlen) > int64(r.Len()) {
				return "", Record{}, fmt.Errorf("value length %d exceeds record", vlen)
			}
			buf := make([]byte, vlen)
			io.ReadFull(r, buf)
			vs = append(vs, string(buf))
		}
		tags[name] = vs
	}
	if r.Len() != 0 {
		return "", Record{}, fmt.Errorf("%d trailing bytes in record", r.Len())
	}

	return key, Record{Size: int64(size), MTime: time.Unix(mtime, 0), Tags: tags}, nil
}

func readString16(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if int64(n) > int64(r.Len()) {
		return "", fmt.Errorf("string length %d exceeds record", n)
	}
	buf := make([]byte, n)
	io.ReadFull(r, buf)
	return string(buf), nil
}
