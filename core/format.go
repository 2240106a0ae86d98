package core

// This file centralizes constants related to file formats, magic numbers,
// and other protocol-level identifiers used across the catalog builder.

// --- Magic Numbers ---
const (
	// TagCacheMagic identifies version 16 of the catalog format:
	// ASCII "TCH" followed by the version byte 0x10.
	TagCacheMagic uint32 = 0x54434810

	// SnapshotMagic identifies a scan-cache snapshot file ("TCHS").
	SnapshotMagic uint32 = 0x54434853
)

// SupportedMagics is the closed set of catalog versions this codec reads.
var SupportedMagics = []uint32{TagCacheMagic}

// --- Format Versions ---
const (
	// SnapshotFormatVersion is the current scan-cache snapshot version.
	SnapshotFormatVersion uint8 = 1
)

// --- Sizes ---
const (
	// TagFileHeaderSize is magic + total data bytes + entry count.
	TagFileHeaderSize = 3 * 4
	// IndexHeaderSize is magic + size + count + serial + commitid + dirty.
	IndexHeaderSize = 6 * 4
	// IndexRowSize is 9 field offsets plus 15 embedded attributes.
	IndexRowSize = 4 * (NumFields + NumAttrs)
)

// InvalidOrdinal is the sentinel for an unassigned entry ordinal.
const InvalidOrdinal uint32 = 0xFFFFFFFF

// PadFiller right-pads entry values after the nul terminator.
const PadFiller byte = 'X'

// MaxEntryCount rejects absurd header counts before allocating for them.
const MaxEntryCount = 16 * 1024 * 1024

// DefaultWriteBufferSize is the bufio size for table and index writes.
const DefaultWriteBufferSize = 256 * 1024

// Sentinel values understood by the device firmware.
const (
	UntaggedValue   = "<Untagged>"
	BlankValue      = "<BLANK>"
	InvalidRefValue = "<Invalid Reference>"
)

// PaddedLength returns the serialized byte length of a value, including
// the nul terminator. Every table rounds up to a multiple of 8 except
// the path table, which the firmware reads without padding.
func PaddedLength(valueLen int, isPath bool) int {
	n := valueLen + 1
	if isPath {
		return n
	}
	return (n + 7) / 8 * 8
}
