// Package tagfile implements the per-field string tables of the catalog:
// interning of distinct values in memory and the strict binary codec
// used for the database_N.tcd files.
package tagfile

import (
	"strings"
	"unicode/utf8"

	"github.com/tagforge/tcdb/core"
)

// Entry is one interned string value. Within a table entries are unique
// by value; every index row referencing the same artist name shares one
// Entry. Offset is only meaningful after the table has been serialized.
type Entry struct {
	value  string
	sort   string // explicit sort key, already case-folded; "" means derive from value
	isPath bool

	// Ordinal is the row number of the first index row referencing this
	// entry, or core.InvalidOrdinal when unset. Only the path and title
	// tables carry real ordinals.
	Ordinal uint32

	// Offset is the byte position of this entry in its serialized table,
	// assigned during write (or read). Zero means unassigned: no entry
	// can ever start inside the file header.
	Offset uint32
}

// NewEntry creates an entry with an optional explicit sort key.
func NewEntry(value, sort string, isPath bool) *Entry {
	if sort != "" {
		sort = strings.ToLower(sort)
	}
	return &Entry{
		value:   value,
		sort:    sort,
		isPath:  isPath,
		Ordinal: core.InvalidOrdinal,
	}
}

func (e *Entry) Value() string {
	return e.value
}

// SortKey is the explicit sort key when one was recorded, otherwise the
// case-folded value.
func (e *Entry) SortKey() string {
	if e.sort != "" {
		return e.sort
	}
	return strings.ToLower(e.value)
}

// SetValue replaces the stored value in place. Rename application uses
// this to repoint a path entry without touching the owning index rows.
func (e *Entry) SetValue(value string) {
	e.value = value
}

// SerializedSize is the on-disk footprint: 8-byte entry header plus the
// padded value bytes.
func (e *Entry) SerializedSize() int {
	return 8 + e.PaddedLength()
}

// PaddedLength is the stored byte length of the value, nul terminator
// included. Path entries are not rounded up.
func (e *Entry) PaddedLength() int {
	return core.PaddedLength(len(e.value), e.isPath)
}

// decodeValue recovers a string from raw table bytes (terminator and
// padding already stripped). Legacy databases may carry non-UTF-8
// bytes: try UTF-8 first, then Latin-1, which maps every byte to a
// rune and cannot fail, so decoding never errors.
func decodeValue(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes)
}
