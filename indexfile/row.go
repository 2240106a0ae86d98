// Package indexfile implements the fixed-width index table of the
// catalog: one row per track (times its multi-value expansion), each
// referencing the per-field string tables by serialized byte offset.
package indexfile

import (
	"time"

	"github.com/tagforge/tcdb/core"
	"github.com/tagforge/tcdb/tagfile"
)

// Row is one index entry: a string-table reference per field plus the
// embedded numeric attributes, in the fixed version-16 layout.
type Row struct {
	refs  [core.NumFields]*tagfile.Entry
	Attrs [core.NumAttrs]uint32
}

// NewRow creates a row with no references and zeroed attributes.
func NewRow() *Row {
	return &Row{}
}

// Ref returns the string-table entry referenced for a field.
func (r *Row) Ref(f core.Field) *tagfile.Entry {
	return r.refs[f]
}

// SetRef points a field at a table entry.
func (r *Row) SetRef(f core.Field, e *tagfile.Entry) {
	r.refs[f] = e
}

// Clone copies the row; multi-value expansion builds each combination
// from a shared prototype.
func (r *Row) Clone() *Row {
	cp := *r
	return &cp
}

func (r *Row) Flags() uint32 {
	return r.Attrs[core.AttrFlags]
}

func (r *Row) SetFlag(flag uint32) {
	r.Attrs[core.AttrFlags] |= flag
}

func (r *Row) HasFlag(flag uint32) bool {
	return r.Attrs[core.AttrFlags]&flag != 0
}

// IsDeleted reports whether the row is a tombstone.
func (r *Row) IsDeleted() bool {
	return r.HasFlag(core.FlagDeleted)
}

// MTime decodes the row's FAT-encoded modification time.
func (r *Row) MTime() time.Time {
	return core.FATToMTime(r.Attrs[core.AttrMTime])
}

// SetMTime stores a modification time at FAT resolution.
func (r *Row) SetMTime(t time.Time) {
	r.Attrs[core.AttrMTime] = core.MTimeToFAT(t)
}

// Path is the referenced path value, or "" for a row whose path
// reference did not resolve.
func (r *Row) Path() string {
	e := r.refs[core.FieldPath]
	if e == nil || e.Value() == core.InvalidRefValue {
		return ""
	}
	return e.Value()
}
