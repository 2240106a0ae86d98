package indexfile

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/tagforge/tcdb/core"
	"github.com/tagforge/tcdb/tagfile"
)

// FieldTables groups the nine per-field string tables the index
// cross-references.
type FieldTables map[core.Field]*tagfile.Table

// NewFieldTables creates one empty table per field.
func NewFieldTables() FieldTables {
	ts := make(FieldTables, core.NumFields)
	for _, f := range core.Fields() {
		ts[f] = tagfile.NewTable(f)
	}
	return ts
}

// Table is the in-memory index: ordered rows plus the header metadata
// of database_idx.tcd. It keeps a reference to the field tables because
// the header's declared size spans them.
type Table struct {
	Serial   uint32
	CommitID uint32
	Dirty    uint32

	rows   []*Row
	tables FieldTables

	// deleted tracks tombstoned row ordinals. Kept as a bitmap so the
	// update engine and validation can reason about row sets without
	// rescanning flags.
	deleted *roaring.Bitmap

	// orphans counts row references that failed to resolve on load and
	// were replaced with placeholders.
	orphans int
}

// New creates an empty index bound to its field tables.
func New(tables FieldTables) *Table {
	return &Table{
		tables:  tables,
		deleted: roaring.New(),
	}
}

func (t *Table) Tables() FieldTables {
	return t.tables
}

func (t *Table) Count() int {
	return len(t.rows)
}

func (t *Table) Rows() []*Row {
	return t.rows
}

// Append adds a row and returns its ordinal.
func (t *Table) Append(r *Row) uint32 {
	t.rows = append(t.rows, r)
	ord := uint32(len(t.rows) - 1)
	if r.IsDeleted() {
		t.deleted.Add(ord)
	}
	return ord
}

// Tombstone marks the row at ordinal deleted. The row and its
// statistics are retained; it is only flagged.
func (t *Table) Tombstone(ordinal uint32) {
	if int(ordinal) >= len(t.rows) {
		return
	}
	t.rows[ordinal].SetFlag(core.FlagDeleted)
	t.deleted.Add(ordinal)
}

// DeletedRows returns a copy of the tombstoned ordinal set.
func (t *Table) DeletedRows() *roaring.Bitmap {
	return t.deleted.Clone()
}

// DeletedCount is the number of tombstoned rows.
func (t *Table) DeletedCount() int {
	return int(t.deleted.GetCardinality())
}

// OrphanRefs is the number of placeholder references substituted while
// loading.
func (t *Table) OrphanRefs() int {
	return t.orphans
}

// DataSize is the serialized size of the rows alone.
func (t *Table) DataSize() int {
	return len(t.rows) * core.IndexRowSize
}

// Size is the declared header size: the memory the device allocates to
// hold the whole catalog. It spans every string table except the path
// table, plus the index header and rows.
func (t *Table) Size() int {
	n := core.IndexHeaderSize + t.DataSize()
	for f, tbl := range t.tables {
		if f == core.FieldPath {
			continue
		}
		n += tbl.Size()
	}
	return n
}
