package tagfile

import (
	"sort"

	"github.com/tagforge/tcdb/core"
)

// Table is the in-memory string table for one field: insertion-ordered
// entries plus a value lookup used for interning.
type Table struct {
	field   core.Field
	entries []*Entry
	byValue map[string]*Entry

	// offsets maps serialized byte offsets back to entries. Populated
	// by both the writer and the reader; the index codec resolves its
	// row references through it.
	offsets map[uint32]*Entry
}

// NewTable creates an empty table for a field.
func NewTable(field core.Field) *Table {
	return &Table{
		field:   field,
		byValue: make(map[string]*Entry),
		offsets: make(map[uint32]*Entry),
	}
}

func (t *Table) Field() core.Field {
	return t.field
}

func (t *Table) Len() int {
	return len(t.entries)
}

// Size is the total serialized data size, excluding the file header.
func (t *Table) Size() int {
	n := 0
	for _, e := range t.entries {
		n += e.SerializedSize()
	}
	return n
}

// Entries returns the entries in their current table order.
func (t *Table) Entries() []*Entry {
	return t.entries
}

// Lookup finds the entry interned for a value.
func (t *Table) Lookup(value string) (*Entry, bool) {
	e, ok := t.byValue[value]
	return e, ok
}

// Intern returns the entry for value, creating and appending one with
// the given sort key on first sight. The first-seen sort key wins.
func (t *Table) Intern(value, sortKey string) *Entry {
	if e, ok := t.byValue[value]; ok {
		return e
	}
	e := NewEntry(value, sortKey, t.field == core.FieldPath)
	t.append(e)
	return e
}

// Append adds a pre-built entry, keeping the interning map consistent.
// Later entries never displace an interned value.
func (t *Table) Append(e *Entry) {
	t.append(e)
}

func (t *Table) append(e *Entry) {
	if _, ok := t.byValue[e.value]; !ok {
		t.byValue[e.value] = e
	}
	t.entries = append(t.entries, e)
}

// Rekey moves an entry's interning key from old to new after its value
// was mutated in place (rename application on the path table).
func (t *Table) Rekey(old, new string) {
	e, ok := t.byValue[old]
	if !ok {
		return
	}
	delete(t.byValue, old)
	if _, taken := t.byValue[new]; !taken {
		t.byValue[new] = e
	}
}

// SortEntries orders the table by case-folded sort key. Offsets are
// assigned at write time, so reordering here is safe until then. The
// sort is stable so equal keys keep their deterministic commit order.
func (t *Table) SortEntries() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].SortKey() < t.entries[j].SortKey()
	})
}

// EntryAtOffset resolves a serialized byte offset to its entry.
func (t *Table) EntryAtOffset(off uint32) (*Entry, bool) {
	e, ok := t.offsets[off]
	return e, ok
}
