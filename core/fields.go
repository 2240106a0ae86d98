package core

import "fmt"

// Field identifies one of the string-table backed track attributes.
// The numeric value doubles as the table file number, matching the
// firmware's tag_type enum, so the order must never change.
type Field int

const (
	FieldArtist Field = iota
	FieldAlbum
	FieldGenre
	FieldTitle
	FieldPath
	FieldComposer
	FieldComment
	FieldAlbumArtist
	FieldGrouping

	NumFields = int(FieldGrouping) + 1
)

var fieldNames = [NumFields]string{
	"artist",
	"album",
	"genre",
	"title",
	"path",
	"composer",
	"comment",
	"album artist",
	"grouping",
}

func (f Field) String() string {
	if f < 0 || int(f) >= NumFields {
		return fmt.Sprintf("Field(%d)", int(f))
	}
	return fieldNames[f]
}

// TableFileName returns the on-device file name for this field's table.
func (f Field) TableFileName() string {
	return fmt.Sprintf("database_%d.tcd", int(f))
}

// IndexFileName is the on-device file name of the index table.
const IndexFileName = "database_idx.tcd"

// Fields returns all fields in serialization order.
func Fields() []Field {
	fs := make([]Field, NumFields)
	for i := range fs {
		fs[i] = Field(i)
	}
	return fs
}

// FieldByName resolves a field from its tag name.
func FieldByName(name string) (Field, bool) {
	for i, n := range fieldNames {
		if n == name {
			return Field(i), true
		}
	}
	return 0, false
}

// Attr identifies an embedded numeric attribute of an index row.
// Serialization order is fixed by the version-16 row layout.
type Attr int

const (
	AttrDate Attr = iota
	AttrDiscNumber
	AttrTrackNumber
	AttrBitrate
	AttrLength // milliseconds
	AttrPlayCount
	AttrRating
	AttrPlayTime
	AttrLastPlayed
	AttrCommitID
	AttrMTime // FAT-encoded
	AttrFlags
	AttrReserved0
	AttrReserved1
	AttrReserved2

	NumAttrs = int(AttrReserved2) + 1
)

var attrNames = [NumAttrs]string{
	"date",
	"discnumber",
	"tracknumber",
	"bitrate",
	"length",
	"playcount",
	"rating",
	"playtime",
	"lastplayed",
	"commitid",
	"mtime",
	"flag",
	"reserved0",
	"reserved1",
	"reserved2",
}

func (a Attr) String() string {
	if a < 0 || int(a) >= NumAttrs {
		return fmt.Sprintf("Attr(%d)", int(a))
	}
	return attrNames[a]
}

// Index row status flags, shared with the device firmware.
const (
	FlagDeleted     uint32 = 0x0001 // entry has been removed from the catalog
	FlagDirCache    uint32 = 0x0002 // runtime-only dircache pointer
	FlagDirtyNum    uint32 = 0x0004 // numeric data modified since commit
	FlagTrkNumGen   uint32 = 0x0008 // track number was generated, not tagged
	FlagResurrected uint32 = 0x0010 // statistics restored from a tombstone
)
