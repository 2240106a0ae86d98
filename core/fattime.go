package core

import "time"

// FAT16 DOS date/time codec. The device stores row mtimes as a packed
// (date<<16 | time) word pair with 2-second resolution. Valid years are
// 1980..2107 (7-bit offset from 1980); anything earlier encodes to 0.

const (
	fatEpochYear = 1980
	fatMaxYear   = fatEpochYear + 0x7F
)

// MTimeToFAT packs a timestamp into the FAT word pair, in local time.
func MTimeToFAT(t time.Time) uint32 {
	t = t.Local()
	year := t.Year()
	if year < fatEpochYear {
		return 0
	}
	if year > fatMaxYear {
		year = fatMaxYear
	}

	date := uint32(year-fatEpochYear)<<9 |
		uint32(t.Month())<<5 |
		uint32(t.Day())
	tim := uint32(t.Hour())<<11 |
		uint32(t.Minute())<<5 |
		uint32(t.Second()/2)
	return date<<16 | tim
}

// FATToMTime unpacks a FAT word pair into a local timestamp. The zero
// value decodes to the zero time.
func FATToMTime(fat uint32) time.Time {
	if fat == 0 {
		return time.Time{}
	}
	date := fat >> 16
	tim := fat & 0xFFFF

	year := int((date>>9)&0x7F) + fatEpochYear
	month := time.Month((date >> 5) & 0x0F)
	day := int(date & 0x1F)
	hour := int((tim >> 11) & 0x1F)
	minute := int((tim >> 5) & 0x3F)
	second := int(tim&0x1F) * 2

	return time.Date(year, month, day, hour, minute, second, 0, time.Local)
}
