package core

import (
	"strconv"
	"strings"
)

// TagSet is the minimal tag mapping cached per file: tag name to the
// list of raw string values. Multi-valued tags (several genres) keep
// one list element per value.
type TagSet map[string][]string

// EssentialTagFields is the subset of raw tags retained in the scan
// cache. Everything else a tag reader produces is dropped to keep the
// per-entry footprint small.
var EssentialTagFields = []string{
	"artist", "album", "genre", "title", "composer",
	"comment", "album artist", "grouping", "date",
	"discnumber", "tracknumber", "bitrate", "length",
}

// First returns the first value of a tag, if present and non-empty.
func (t TagSet) First(name string) (string, bool) {
	vs, ok := t[name]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Shrink returns a copy of the set restricted to EssentialTagFields.
func (t TagSet) Shrink() TagSet {
	out := make(TagSet, len(EssentialTagFields))
	for _, name := range EssentialTagFields {
		if vs, ok := t[name]; ok && len(vs) > 0 {
			cp := make([]string, len(vs))
			copy(cp, vs)
			out[name] = cp
		}
	}
	return out
}

// EstimatedSize approximates the serialized footprint of the set.
func (t TagSet) EstimatedSize() int {
	n := 0
	for name, vs := range t {
		n += len(name) + 4
		for _, v := range vs {
			n += len(v) + 4
		}
	}
	return n
}

// CoerceInt converts a formatted value to an integer the way the device
// does: strip whitespace, keep an optional sign, chop at the first
// non-numeric character, and fall back to 0 when nothing parses. Values
// like "7/12" (track 7 of 12) therefore yield 7.
func CoerceInt(s string) int64 {
	f, ok := coerceNumber(s)
	if !ok {
		return 0
	}
	return int64(f)
}

// CoerceFloat is CoerceInt without the truncation, for values such as
// track length in fractional seconds.
func CoerceFloat(s string) float64 {
	f, _ := coerceNumber(s)
	return f
}

func coerceNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	sign := ""
	if s[0] == '-' || s[0] == '+' {
		sign = s[:1]
		s = s[1:]
	}
	end := len(s)
	for i, c := range s {
		if (c < '0' || c > '9') && c != '.' {
			end = i
			break
		}
	}
	f, err := strconv.ParseFloat(sign+s[:end], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
