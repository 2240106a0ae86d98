package generator

import (
	"strings"
)

// TranslatePath converts a host scan path into the device-relative path
// stored in the catalog. With a configured mount point the prefix is
// stripped; otherwise any drive letter is dropped. Separators are
// normalized to '/' and an optional device prefix (such as "/<HDD0>")
// is prepended. Handling is host-OS independent so catalogs built on
// any platform come out identical.
func TranslatePath(path, mountPoint, devicePrefix string) string {
	p := strings.ReplaceAll(path, `\`, "/")

	if mountPoint != "" {
		mp := strings.TrimRight(strings.ReplaceAll(mountPoint, `\`, "/"), "/")
		if mp != "" && strings.HasPrefix(strings.ToLower(p), strings.ToLower(mp)) {
			p = p[len(mp):]
		}
	} else if len(p) >= 2 && p[1] == ':' && isDriveLetter(p[0]) {
		p = p[2:]
	}

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return devicePrefix + p
}

func isDriveLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
