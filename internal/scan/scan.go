// Package scan extracts identifiers embedded in inline script text.
//
// itch.io pages carry view-model calls like `I.ViewJam({"id": 12345, ...})`
// inside script blocks. The shape is too irregular for a JSON decoder, so
// the extraction is a deliberate text scan: find the last line containing
// the marker, then match the key within the remainder of that line.
package scan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// IntAfterMarker scans text bottom-up for the last line containing marker
// and returns the integer value of `"key": N` within that line. The second
// return value reports whether a value was found.
func IntAfterMarker(text, marker, key string) (int64, bool) {
	lines := strings.Split(text, "\n")
	var markerLine string
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSuffix(lines[i], "\r")
		if idx := strings.Index(line, marker); idx != -1 {
			markerLine = line[idx:]
			break
		}
	}
	if markerLine == "" {
		return 0, false
	}
	re := regexp.MustCompile(fmt.Sprintf(`"%s":\s?(\d+)`, regexp.QuoteMeta(key)))
	m := re.FindStringSubmatch(markerLine)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
