package playback

import (
	"path/filepath"
	"strings"
)

// DefaultAnchor is the directory name user documents conventionally live under.
const DefaultAnchor = "Documents"

// RemapPath rebuilds a stored absolute path under root by keeping everything
// after the first segment equal to anchor. It reports false when the path
// has no such segment or nothing follows it.
func RemapPath(stored, anchor, root string) (string, bool) {
	if anchor == "" {
		anchor = DefaultAnchor
	}
	segments := strings.Split(filepath.ToSlash(filepath.Clean(stored)), "/")
	for i, seg := range segments {
		if seg != anchor {
			continue
		}
		rest := segments[i+1:]
		if len(rest) == 0 {
			return "", false
		}
		return filepath.Join(append([]string{root}, rest...)...), true
	}
	return "", false
}
