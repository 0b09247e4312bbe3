package naming

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PartialSuffix marks a file whose download has not been verified complete.
// The suffix is stripped only after the final size (and checksum, when the
// index provides one) has been confirmed, so a .part file must never be
// opened as a radargram.
const PartialSuffix = ".part"

// RadargramPath resolves a segment's index-relative path against the
// configured root directory. Rejects paths that would escape the root.
func RadargramPath(root, relativePath string) (string, error) {
	if root == "" || relativePath == "" {
		return "", fmt.Errorf("root directory or relative path is empty")
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for root directory: %w", err)
	}

	full := filepath.Join(absRoot, filepath.FromSlash(relativePath))

	rel, err := filepath.Rel(absRoot, full)
	if err != nil {
		return "", fmt.Errorf("failed to get relative path: %w", err)
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path traversal attempt detected: %s is outside root directory %s", relativePath, root)
	}

	return full, nil
}

// PartialPath returns the staging path used while a download is in flight
func PartialPath(path string) string {
	return path + PartialSuffix
}

// IsPartial reports whether a path carries the in-progress suffix
func IsPartial(path string) bool {
	return strings.HasSuffix(path, PartialSuffix)
}

// SnapshotFilename creates a standardized snapshot filename for an exported
// viewport. Format: {segment}_tr{start}-{end}_sa{start}-{end}.tif
func SnapshotFilename(segmentID string, traceStart, traceEnd, sampleStart, sampleEnd int) string {
	base := sanitizeSegmentID(segmentID)
	return fmt.Sprintf("%s_tr%d-%d_sa%d-%d.tif", base, traceStart, traceEnd, sampleStart, sampleEnd)
}

// sanitizeSegmentID makes a segment id safe for use in filenames
func sanitizeSegmentID(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return r.Replace(id)
}
