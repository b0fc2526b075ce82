//go:build !darwin && !linux

package storage

// Filesystem type detection is not implemented here; the path is assumed local.
func detectFilesystemType(path string) (string, error) {
	return "unknown", nil
}
