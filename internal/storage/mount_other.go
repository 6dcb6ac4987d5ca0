//go:build !darwin && !linux

package storage

// filesystemType cannot be read portably here; paths are treated as local.
func filesystemType(string) (string, error) {
	return "unknown", nil
}
