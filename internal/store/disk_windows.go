//go:build windows

package store

// diskFree is not implemented on Windows; stats report zero free space.
func diskFree(string) (uint64, error) {
	return 0, nil
}
