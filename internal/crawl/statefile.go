package crawl

import (
	"encoding/json/v2"
	"fmt"
	"os"

	"github.com/filerskeepers/bookwatch/internal/domain"
)

// LoadState reads a crawl state snapshot from disk. A missing file returns
// os.ErrNotExist so callers can fall back to a fresh crawl.
func LoadState(path string) (*domain.CrawlState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var state domain.CrawlState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing state file %s: %w", path, err)
	}
	return &state, nil
}

// SaveState writes a crawl state snapshot to disk. The write goes to a temp
// file in the same directory and is renamed into place, so a crash mid-write
// leaves either the old snapshot or the new one, never a partial file.
func SaveState(path string, state *domain.CrawlState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming state file: %w", err)
	}
	return nil
}

// RemoveState deletes the state file. Missing files are not an error.
func RemoveState(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing state file: %w", err)
	}
	return nil
}
