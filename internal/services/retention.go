package services

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SweepOldFiles deletes regular files directly under dir whose modification time is
// older than maxAge, except keep. It returns how many files were removed and the
// joined errors of the ones that could not be.
func SweepOldFiles(dir string, maxAge time.Duration, now time.Time, keep string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", dir, err)
	}

	cutoff := now.Add(-maxAge)
	var errs []error
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if keep != "" && filepath.Clean(path) == filepath.Clean(keep) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
