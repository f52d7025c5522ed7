package runner

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/roelfdiedericks/wacodex/internal/logging"
)

// SweepTemp removes job output files in dir older than olderThan. These
// are only left behind when the process died before reading them.
func SweepTemp(dir string, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, outputFilePrefix) || !strings.HasSuffix(name, ".txt") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			L_warn("runner: sweep failed", "file", name, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		L_info("runner: swept stale output files", "count", removed, "dir", dir)
	}
	return removed, nil
}
