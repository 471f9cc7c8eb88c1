// Package runstore persists the run counter between executions.
package runstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JakeFAU/channel-monitor/internal/monitor"
)

// FirstRun is the id used when no counter file exists yet.
const FirstRun monitor.RunID = 1

// Store reads and advances a run counter kept as a single integer in a text file.
type Store struct {
	path string
}

// New returns a Store backed by path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the counter file location.
func (s *Store) Path() string { return s.path }

// Load returns the id of the run about to start. A missing file yields FirstRun; any other
// read or parse failure is returned.
func (s *Store) Load() (monitor.RunID, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return FirstRun, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read run id %s: %w", s.path, err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	n, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse run id %s: %w", s.path, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("run id %s: must be positive, got %d", s.path, n)
	}
	return monitor.RunID(n), nil
}

// Advance records that current completed, so the next Load returns current+1.
func (s *Store) Advance(current monitor.RunID) error {
	return writeAtomic(s.path, []byte(strconv.FormatInt(int64(current.Next()), 10)+"\n"))
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".runid-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}
