// Package state persists the gateway's durable values (active workdir,
// session token, favorites) as one small file per key.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Keys understood by the gateway.
const (
	KeyWorkdir   = "workdir"
	KeySession   = "session"
	KeyFavorites = "favorites"
)

var fileNames = map[string]string{
	KeyWorkdir:   "workdir.txt",
	KeySession:   "session.txt",
	KeyFavorites: "favorites.json",
}

// Store is a minimal durable key/value store.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}

// FileStore keeps each key in its own file under Dir.
type FileStore struct {
	Dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

// PathFor returns the file backing key.
func (s *FileStore) PathFor(key string) string {
	name, ok := fileNames[key]
	if !ok {
		name = key + ".txt"
	}
	return filepath.Join(s.Dir, name)
}

// KeyFor maps a file name back to its key; ok is false for unrelated files.
func (s *FileStore) KeyFor(path string) (string, bool) {
	base := filepath.Base(path)
	for key, name := range fileNames {
		if name == base {
			return key, true
		}
	}
	return "", false
}

// Get returns the stored value. A missing or blank file is reported as !ok.
func (s *FileStore) Get(key string) (string, bool, error) {
	data, err := os.ReadFile(s.PathFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", false, nil
	}
	return value, true, nil
}

// Set writes value atomically.
func (s *FileStore) Set(key, value string) error {
	if err := AtomicWrite(s.PathFor(key), []byte(value+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes key; deleting a missing key is not an error.
func (s *FileStore) Delete(key string) error {
	err := os.Remove(s.PathFor(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// AtomicWrite writes data to path atomically using temp file + rename.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Same directory keeps the rename on one filesystem
	tmp, err := os.CreateTemp(dir, ".wacodex-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp to target: %w", err)
	}

	success = true
	return nil
}
