// Package lock keeps two gateways from serving the same identity on one host.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Holder is the content of the lock file.
type Holder struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Identity  string    `json:"identity"`
}

// ConflictError is returned when the lock file already exists.
type ConflictError struct {
	Path   string
	Holder *Holder // nil if the existing file could not be parsed
}

func (e *ConflictError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("another instance holds %s (pid %d, started %s)",
			e.Path, e.Holder.PID, e.Holder.StartedAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("another instance holds %s", e.Path)
}

// Lock is an acquired lock file.
type Lock struct {
	path string
	once sync.Once
}

// DefaultPath returns the host-wide lock path for identity.
func DefaultPath(identity string) string {
	var b strings.Builder
	for _, r := range identity {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	name := "wacodex.lock"
	if b.Len() > 0 {
		name = "wacodex-" + b.String() + ".lock"
	}
	return filepath.Join(os.TempDir(), name)
}

// Acquire creates path exclusively and records this process in it.
func Acquire(path, identity string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, &ConflictError{Path: path, Holder: readHolder(path)}
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	data, _ := json.Marshal(Holder{
		PID:       os.Getpid(),
		StartedAt: time.Now().UTC(),
		Identity:  identity,
	})
	_, werr := f.Write(append(data, '\n'))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write lock: %w", errors.Join(werr, cerr))
	}
	return &Lock{path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release removes the lock file. Calling it more than once is safe.
func (l *Lock) Release() error {
	var err error
	l.once.Do(func() {
		if rmErr := os.Remove(l.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = rmErr
		}
	})
	return err
}

func readHolder(path string) *Holder {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var h Holder
	if json.Unmarshal(data, &h) != nil {
		return nil
	}
	return &h
}
