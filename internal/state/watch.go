package state

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"

	. "github.com/roelfdiedericks/wacodex/internal/logging"
)

// Watch reports keys whose backing file was written, created, removed or
// renamed, until ctx is done. The directory is watched rather than the
// individual files because atomic writes replace the inode.
func (s *FileStore) Watch(ctx context.Context, onChange func(key string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.Dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.Dir, err)
	}

	L_debug("state: watching", "dir", s.Dir)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				key, ok := s.KeyFor(event.Name)
				if !ok {
					continue
				}
				L_trace("state: file changed", "key", key, "op", event.Op.String())
				onChange(key)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				L_warn("state: fsnotify error", "error", err)
			}
		}
	}()
	return nil
}
