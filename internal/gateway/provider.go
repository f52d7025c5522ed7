package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/roelfdiedericks/wacodex/internal/commands"
	. "github.com/roelfdiedericks/wacodex/internal/logging"
	"github.com/roelfdiedericks/wacodex/internal/paths"
	"github.com/roelfdiedericks/wacodex/internal/runner"
	"github.com/roelfdiedericks/wacodex/internal/state"
)

var _ commands.Provider = (*Gateway)(nil)

// Status implements commands.Provider
func (g *Gateway) Status() commands.StatusInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := commands.StatusInfo{
		QueueLength:  g.queue.Len(),
		QueueMax:     g.queue.Max(),
		SessionToken: g.session,
		Workdir:      g.workdir,
		Uptime:       time.Since(g.startTime),
	}
	for _, job := range g.queue.Snapshot() {
		if g.active != nil && job.ID == g.active.ID {
			continue
		}
		st.Waiting = append(st.Waiting, job.ID)
	}
	if g.active != nil {
		st.Active = true
		st.ActiveJobID = g.active.ID
		st.ActiveSince = g.active.StartedAt
		if st.ActiveSince.IsZero() {
			st.ActiveSince = time.Now()
		}
	}
	if g.connection != nil {
		st.Connection = g.connection()
	}
	return st
}

// SessionToken returns the current session token ("" when none)
func (g *Gateway) SessionToken() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

// Workdir returns the active workdir
func (g *Gateway) Workdir() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.workdir
}

// busyLocked reports ErrBusy while a job is active or queued.
func (g *Gateway) busyLocked() error {
	if g.active != nil || g.queue.Len() > 0 {
		return ErrBusy
	}
	return nil
}

// ChangeDir resolves path against the current workdir and switches to it.
func (g *Gateway) ChangeDir(path string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.busyLocked(); err != nil {
		return "", err
	}
	dir, err := paths.ResolveDir(g.workdir, path)
	if err != nil {
		return "", &PathError{Path: path, Err: err}
	}
	if err := g.commitWorkdirLocked(dir, false); err != nil {
		return "", err
	}
	return dir, nil
}

// ResetDir switches back to the configured default workdir.
func (g *Gateway) ResetDir() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.busyLocked(); err != nil {
		return "", err
	}
	dir, err := paths.ResolveDir(g.config.DefaultWorkdir, g.config.DefaultWorkdir)
	if err != nil {
		return "", &PathError{Path: g.config.DefaultWorkdir, Err: err}
	}
	if err := g.commitWorkdirLocked(dir, true); err != nil {
		return "", err
	}
	return dir, nil
}

// commitWorkdirLocked switches to dir, persists it and clears the session.
func (g *Gateway) commitWorkdirLocked(dir string, isDefault bool) error {
	var err error
	if isDefault {
		err = g.store.ClearWorkdir()
	} else {
		err = g.store.SaveWorkdir(dir)
	}
	if err != nil {
		return fmt.Errorf("persist workdir: %w", err)
	}
	prev := g.workdir
	g.workdir = dir
	g.clearSessionLocked()
	L_info("gateway: workdir changed", "from", prev, "to", dir)
	return nil
}

func (g *Gateway) clearSessionLocked() {
	g.sessionGen++
	g.session = ""
	if err := g.store.ClearSession(); err != nil {
		L_warn("gateway: failed to clear persisted session", "error", err)
	}
}

// Favorites returns a copy of the favorites
func (g *Gateway) Favorites() map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]string, len(g.favorites))
	for k, v := range g.favorites {
		out[k] = v
	}
	return out
}

// AddFavorite validates name, resolves path and stores the pair.
func (g *Gateway) AddFavorite(name, path string) (string, string, error) {
	n, err := state.NormalizeFavoriteName(name)
	if err != nil {
		return "", "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	dir, err := paths.ResolveDir(g.workdir, path)
	if err != nil {
		return "", "", &PathError{Path: path, Err: err}
	}
	next := copyFavorites(g.favorites)
	next[n] = dir
	if err := g.store.SaveFavorites(next); err != nil {
		return "", "", err
	}
	g.favorites = next
	L_info("gateway: favorite added", "name", n, "path", dir)
	return n, dir, nil
}

// RemoveFavorite deletes a favorite.
func (g *Gateway) RemoveFavorite(name string) (string, error) {
	n, err := state.NormalizeFavoriteName(name)
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.favorites[n]; !ok {
		return "", fmt.Errorf("%s: %w", n, ErrFavoriteNotFound)
	}
	next := copyFavorites(g.favorites)
	delete(next, n)
	if err := g.store.SaveFavorites(next); err != nil {
		return "", err
	}
	g.favorites = next
	L_info("gateway: favorite removed", "name", n)
	return n, nil
}

// UseFavorite switches the workdir to a favorite's path.
func (g *Gateway) UseFavorite(name string) (string, string, error) {
	n, err := state.NormalizeFavoriteName(name)
	if err != nil {
		return "", "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	path, ok := g.favorites[n]
	if !ok {
		return "", "", fmt.Errorf("%s: %w", n, ErrFavoriteNotFound)
	}
	if err := g.busyLocked(); err != nil {
		return "", "", err
	}
	dir, err := paths.ResolveDir(g.workdir, path)
	if err != nil {
		return "", "", &PathError{Path: path, Err: err}
	}
	if err := g.commitWorkdirLocked(dir, false); err != nil {
		return "", "", err
	}
	return n, dir, nil
}

// OpenInteractive launches the tool on the host for the current session.
func (g *Gateway) OpenInteractive() error {
	if g.runner == nil {
		return errors.New("no runner configured")
	}
	g.mu.Lock()
	workdir, token := g.workdir, g.session
	g.mu.Unlock()
	return runner.OpenInteractive(g.runner.Config(), workdir, token)
}

// Stop terminates the active job and discards the pending ones.
func (g *Gateway) Stop() commands.StopResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	var res commands.StopResult
	keep := 0
	if g.active != nil {
		keep = 1
		res.Terminated = true
		res.JobID = g.active.ID
		if !g.active.stopped {
			g.active.stopped = true
			if g.active.proc != nil {
				g.active.proc.Terminate()
			}
		}
	}
	res.Cleared = g.queue.Truncate(keep)
	L_info("gateway: stop", "terminated", res.Terminated, "job", res.JobID, "cleared", res.Cleared)
	return res
}

// NewSession discards pending jobs and forgets the session token. A
// running job is left alone but its token will not be kept.
func (g *Gateway) NewSession() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	keep := 0
	if g.active != nil {
		keep = 1
	}
	cleared := g.queue.Truncate(keep)
	g.clearSessionLocked()
	L_info("gateway: new session", "cleared", cleared)
	return cleared
}

// reloadFavorites re-reads favorites after an external edit.
func (g *Gateway) reloadFavorites() {
	favs, err := g.store.LoadFavorites()
	if err != nil {
		L_warn("gateway: favorites reload failed", "error", err)
		return
	}
	g.mu.Lock()
	g.favorites = favs
	g.mu.Unlock()
	L_debug("gateway: favorites reloaded", "count", len(favs))
}

func copyFavorites(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

