package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	. "github.com/roelfdiedericks/wacodex/internal/logging"
	"github.com/roelfdiedericks/wacodex/internal/runner"
	"github.com/roelfdiedericks/wacodex/internal/state"
)

const (
	dedupPruneSpec = "@every 1m"
	tempSweepSpec  = "@every 30m"
)

// cronLogger routes robfig/cron logs through our logger
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	L_trace("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	L_warn("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

// Start begins housekeeping and the favorites watcher. Both stop on
// Shutdown or when ctx is done.
func (g *Gateway) Start(ctx context.Context) error {
	c := cron.New(cron.WithLogger(cronLogger{}), cron.WithChain(cron.Recover(cronLogger{})))

	if g.dedup != nil {
		if _, err := c.AddFunc(dedupPruneSpec, g.pruneDedup); err != nil {
			return fmt.Errorf("schedule dedup prune: %w", err)
		}
	}
	if g.runner != nil {
		if _, err := c.AddFunc(tempSweepSpec, g.sweepTemp); err != nil {
			return fmt.Errorf("schedule temp sweep: %w", err)
		}
		// Leftovers from a previous crash
		go g.sweepTemp()
	}

	g.mu.Lock()
	g.cron = c
	g.mu.Unlock()
	c.Start()

	watchCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-g.ctx.Done():
		case <-watchCtx.Done():
		}
		cancel()
	}()
	if fs, ok := g.store.Store().(*state.FileStore); ok {
		err := fs.Watch(watchCtx, func(key string) {
			if key == state.KeyFavorites {
				g.reloadFavorites()
			}
		})
		if err != nil {
			L_warn("gateway: favorites hot reload disabled", "error", err)
		}
	}

	L_debug("gateway: housekeeping started")
	return nil
}

func (g *Gateway) stopHousekeeping() {
	g.mu.Lock()
	c := g.cron
	g.cron = nil
	g.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (g *Gateway) pruneDedup() {
	if n := g.dedup.Prune(); n > 0 {
		L_trace("gateway: pruned dedup entries", "count", n, "remaining", g.dedup.Len())
	}
}

func (g *Gateway) sweepTemp() {
	age := 2 * g.config.JobTimeout
	if age < time.Hour {
		age = time.Hour
	}
	if _, err := runner.SweepTemp(g.runner.Config().TempDir, age); err != nil {
		L_warn("gateway: temp sweep failed", "error", err)
	}
}
