package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sevlyar/go-daemon"

	"github.com/roelfdiedericks/wacodex/internal/channels/whatsapp"
	"github.com/roelfdiedericks/wacodex/internal/config"
	"github.com/roelfdiedericks/wacodex/internal/dedup"
	"github.com/roelfdiedericks/wacodex/internal/gateway"
	"github.com/roelfdiedericks/wacodex/internal/lock"
	. "github.com/roelfdiedericks/wacodex/internal/logging"
	"github.com/roelfdiedericks/wacodex/internal/paths"
	"github.com/roelfdiedericks/wacodex/internal/runner"
	"github.com/roelfdiedericks/wacodex/internal/state"
)

const shutdownTimeout = 10 * time.Second

type RunCmd struct {
	Detach bool `help:"Run in the background; logs go to ~/.wacodex/wacodex.log." short:"D"`
}

func (r *RunCmd) Run(g *Globals) error {
	if r.Detach {
		child, done, err := detach()
		if err != nil {
			return err
		}
		if !child {
			return nil
		}
		defer done()
	}

	cfg, err := g.load()
	if err != nil {
		return err
	}
	return serve(cfg)
}

// detach forks into the background. child is false in the parent, which
// should exit; done releases the pid file in the child.
func detach() (child bool, done func(), err error) {
	base, err := paths.BaseDir()
	if err != nil {
		return false, nil, err
	}
	if err := paths.EnsureDir(base); err != nil {
		return false, nil, err
	}
	dctx := &daemon.Context{
		PidFileName: filepath.Join(base, "wacodex.pid"),
		PidFilePerm: 0o644,
		LogFileName: filepath.Join(base, "wacodex.log"),
		LogFilePerm: 0o640,
		Umask:       0o027,
	}
	proc, err := dctx.Reborn()
	if err != nil {
		return false, nil, fmt.Errorf("detach: %w", err)
	}
	if proc != nil {
		fmt.Printf("wacodex running in the background (pid %d), logs in %s\n", proc.Pid, dctx.LogFileName)
		return false, nil, nil
	}
	return true, func() { _ = dctx.Release() }, nil
}

func serve(cfg *config.Config) error {
	lockPath := cfg.LockPath
	if lockPath == "" {
		lockPath = lock.DefaultPath(cfg.AuthorizedNumber)
	}
	lk, err := lock.Acquire(lockPath, cfg.AuthorizedNumber)
	if err != nil {
		return err
	}
	defer func() { _ = lk.Release() }()

	fileStore, err := state.NewFileStore(cfg.StateDir)
	if err != nil {
		return err
	}

	dbPath, err := whatsapp.DefaultDBPath()
	if err != nil {
		return err
	}
	if err := paths.EnsureDir(filepath.Dir(dbPath)); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	devices, err := whatsapp.OpenStore(ctx, dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = devices.Close() }()

	device, err := devices.Device(ctx)
	if err != nil {
		return err
	}

	reg := dedup.New(dedup.DefaultTTL)
	sess := whatsapp.NewSession(whatsapp.SessionConfig{
		AuthorizedNumber: cfg.AuthorizedNumber,
		ReconnectDelay:   cfg.ReconnectDelayDuration(),
		QROutput:         os.Stdout,
	}, device, reg, nil)

	gw, err := gateway.New(gateway.GatewayConfig{
		DefaultWorkdir: cfg.Workdir,
		QueueMax:       cfg.QueueMax,
		JobTimeout:     cfg.JobTimeout(),
		ReplyMaxChars:  cfg.ReplyMaxChars,
		ChunkSize:      cfg.ChunkSize,
		CommandPrefix:  cfg.CommandPrefix,
	}, gateway.Deps{
		Store: state.NewDurable(fileStore),
		Runner: runner.NewRunner(runner.RunnerConfig{
			Binary:     cfg.CodexBin,
			ExtraArgs:  cfg.CodexArgs,
			Timeout:    cfg.JobTimeout(),
			PCTerminal: cfg.PCTerminal,
		}),
		Sender:     sess,
		Dedup:      reg,
		Connection: sess.State,
	})
	if err != nil {
		return err
	}
	sess.SetHandler(gw.HandleMessage)

	if err := gw.Start(ctx); err != nil {
		return err
	}

	L_info("wacodex %s starting", version)
	L_info("gateway: ready", "workdir", gw.Workdir(), "authorized", cfg.AuthorizedNumber, "lock", lk.Path())
	if err := sess.Start(); err != nil {
		if errors.Is(err, whatsapp.ErrStopped) {
			return err
		}
		L_warn("whatsapp: first connection attempt failed, retrying", "error", err)
	}

	select {
	case <-ctx.Done():
		L_info("wacodex: signal received, shutting down")
	case <-sess.Done():
		L_warn("wacodex: whatsapp session ended", "state", sess.State())
	}

	SetShuttingDown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		L_debug("gateway: shutdown incomplete", "error", err)
	}
	sess.Stop()
	return nil
}
