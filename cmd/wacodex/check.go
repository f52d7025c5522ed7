package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/roelfdiedericks/wacodex/internal/channels/whatsapp"
	"github.com/roelfdiedericks/wacodex/internal/config"
	"github.com/roelfdiedericks/wacodex/internal/lock"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Padding(0, 1)

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(18)

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1)
)

type CheckCmd struct{}

func (c *CheckCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	fmt.Println(summary(cfg))
	return nil
}

// summary renders the effective configuration plus codex and pairing
// status without connecting anywhere.
func summary(cfg *config.Config) string {
	var rows []string
	row := func(key, value string) {
		rows = append(rows, keyStyle.Render(key)+value)
	}

	source := cfg.Source
	if source == "" {
		source = "(defaults and environment)"
	}
	row("config", source)
	row("authorized", cfg.AuthorizedNumber)

	if path, err := exec.LookPath(cfg.CodexBin); err != nil {
		row("codex", warnStyle.Render(cfg.CodexBin+" not found in PATH"))
	} else {
		row("codex", okStyle.Render(path))
	}
	if len(cfg.CodexArgs) > 0 {
		row("codex args", strings.Join(cfg.CodexArgs, " "))
	}

	row("workdir", cfg.Workdir)
	row("state dir", cfg.StateDir)
	row("job timeout", cfg.JobTimeout().String())
	row("queue max", fmt.Sprint(cfg.QueueMax))
	row("reply max", fmt.Sprintf("%d chars, %d per message", cfg.ReplyMaxChars, cfg.ChunkSize))
	row("command prefix", cfg.CommandPrefix)
	row("reconnect delay", cfg.ReconnectDelayDuration().String())

	lockPath := cfg.LockPath
	if lockPath == "" {
		lockPath = lock.DefaultPath(cfg.AuthorizedNumber)
	}
	if _, err := os.Stat(lockPath); err == nil {
		row("lock", warnStyle.Render(lockPath+" (held)"))
	} else {
		row("lock", lockPath)
	}

	row("whatsapp", pairingStatus())

	body := lipgloss.JoinVertical(lipgloss.Left, rows...)
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render("wacodex "+version), panelStyle.Render(body))
}

func pairingStatus() string {
	dbPath, err := whatsapp.DefaultDBPath()
	if err != nil {
		return warnStyle.Render(err.Error())
	}
	if !whatsapp.StoreExists(dbPath) {
		return warnStyle.Render("not paired, a QR code is shown on first run")
	}
	devices, err := whatsapp.OpenStore(context.Background(), dbPath)
	if err != nil {
		return warnStyle.Render(err.Error())
	}
	defer devices.Close()

	jids, err := devices.Paired(context.Background())
	if err != nil {
		return warnStyle.Render(err.Error())
	}
	if len(jids) == 0 {
		return warnStyle.Render("not paired, a QR code is shown on first run")
	}
	return okStyle.Render("paired as " + strings.Join(jids, ", "))
}
