// Command wacodex bridges one WhatsApp chat to the codex CLI.
package main

import (
	"fmt"

	"github.com/alecthomas/kong"

	"github.com/roelfdiedericks/wacodex/internal/config"
	. "github.com/roelfdiedericks/wacodex/internal/logging"
)

const version = "0.1.0"

// Globals are flags shared by every command.
type Globals struct {
	Config  string `help:"Path to wacodex.toml (default ./wacodex.toml, then ~/.wacodex/wacodex.toml)." type:"path"`
	EnvFile string `help:"Dotenv file to load." default:".env" name:"env-file"`
	Debug   bool   `help:"Enable debug logging." short:"d"`
	Trace   bool   `help:"Enable trace logging."`
}

type CLI struct {
	Globals

	Run     RunCmd     `cmd:"" default:"withargs" help:"Start the gateway."`
	Check   CheckCmd   `cmd:"" help:"Validate configuration and print a summary."`
	Unlink  UnlinkCmd  `cmd:"" help:"Remove the stored WhatsApp device."`
	Version VersionCmd `cmd:"" help:"Print the version."`
}

type VersionCmd struct{}

func (VersionCmd) Run() error {
	fmt.Printf("wacodex %s\n", version)
	return nil
}

// load reads the configuration and sets the log level from it, unless a
// flag asked for more.
func (g *Globals) load() (*config.Config, error) {
	cfg, err := config.Load(config.Options{ConfigPath: g.Config, EnvFile: g.EnvFile})
	if err != nil {
		return nil, err
	}
	level, _ := ParseLevel(cfg.LogLevel)
	switch {
	case g.Trace:
		level = LevelTrace
	case g.Debug && level < LevelDebug:
		level = LevelDebug
	}
	SetLevel(level)
	return cfg, nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("wacodex"),
		kong.Description("Relay WhatsApp messages from one authorized number to the codex CLI."),
		kong.UsageOnError(),
	)

	Init(&Config{Level: LevelInfo, TimeFormat: "15:04:05"})

	if err := ctx.Run(&cli.Globals); err != nil {
		L_fatal("wacodex: %v", err)
	}
}
