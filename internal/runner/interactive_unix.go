//go:build !darwin && !windows

package runner

import (
	"os"
	"os/exec"
)

func terminalCommand(workdir string, argv []string) *exec.Cmd {
	term := os.Getenv("TERMINAL")
	if term == "" {
		term = "x-terminal-emulator"
	}
	return exec.Command(term, "-e", "sh", "-c", shellLine(workdir, argv)) //nolint:gosec // G204: local terminal
}
