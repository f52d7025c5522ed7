//go:build windows

package runner

import "os/exec"

func terminalCommand(workdir string, argv []string) *exec.Cmd {
	args := append([]string{"/c", "start", "codex", "/D", workdir}, argv...)
	return exec.Command("cmd", args...)
}
