//go:build darwin

package runner

import (
	"fmt"
	"os/exec"
	"strings"
)

func terminalCommand(workdir string, argv []string) *exec.Cmd {
	line := strings.ReplaceAll(shellLine(workdir, argv), `\`, `\\`)
	line = strings.ReplaceAll(line, `"`, `\"`)
	script := fmt.Sprintf(`tell application "Terminal"
	activate
	do script "%s"
end tell`, line)
	return exec.Command("osascript", "-e", script)
}
