//go:build !windows

package runner

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcAttrs puts the tool in its own process group so the whole tree
// can be signalled at once.
func setProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateTree sends SIGKILL to the process group led by pid.
func terminateTree(pid int) bool {
	if pid <= 0 {
		return false
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err == nil {
		return true
	}
	return syscall.Kill(pid, syscall.SIGKILL) == nil
}

func exitSignal(ps *os.ProcessState) string {
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	return ws.Signal().String()
}
