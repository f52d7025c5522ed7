//go:build windows

package runner

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

const createNewProcessGroup = 0x00000200

func setProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

// terminateTree kills pid and its children with taskkill.
func terminateTree(pid int) bool {
	if pid <= 0 {
		return false
	}
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid))
	return kill.Run() == nil
}

func exitSignal(*os.ProcessState) string {
	return ""
}
