//go:build !windows

package shell

import (
	"os/exec"
	"syscall"
)

const supportsTimeoutUtility = true

func defaultShell() (string, string) {
	return "sh", "-lc"
}

// configureProcess puts the shell in its own process group so a timeout can
// take down everything it spawned.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if pid <= 0 {
		return
	}
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid > 0 {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}
	_ = cmd.Process.Kill()
}
