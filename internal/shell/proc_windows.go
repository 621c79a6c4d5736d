//go:build windows

package shell

import "os/exec"

// timeout.exe on Windows waits for a keypress; it is not a command wrapper.
const supportsTimeoutUtility = false

func defaultShell() (string, string) {
	return "cmd", "/C"
}

func configureProcess(cmd *exec.Cmd) {}

func killProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
