//go:build windows

package proc

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

// Windows has no SIGINT for child processes.
func interrupt(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}

func killGroup(p *os.Process) {
	_ = p.Kill()
}
