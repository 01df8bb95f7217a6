//go:build !unix

package testenv

import "os/exec"

func setProcessGroup(*exec.Cmd) {}

// terminate kills outright: there is no SIGTERM to deliver here.
func terminate(cmd *exec.Cmd) error {
	return kill(cmd)
}

func kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
