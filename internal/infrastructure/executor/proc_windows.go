//go:build windows

package executor

import (
	"os/exec"
	"path/filepath"
	"strings"
)

func configureProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func shellArgs(shell, command string) []string {
	base := strings.ToLower(filepath.Base(shell))
	if base == "cmd" || base == "cmd.exe" {
		return []string{shell, "/C", command}
	}
	return []string{shell, "-c", command}
}
