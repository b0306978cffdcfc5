// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

//go:build unix

package avd

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own session so it survives the caller and
// does not receive the caller's terminal signals.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
