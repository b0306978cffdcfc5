// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

//go:build !unix && !windows

package avd

import "os/exec"

func detach(*exec.Cmd) {}
