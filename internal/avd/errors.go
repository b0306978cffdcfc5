// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/containerd/errdefs"
)

// SDKNotFoundError means no candidate directory held both required executables.
type SDKNotFoundError struct {
	Tried []string
}

func (e *SDKNotFoundError) Error() string {
	return "Android SDK not found. Set the SDK path in settings (example: ~/Library/Android/sdk)."
}

func (e *SDKNotFoundError) Unwrap() error { return errdefs.ErrNotFound }

// ToolMissingError reports a required executable absent from an SDK root.
type ToolMissingError struct {
	Tool string
	Path string
}

func (e *ToolMissingError) Error() string {
	return fmt.Sprintf("could not find %s inside the Android SDK (%s). Check your SDK path.", e.Tool, e.Path)
}

func (e *ToolMissingError) Unwrap() error { return errdefs.ErrNotFound }

// ProcessLaunchError means the OS could not spawn the child process at all.
type ProcessLaunchError struct {
	Command string
	Err     error
}

func (e *ProcessLaunchError) Error() string {
	return fmt.Sprintf("could not launch %s: %v", filepath.Base(e.Command), e.Err)
}

func (e *ProcessLaunchError) Unwrap() []error {
	return []error{e.Err, errdefs.ErrUnavailable}
}

// CommandFailedError is returned when a child process ran and exited non-zero.
type CommandFailedError struct {
	Command  string
	Args     []string
	ExitCode int
	Stderr   string // trimmed
}

func (e *CommandFailedError) Error() string {
	msg := fmt.Sprintf("%s failed (exit %d)", commandLine(e.Command, e.Args), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandFailedError) Unwrap() error { return errdefs.ErrFailedPrecondition }

func commandLine(command string, args []string) string {
	parts := append([]string{filepath.Base(command)}, args...)
	return strings.Join(parts, " ")
}

// Describe turns an error into the single line shown to the user. Typed
// errors from this package are reported without the wrapping context added
// on the way up.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var sdkErr *SDKNotFoundError
	if errors.As(err, &sdkErr) {
		return sdkErr.Error()
	}
	var toolErr *ToolMissingError
	if errors.As(err, &toolErr) {
		return toolErr.Error()
	}
	var failed *CommandFailedError
	if errors.As(err, &failed) {
		return failed.Error()
	}
	var launchErr *ProcessLaunchError
	if errors.As(err, &launchErr) {
		return launchErr.Error()
	}
	return err.Error()
}
