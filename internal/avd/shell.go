// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"bytes"
	"errors"
	"io"
	"os/exec"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Result is the captured outcome of one child process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes bin with args and waits for it, capturing both output streams.
// A non-zero exit is returned as *CommandFailedError; a process that cannot
// be spawned as *ProcessLaunchError. No timeout is applied here: the only
// cancellation is env.Context.
func Run(env Env, bin string, args ...string) (Result, error) {
	ctx, span := startSpan(
		env,
		"avd.Run",
		attribute.String("command", filepath.Base(bin)),
		attribute.String("args", strings.Join(args, " ")),
	)
	defer span.End()

	if err := ctx.Err(); err != nil {
		recordSpanError(span, err)
		return Result{}, err
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.MultiWriter(&stderr, newCommandLogWriter(env, filepath.Base(bin), args))

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		span.SetAttributes(attribute.Int("exit_code", 0))
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		span.SetAttributes(attribute.Int("exit_code", res.ExitCode))
		failed := &CommandFailedError{
			Command:  bin,
			Args:     args,
			ExitCode: res.ExitCode,
			Stderr:   strings.TrimSpace(res.Stderr),
		}
		recordSpanError(span, failed)
		return res, failed
	}

	launchErr := &ProcessLaunchError{Command: bin, Err: err}
	recordSpanError(span, launchErr)
	return res, launchErr
}
