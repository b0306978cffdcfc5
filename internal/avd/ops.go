// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultExtraArgs are appended to every launch unless settings override them.
const DefaultExtraArgs = "-no-snapshot-load"

const bootPollInterval = 500 * time.Millisecond

// ListAVDs returns the AVD names known to the emulator binary, sorted.
func ListAVDs(env Env) ([]string, error) {
	ctx, span := startSpan(env, "avd.ListAVDs")
	defer span.End()
	env = env.WithContext(ctx)

	res, err := Run(env, env.Emulator, "-list-avds")
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("list avds: %w", err)
	}
	names := ParseAVDs(res.Stdout)
	span.SetAttributes(attribute.Int("avds", len(names)))
	return names, nil
}

// ParseAVDs keeps one name per non-blank line. Duplicates are kept.
func ParseAVDs(out string) []string {
	names := []string{}
	for _, line := range strings.Split(out, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// StartEmulator launches `emulator -avd name extraArgs...` detached from the
// caller. It returns once the process is spawned; boot progress is not
// observed. Output of the child is discarded.
func StartEmulator(env Env, name string, extraArgs ...string) error {
	_, span := startSpan(
		env,
		"avd.StartEmulator",
		attribute.String("name", name),
		attribute.String("extra_args", strings.Join(extraArgs, " ")),
	)
	defer span.End()

	if strings.TrimSpace(name) == "" {
		err := fmt.Errorf("avd name is empty: %w", errdefs.ErrInvalidArgument)
		recordSpanError(span, err)
		return err
	}

	args := append([]string{"-avd", name}, extraArgs...)
	// Not CommandContext: the emulator must outlive the request that started it.
	cmd := exec.Command(env.Emulator, args...)
	detach(cmd)
	if err := cmd.Start(); err != nil {
		launchErr := &ProcessLaunchError{Command: env.Emulator, Err: err}
		recordSpanError(span, launchErr)
		logEvent(env, "emulator start failed", "avd", name, "error", err.Error())
		return launchErr
	}
	pid := cmd.Process.Pid
	span.SetAttributes(attribute.Int("pid", pid))
	logEvent(env, "emulator started", "avd", name, "pid", pid, "args", strings.Join(args, " "))

	go func() {
		err := cmd.Wait()
		fields := []any{"avd", name, "pid", pid}
		if err != nil {
			fields = append(fields, "error", err.Error())
		}
		logDebug(env, "emulator exited", fields...)
	}()
	return nil
}

// StopEmulator asks the emulator behind serial to shut down via its console.
// Any serial is accepted; callers decide which devices may be stopped.
func StopEmulator(env Env, serial string) error {
	ctx, span := startSpan(env, "avd.StopEmulator", attribute.String("serial", serial))
	defer span.End()
	env = env.WithContext(ctx)
	logEvent(env, "emulator stop requested", "serial", serial)

	ensureADB(env)
	if _, err := Run(env, env.ADB, "-s", serial, "emu", "kill"); err != nil {
		recordSpanError(span, err)
		logEvent(env, "emulator stop failed", "serial", serial, "error", err.Error())
		return fmt.Errorf("stop %s: %w", serial, err)
	}
	logEvent(env, "emulator stopped", "serial", serial)
	return nil
}

// AVDNameForSerial asks a running emulator which AVD it is running.
func AVDNameForSerial(env Env, serial string) (string, error) {
	ctx, span := startSpan(env, "avd.AVDNameForSerial", attribute.String("serial", serial))
	defer span.End()
	env = env.WithContext(ctx)

	res, err := Run(env, env.ADB, "-s", serial, "emu", "avd", "name")
	if err != nil {
		recordSpanError(span, err)
		return "", fmt.Errorf("avd name for %s: %w", serial, err)
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "OK" {
			continue
		}
		span.SetAttributes(attribute.String("name", line))
		return line, nil
	}
	return "", nil
}

// WaitForBoot polls sys.boot_completed until the device reports 1, the
// timeout passes, or env.Context is cancelled.
func WaitForBoot(env Env, serial string, timeout time.Duration) error {
	ctx, span := startSpan(
		env,
		"avd.WaitForBoot",
		attribute.String("serial", serial),
		attribute.String("timeout", timeout.String()),
	)
	defer span.End()
	env = env.WithContext(ctx)

	deadline := time.Now().Add(timeout)
	lastError := ""
	for {
		res, err := Run(env, env.ADB, "-s", serial, "shell", "getprop", "sys.boot_completed")
		if err == nil && strings.TrimSpace(res.Stdout) == "1" {
			span.SetAttributes(attribute.Bool("boot_completed", true))
			logEvent(env, "emulator booted", "serial", serial)
			return nil
		}
		if err != nil {
			lastError = Describe(err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			recordSpanError(span, ctxErr)
			return ctxErr
		}
		if !time.Now().Before(deadline) {
			break
		}

		timer := time.NewTimer(bootPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			recordSpanError(span, ctx.Err())
			return ctx.Err()
		case <-timer.C:
		}
	}

	logEvent(env, "wait for boot timeout", "serial", serial, "timeout", timeout.String(), "adb_error", lastError)
	err := fmt.Errorf("boot timeout after %s: %w", timeout, context.DeadlineExceeded)
	if lastError != "" {
		err = fmt.Errorf("boot timeout after %s (last adb error: %s): %w", timeout, lastError, context.DeadlineExceeded)
	}
	recordSpanError(span, err)
	return err
}
