// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"context"
	"os"
	"os/user"
)

type Env struct {
	SDKRoot  string // resolved SDK root, empty until a toolchain is applied
	Emulator string // <sdk>/emulator/emulator
	ADB      string // <sdk>/platform-tools/adb
	// CorrelationID is used to tie logs to a specific workflow/activity.
	CorrelationID string
	// Context parents OpenTelemetry spans and cancels captured child processes.
	Context context.Context
}

func Detect() Env {
	correlationID := getenv("EMUHUB_CORRELATION_ID", "")
	return Env{
		Emulator:      "emulator",
		ADB:           "adb",
		CorrelationID: correlationID,
		Context:       context.Background(),
	}
}

// WithToolchain points the environment at the executables of a resolved SDK.
func (env Env) WithToolchain(tc Toolchain) Env {
	env.SDKRoot = tc.SDKRoot
	env.Emulator = tc.Emulator
	env.ADB = tc.ADB
	return env
}

func (env Env) WithContext(ctx context.Context) Env {
	if ctx == nil {
		ctx = context.Background()
	}
	env.Context = ctx
	return env
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return h
	}
	if usr, err := user.Current(); err == nil && usr != nil {
		return usr.HomeDir
	}
	return ""
}
