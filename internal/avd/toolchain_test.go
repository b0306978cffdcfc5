// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/forkbombeu/emuhub/internal/sdktest"
)

// isolateSDKEnv keeps the developer's real SDK out of resolution.
func isolateSDKEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("LOCALAPPDATA", "")
	t.Setenv("ANDROID_SDK_ROOT", "")
	t.Setenv("ANDROID_HOME", "")
	return home
}

func TestResolveToolchainPreferred(t *testing.T) {
	isolateSDKEnv(t)
	sdk := sdktest.New(t)

	tc, err := ResolveToolchain("  " + sdk.Root + "  ")
	if err != nil {
		t.Fatalf("ResolveToolchain: %v", err)
	}
	if tc.SDKRoot != sdk.Root || tc.ADB != sdk.ADB || tc.Emulator != sdk.Emulator {
		t.Fatalf("unexpected toolchain %+v", tc)
	}
}

func TestResolveToolchainFallsBackToEnv(t *testing.T) {
	isolateSDKEnv(t)
	sdk := sdktest.New(t)
	t.Setenv("ANDROID_HOME", sdk.Root)

	tc, err := ResolveToolchain(filepath.Join(t.TempDir(), "not-an-sdk"))
	if err != nil {
		t.Fatalf("ResolveToolchain: %v", err)
	}
	if tc.SDKRoot != sdk.Root {
		t.Fatalf("expected ANDROID_HOME root, got %q", tc.SDKRoot)
	}
}

func TestResolveToolchainExpandsHome(t *testing.T) {
	home := isolateSDKEnv(t)
	sdk := sdktest.New(t)
	link := filepath.Join(home, "sdk")
	if err := os.Symlink(sdk.Root, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	tc, err := ResolveToolchain("~/sdk")
	if err != nil {
		t.Fatalf("ResolveToolchain: %v", err)
	}
	if tc.SDKRoot != link {
		t.Fatalf("expected %q, got %q", link, tc.SDKRoot)
	}
}

func TestResolveToolchainRequiresBothTools(t *testing.T) {
	isolateSDKEnv(t)
	sdk := sdktest.New(t)
	if err := os.Remove(sdk.ADB); err != nil {
		t.Fatalf("remove adb: %v", err)
	}
	if err := os.Mkdir(sdk.ADB, 0o755); err != nil {
		t.Fatalf("mkdir adb: %v", err)
	}

	_, err := ResolveToolchain(sdk.Root)
	var notFound *SDKNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected SDKNotFoundError, got %v", err)
	}
	if !errdefs.IsNotFound(err) {
		t.Fatalf("expected not-found class, got %v", err)
	}
	if len(notFound.Tried) == 0 || notFound.Tried[0] != sdk.Root {
		t.Fatalf("expected preferred root first in tried list, got %v", notFound.Tried)
	}

	tc := Toolchain{SDKRoot: sdk.Root, Emulator: sdk.Emulator, ADB: sdk.ADB}
	var missing *ToolMissingError
	if !errors.As(tc.Check(), &missing) || missing.Tool != "adb" {
		t.Fatalf("expected adb missing, got %v", tc.Check())
	}
}

func TestResolveToolchainNothingConfigured(t *testing.T) {
	isolateSDKEnv(t)

	_, err := ResolveToolchain("")
	var notFound *SDKNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected SDKNotFoundError, got %v", err)
	}
	if len(notFound.Tried) != 1 {
		t.Fatalf("expected only the default path to be tried, got %v", notFound.Tried)
	}
}

func TestExpandPath(t *testing.T) {
	home := isolateSDKEnv(t)
	cases := map[string]string{
		"":           "",
		"   ":        "",
		"~":          home,
		"~/a/b/":     filepath.Join(home, "a", "b"),
		"/opt//sdk/": "/opt/sdk",
		"~other":     "~other",
	}
	for in, want := range cases {
		if got := expandPath(in); got != want {
			t.Fatalf("expandPath(%q) = %q, want %q", in, got, want)
		}
	}
}
