// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Toolchain holds the absolute paths of the two SDK executables emuhub drives.
type Toolchain struct {
	SDKRoot  string `json:"sdk_root"`
	Emulator string `json:"emulator"`
	ADB      string `json:"adb"`
}

type sdkCandidate struct {
	source string
	path   string
}

// ResolveToolchain returns the first SDK root holding both emulator and adb.
// Candidates, in order: preferred, $ANDROID_SDK_ROOT, $ANDROID_HOME, the
// per-OS default install location. A root missing either tool is rejected.
func ResolveToolchain(preferred string) (Toolchain, error) {
	var tried []string
	for _, c := range sdkCandidates(preferred) {
		tc, err := toolchainAt(c.path)
		if err == nil {
			return tc, nil
		}
		tried = append(tried, c.path)
		logDebug(Env{}, "sdk candidate rejected", "source", c.source, "path", c.path, "error", err.Error())
	}
	return Toolchain{}, &SDKNotFoundError{Tried: tried}
}

func sdkCandidates(preferred string) []sdkCandidate {
	raw := []sdkCandidate{
		{source: "preferred", path: preferred},
		{source: "ANDROID_SDK_ROOT", path: os.Getenv("ANDROID_SDK_ROOT")},
		{source: "ANDROID_HOME", path: os.Getenv("ANDROID_HOME")},
		{source: "default", path: DefaultSDKPath()},
	}
	out := make([]sdkCandidate, 0, len(raw))
	for _, c := range raw {
		c.path = expandPath(c.path)
		if c.path == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// DefaultSDKPath is where Android Studio installs the SDK on this OS.
func DefaultSDKPath() string {
	home := homeDir()
	switch runtime.GOOS {
	case "darwin":
		if home == "" {
			return ""
		}
		return filepath.Join(home, "Library", "Android", "sdk")
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "Android", "Sdk")
		}
		if home == "" {
			return ""
		}
		return filepath.Join(home, "AppData", "Local", "Android", "Sdk")
	default:
		if home == "" {
			return ""
		}
		return filepath.Join(home, "Android", "Sdk")
	}
}

func toolchainAt(root string) (Toolchain, error) {
	tc := Toolchain{
		SDKRoot:  root,
		Emulator: filepath.Join(root, "emulator", executableName("emulator")),
		ADB:      filepath.Join(root, "platform-tools", executableName("adb")),
	}
	return tc, tc.Check()
}

// Check verifies that both executables are still present on disk.
func (tc Toolchain) Check() error {
	if !isFile(tc.Emulator) {
		return &ToolMissingError{Tool: "emulator", Path: tc.Emulator}
	}
	if !isFile(tc.ADB) {
		return &ToolMissingError{Tool: "adb", Path: tc.ADB}
	}
	return nil
}

func executableName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func isFile(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

func expandPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") || strings.HasPrefix(trimmed, `~\`) {
		home := homeDir()
		if home == "" {
			return filepath.Clean(trimmed)
		}
		trimmed = filepath.Join(home, trimmed[1:])
	}
	return filepath.Clean(trimmed)
}
