// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package sdktest builds a throwaway Android SDK whose emulator and adb are
// shell scripts driven by files in a state directory. Tests flip the files to
// script what the tools print.
package sdktest

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"
)

// Failure switches understood by the fake tools.
const (
	FailStartServer = "start-server"
	FailDevices     = "devices"
	FailListAVDs    = "list-avds"
)

type SDK struct {
	Root     string
	Emulator string
	ADB      string
	state    string
	t        testing.TB
}

const adbScript = `#!/bin/sh
state=%STATE%
echo "$*" >> "$state/adb.log"
case "$1" in
  start-server)
    if [ -f "$state/fail-start-server" ]; then
      echo "cannot start daemon" >&2
      exit 1
    fi
    exit 0
    ;;
  devices)
    if [ -f "$state/fail-devices" ]; then
      echo "adb: cannot connect to daemon" >&2
      exit 1
    fi
    echo "List of devices attached"
    if [ -f "$state/devices.txt" ]; then cat "$state/devices.txt"; fi
    exit 0
    ;;
  -s)
    serial="$2"
    shift 2
    case "$*" in
      "emu kill")
        if grep -q "^$serial[[:space:]]" "$state/devices.txt" 2>/dev/null; then
          echo "OK: killing emulator, bye bye"
          exit 0
        fi
        echo "error: device '$serial' not found" >&2
        exit 1
        ;;
      "emu avd name")
        if [ -f "$state/name-$serial" ]; then
          cat "$state/name-$serial"
          echo "OK"
          exit 0
        fi
        echo "error: device '$serial' not found" >&2
        exit 1
        ;;
      "shell getprop sys.boot_completed")
        if [ -f "$state/booted-$serial" ]; then echo 1; else echo; fi
        exit 0
        ;;
    esac
    ;;
esac
echo "unknown command: $*" >&2
exit 2
`

const emulatorScript = `#!/bin/sh
state=%STATE%
case "$1" in
  -list-avds)
    echo "begin" >> "$state/list-avds.log"
    if [ -f "$state/delay-list-avds" ]; then sleep "$(cat "$state/delay-list-avds")"; fi
    echo "end" >> "$state/list-avds.log"
    if [ -f "$state/fail-list-avds" ]; then
      echo "emulator: ERROR: cannot read AVD directory" >&2
      exit 3
    fi
    if [ -f "$state/avds.txt" ]; then cat "$state/avds.txt"; fi
    exit 0
    ;;
  -avd)
    echo "$*" >> "$state/launch.log"
    exit 0
    ;;
esac
echo "unknown option: $1" >&2
exit 2
`

// RequireShell skips the test where the fake tools cannot run.
func RequireShell(t testing.TB) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake SDK tools are POSIX shell scripts")
	}
}

// New lays out <root>/emulator/emulator and <root>/platform-tools/adb.
func New(t testing.TB) *SDK {
	t.Helper()
	RequireShell(t)

	root := t.TempDir()
	sdk := &SDK{
		Root:     root,
		Emulator: filepath.Join(root, "emulator", "emulator"),
		ADB:      filepath.Join(root, "platform-tools", "adb"),
		state:    filepath.Join(root, "state"),
		t:        t,
	}
	if err := os.MkdirAll(sdk.state, 0o755); err != nil {
		t.Fatalf("mkdir state: %v", err)
	}
	sdk.writeTool(sdk.ADB, adbScript)
	sdk.writeTool(sdk.Emulator, emulatorScript)
	return sdk
}

func (s *SDK) writeTool(path, script string) {
	s.t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	body := strings.ReplaceAll(script, "%STATE%", "'"+s.state+"'")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		s.t.Fatalf("write %s: %v", path, err)
	}
}

// SetDevices sets the rows printed after the `adb devices` header. Each row
// is written verbatim, e.g. "emulator-5554\tdevice".
func (s *SDK) SetDevices(rows ...string) {
	s.writeState("devices.txt", rows)
}

// SetAVDs sets the lines printed by `emulator -list-avds`, in the given order.
func (s *SDK) SetAVDs(names ...string) {
	s.writeState("avds.txt", names)
}

// SetAVDName makes `adb -s serial emu avd name` answer name.
func (s *SDK) SetAVDName(serial, name string) {
	s.writeState("name-"+serial, []string{name})
}

// SetBooted makes sys.boot_completed report 1 for serial.
func (s *SDK) SetBooted(serial string) {
	s.writeState("booted-"+serial, []string{"1"})
}

// SlowListAVDs makes every `emulator -list-avds` take d before answering.
func (s *SDK) SlowListAVDs(d time.Duration) {
	s.writeState("delay-list-avds", []string{strconv.FormatFloat(d.Seconds(), 'f', 3, 64)})
}

// AVDListings returns "begin" and "end" markers of every `emulator
// -list-avds` run, in the order they happened. Overlapping runs show up as
// two "begin" lines in a row.
func (s *SDK) AVDListings() []string {
	return s.readLines("list-avds.log")
}

// Fail turns a failure switch on.
func (s *SDK) Fail(what string) {
	s.writeState("fail-"+what, []string{"1"})
}

// Recover turns a failure switch off.
func (s *SDK) Recover(what string) {
	s.t.Helper()
	if err := os.Remove(filepath.Join(s.state, "fail-"+what)); err != nil && !os.IsNotExist(err) {
		s.t.Fatalf("recover %s: %v", what, err)
	}
}

// ADBCalls returns the argument lists adb was invoked with, oldest first.
func (s *SDK) ADBCalls() []string {
	return s.readLines("adb.log")
}

// Launches returns the argument lists of every `emulator -avd` invocation.
func (s *SDK) Launches() []string {
	return s.readLines("launch.log")
}

// WaitLaunches waits until at least n launches were recorded. Launched
// emulators run detached, so their log lines land asynchronously.
func (s *SDK) WaitLaunches(n int, timeout time.Duration) []string {
	s.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		launches := s.Launches()
		if len(launches) >= n || time.Now().After(deadline) {
			return launches
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (s *SDK) writeState(name string, lines []string) {
	s.t.Helper()
	body := ""
	if len(lines) > 0 {
		body = strings.Join(lines, "\n") + "\n"
	}
	if err := os.WriteFile(filepath.Join(s.state, name), []byte(body), 0o644); err != nil {
		s.t.Fatalf("write %s: %v", name, err)
	}
}

func (s *SDK) readLines(name string) []string {
	s.t.Helper()
	data, err := os.ReadFile(filepath.Join(s.state, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		s.t.Fatalf("read %s: %v", name, err)
	}
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
