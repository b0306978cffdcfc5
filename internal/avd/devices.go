// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

type Kind string

const (
	KindEmulator Kind = "emulator"
	KindPhysical Kind = "physical"
)

const emulatorSerialPrefix = "emulator-"

const (
	StateDevice       = "device"
	StateOffline      = "offline"
	StateUnauthorized = "unauthorized"
)

// Device is one row of `adb devices`. Identity is the serial.
type Device struct {
	Serial string `json:"serial"`
	State  string `json:"state"`
}

// AVD is a named emulator configuration known to the SDK.
type AVD struct {
	Name string `json:"name"`
}

// Classify reports whether serial names a running emulator or a physical device.
func Classify(serial string) Kind {
	if strings.HasPrefix(serial, emulatorSerialPrefix) {
		return KindEmulator
	}
	return KindPhysical
}

func (d Device) Kind() Kind { return Classify(d.Serial) }

func (d Device) IsEmulator() bool { return d.Kind() == KindEmulator }

func (d Device) IsUnauthorized() bool { return d.State == StateUnauthorized }

func (d Device) IsOffline() bool { return d.State == StateOffline }

func (d Device) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Serial string `json:"serial"`
		State  string `json:"state"`
		Kind   Kind   `json:"kind"`
	}{d.Serial, d.State, d.Kind()})
}

// ListDevices returns the devices adb currently sees, in adb's order.
func ListDevices(env Env) ([]Device, error) {
	ctx, span := startSpan(env, "avd.ListDevices")
	defer span.End()
	env = env.WithContext(ctx)

	ensureADB(env)
	res, err := Run(env, env.ADB, "devices")
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("list devices: %w", err)
	}
	devices := ParseDevices(res.Stdout)
	span.SetAttributes(attribute.Int("devices", len(devices)))
	return devices, nil
}

// ParseDevices parses `adb devices` output. The first line is the "List of
// devices attached" header and is always dropped; rows with fewer than two
// fields are skipped.
func ParseDevices(out string) []Device {
	lines := strings.Split(out, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	var devices []Device
	for _, line := range lines {
		f := strings.Fields(line)
		if len(f) < 2 {
			continue
		}
		devices = append(devices, Device{Serial: f[0], State: f[1]})
	}
	return devices
}

// ensureADB starts adb server (idempotent). Failure is not fatal: `adb
// devices` starts the server on its own when it can.
func ensureADB(env Env) {
	if _, err := Run(env, env.ADB, "start-server"); err != nil {
		logDebug(env, "adb start-server failed", "error", err.Error())
	}
}
