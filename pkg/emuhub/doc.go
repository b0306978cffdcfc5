// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

/*
Package emuhub provides a Go library for watching and controlling the Android
emulators and devices of a local Android SDK.

# Overview

The library drives the SDK's own tools: `emulator -list-avds` for the
configured virtual devices, `adb devices` for everything attached, and
`adb -s <serial> emu kill` to stop an emulator. Each refresh produces an
immutable Snapshot that subscribers receive as it is published.

# Quick Start

	import "github.com/forkbombeu/emuhub/pkg/emuhub"

	func main() {
		mgr := emuhub.New()

		snap, err := mgr.Refresh()
		if err != nil {
			log.Fatal(emuhub.Describe(err))
		}
		for _, a := range snap.AVDs {
			fmt.Println(a.Name)
		}

		serial, err := mgr.Start(emuhub.StartOptions{Name: "Pixel_8_API_35", Wait: true})
		if err != nil {
			log.Fatal(err)
		}
		mgr.Stop(serial)
	}

# Environment Configuration

The SDK is located from, in order:
- Environment.SDKPath
- ANDROID_SDK_ROOT
- ANDROID_HOME
- the platform default (~/Android/Sdk, ~/Library/Android/sdk, %LOCALAPPDATA%\Android\Sdk)

Both emulator and adb must exist under the chosen root. EMUHUB_CORRELATION_ID
sets the correlation ID carried by logs and spans.

# Devices

Serials starting with "emulator-" are emulators; everything else is a physical
device. Stop refuses physical devices.

# Thread Safety

Manager methods may be called from multiple goroutines. Snapshots returned by
Snapshot and Subscribe are copies and may be retained freely.

# License

AGPL-3.0-only

Copyright (C) 2025 Forkbomb B.V.
*/
package emuhub
