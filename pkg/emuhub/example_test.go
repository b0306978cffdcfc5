// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package emuhub_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/forkbombeu/emuhub/pkg/emuhub"
)

func Example_basicUsage() {
	// Create a new manager with auto-detected SDK
	mgr := emuhub.New()

	avds, err := mgr.ListAVDs()
	if err != nil {
		log.Fatal(emuhub.Describe(err))
	}
	fmt.Printf("Found %d AVDs\n", len(avds))

	// Start the first one and wait for Android to boot
	serial, err := mgr.Start(emuhub.StartOptions{
		Name:        avds[0],
		Wait:        true,
		BootTimeout: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Started on serial: %s\n", serial)

	if err := mgr.Stop(serial); err != nil {
		log.Fatal(err)
	}
}

func Example_customEnvironment() {
	mgr := emuhub.NewWithEnv(emuhub.Environment{
		SDKPath:           "/opt/android-sdk",
		EmulatorExtraArgs: "-no-snapshot-load -no-audio",
		CorrelationID:     "job-42",
	})

	devices, err := mgr.ListDevices()
	if err != nil {
		log.Fatal(err)
	}
	for _, d := range devices {
		fmt.Printf("%s %s emulator=%v\n", d.Serial, d.State, d.IsEmulator())
	}
}

func Example_watch() {
	mgr := emuhub.New()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	updates, unsubscribe := mgr.Subscribe()
	defer unsubscribe()
	stop := mgr.StartPolling(ctx)
	defer stop()

	for {
		select {
		case snap := <-updates:
			fmt.Printf("generation %d: %d devices, %d running emulators\n",
				snap.Generation, len(snap.Devices), len(snap.RunningEmulators()))
		case <-ctx.Done():
			return
		}
	}
}

func Example_checkForUpdate() {
	mgr := emuhub.New()

	res, err := mgr.CheckForUpdate("v1.2.0")
	if err != nil {
		log.Fatal(emuhub.Describe(err))
	}
	if res.HasUpdate {
		fmt.Printf("New version %s: %s\n", res.LatestVersion, res.ReleaseNotesURL)
	}
}
