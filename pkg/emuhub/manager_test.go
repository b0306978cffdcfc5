// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package emuhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/forkbombeu/emuhub/internal/sdktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *sdktest.SDK) {
	t.Helper()
	sdk := sdktest.New(t)
	m := NewWithEnv(Environment{
		SDKPath:       sdk.Root,
		CorrelationID: "manager-test",
	})
	return m, sdk
}

func TestNewWithEnvDefaults(t *testing.T) {
	m := NewWithContextAndCorrelationID(context.Background(), "abc")
	assert.Equal(t, "abc", m.env.CorrelationID)
	assert.NotNil(t, m.env.Context)
	assert.Equal(t, "-no-snapshot-load", m.hub.Settings().EmulatorExtraArgs)
}

func TestManagerToolchain(t *testing.T) {
	m, sdk := newTestManager(t)
	tc, err := m.Toolchain()
	require.NoError(t, err)
	assert.Equal(t, sdk.Root, tc.SDKRoot)
	assert.Equal(t, sdk.ADB, tc.ADB)
	assert.Equal(t, sdk.Emulator, tc.Emulator)
}

func TestManagerListing(t *testing.T) {
	m, sdk := newTestManager(t)
	sdk.SetAVDs("Tablet", "Pixel_8")
	sdk.SetDevices("emulator-5554\tdevice", "R58M12ABCDE\tdevice")

	avds, err := m.ListAVDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"Pixel_8", "Tablet"}, avds)

	devices, err := m.ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.True(t, devices[0].IsEmulator())
	assert.False(t, devices[1].IsEmulator())
}

func TestManagerRefreshAndSubscribe(t *testing.T) {
	m, sdk := newTestManager(t)
	sdk.SetAVDs("Pixel_8")
	sdk.SetDevices("emulator-5554\tdevice")

	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()

	snap, err := m.Refresh()
	require.NoError(t, err)
	assert.Len(t, snap.RunningEmulators(), 1)
	assert.Equal(t, snap, m.Snapshot())

	select {
	case got := <-updates:
		assert.Equal(t, snap.Generation, got.Generation)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestManagerStartWaitsForBoot(t *testing.T) {
	m, sdk := newTestManager(t)
	sdk.SetAVDs("Pixel_8")
	sdk.SetDevices("emulator-5554\tdevice")

	go func() {
		if len(sdk.WaitLaunches(1, 5*time.Second)) == 0 {
			return
		}
		sdk.SetDevices("emulator-5554\tdevice", "emulator-5556\tdevice")
		sdk.SetBooted("emulator-5556")
	}()

	serial, err := m.Start(StartOptions{Name: "Pixel_8", Wait: true, BootTimeout: 10 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "emulator-5556", serial)
	launches := sdk.Launches()
	require.Len(t, launches, 1)
	assert.Contains(t, launches[0], "-avd Pixel_8")
}

func TestManagerStartWithoutWait(t *testing.T) {
	m, sdk := newTestManager(t)
	serial, err := m.Start(StartOptions{Name: "Pixel_8"})
	require.NoError(t, err)
	assert.Empty(t, serial)
	assert.Len(t, sdk.WaitLaunches(1, 5*time.Second), 1)
}

func TestManagerStopRefusesPhysical(t *testing.T) {
	m, sdk := newTestManager(t)
	sdk.SetDevices("R58M12ABCDE\tdevice")

	err := m.Stop("R58M12ABCDE")
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidArgument(err))
	assert.NotEmpty(t, m.Snapshot().LastError)
}

func TestManagerStopByName(t *testing.T) {
	m, sdk := newTestManager(t)
	sdk.SetDevices("emulator-5554\tdevice", "emulator-5556\tdevice")
	sdk.SetAVDName("emulator-5554", "Other")
	sdk.SetAVDName("emulator-5556", "Pixel_8")

	serial, err := m.StopByName("Pixel_8")
	require.NoError(t, err)
	assert.Equal(t, "emulator-5556", serial)

	_, err = m.StopByName("Missing")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestManagerCheckForUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tag_name":"v1.3.0","name":"EmuHub 1.3.0","html_url":"https://example.test/r/1.3.0"}`))
	}))
	defer srv.Close()

	m := NewWithEnv(Environment{UpdateURL: srv.URL, HTTPClient: srv.Client()})
	res, err := m.CheckForUpdate("1.2.9")
	require.NoError(t, err)
	assert.True(t, res.HasUpdate)
	assert.Equal(t, "1.3.0", res.LatestVersion)
	assert.Equal(t, "https://example.test/r/1.3.0", res.ReleaseNotesURL)
}

func TestDescribe(t *testing.T) {
	m := NewWithEnv(Environment{SDKPath: t.TempDir()})
	_, err := m.Toolchain()
	require.Error(t, err)
	assert.NotEmpty(t, Describe(err))
}
