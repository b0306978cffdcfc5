// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package emuhub

import (
	"context"
	"net/http"
	"time"

	"github.com/forkbombeu/emuhub/internal/avd"
	"github.com/forkbombeu/emuhub/internal/config"
	"github.com/forkbombeu/emuhub/internal/hub"
	"github.com/forkbombeu/emuhub/internal/state"
	"github.com/forkbombeu/emuhub/internal/update"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Device is one row of `adb devices`.
	Device = avd.Device
	// AVD is a configured Android Virtual Device.
	AVD = avd.AVD
	// Toolchain is a resolved SDK: its root plus the emulator and adb paths.
	Toolchain = avd.Toolchain
	// Snapshot is the result of the latest refresh.
	Snapshot = state.Snapshot
	// UpdateResult reports whether a newer release exists.
	UpdateResult = update.Result
)

const defaultBootTimeout = 3 * time.Minute

// Manager provides high-level emulator operations.
type Manager struct {
	env     avd.Env
	hub     *hub.Hub
	updates *update.Checker
}

// Environment configures a Manager. Zero values fall back to defaults.
type Environment struct {
	SDKPath           string          // Preferred SDK root (empty = ANDROID_SDK_ROOT, ANDROID_HOME, default)
	EmulatorExtraArgs string          // Whitespace-separated args appended to every launch
	UpdateURL         string          // Release feed (default: GitHub latest release)
	HTTPClient        *http.Client    // Client for update checks (optional)
	CorrelationID     string          // Correlation ID for log enrichment
	Context           context.Context // Context for tracing
}

// StartOptions contains options for starting an emulator.
type StartOptions struct {
	Name        string        // AVD name (required)
	Wait        bool          // Wait for a new emulator serial and for boot to complete
	BootTimeout time.Duration // Used with Wait (default: 3m)
}

// New creates a Manager with defaults and auto-detected SDK.
func New() *Manager {
	return NewWithEnv(Environment{})
}

// NewWithCorrelationID creates a Manager whose logs and spans carry correlationID.
func NewWithCorrelationID(correlationID string) *Manager {
	return NewWithContextAndCorrelationID(context.Background(), correlationID)
}

// NewWithContext creates a Manager with a custom context for tracing.
func NewWithContext(ctx context.Context) *Manager {
	return NewWithContextAndCorrelationID(ctx, "")
}

func NewWithContextAndCorrelationID(ctx context.Context, correlationID string) *Manager {
	return NewWithEnv(Environment{Context: ctx, CorrelationID: correlationID})
}

// NewWithEnv creates a Manager with explicit configuration.
func NewWithEnv(e Environment) *Manager {
	env := avd.Detect()
	if e.Context != nil {
		env.Context = e.Context
	}
	if e.CorrelationID != "" {
		env.CorrelationID = e.CorrelationID
	}
	settings := config.Defaults()
	settings.SDKPath = e.SDKPath
	if e.EmulatorExtraArgs != "" {
		settings.EmulatorExtraArgs = e.EmulatorExtraArgs
	}
	if e.UpdateURL != "" {
		settings.UpdateURL = e.UpdateURL
	}
	return &Manager{
		env:     env,
		hub:     hub.New(env, hub.StaticSettings(settings), &state.Store{}),
		updates: update.NewChecker(settings.UpdateURL, e.HTTPClient),
	}
}

func (m *Manager) startSpan(name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return avd.StartSpan(m.env, name, attrs...)
}

func (m *Manager) ctx() context.Context {
	if m.env.Context != nil {
		return m.env.Context
	}
	return context.Background()
}

func (m *Manager) toolEnv(ctx context.Context) (avd.Env, error) {
	tc, err := m.hub.Toolchain()
	if err != nil {
		return avd.Env{}, err
	}
	return m.env.WithContext(ctx).WithToolchain(tc), nil
}

// Toolchain resolves the Android SDK.
func (m *Manager) Toolchain() (Toolchain, error) {
	return m.hub.Toolchain()
}

// ListDevices returns the devices adb sees, emulators and physical alike.
func (m *Manager) ListDevices() ([]Device, error) {
	ctx, span := m.startSpan("emuhub.ListDevices")
	defer span.End()
	env, err := m.toolEnv(ctx)
	if err != nil {
		avd.RecordSpanError(span, err)
		return nil, err
	}
	return avd.ListDevices(env)
}

// ListAVDs returns the configured AVD names, sorted.
func (m *Manager) ListAVDs() ([]string, error) {
	ctx, span := m.startSpan("emuhub.ListAVDs")
	defer span.End()
	env, err := m.toolEnv(ctx)
	if err != nil {
		avd.RecordSpanError(span, err)
		return nil, err
	}
	return avd.ListAVDs(env)
}

// Refresh lists AVDs and devices once and returns the published snapshot.
func (m *Manager) Refresh() (Snapshot, error) {
	return m.hub.Refresh(m.ctx())
}

// Snapshot returns the latest published snapshot without refreshing.
func (m *Manager) Snapshot() Snapshot {
	return m.hub.Store().Snapshot()
}

// Subscribe delivers every new snapshot; call the returned func to stop.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	return m.hub.Store().Subscribe()
}

// StartPolling refreshes on the configured interval until the returned stop
// func is called or ctx is done.
func (m *Manager) StartPolling(ctx context.Context) (stop func()) {
	p := hub.NewPoller(m.hub)
	p.Start(ctx)
	return func() {
		p.Stop()
		p.Wait()
	}
}

// Start launches an emulator. With Wait it returns the new serial once
// Android reports boot completed; otherwise the serial is empty.
func (m *Manager) Start(opts StartOptions) (string, error) {
	ctx, span := m.startSpan("emuhub.Start", attribute.String("avd_name", opts.Name), attribute.Bool("wait", opts.Wait))
	defer span.End()

	var before []Device
	if opts.Wait {
		env, err := m.toolEnv(ctx)
		if err != nil {
			avd.RecordSpanError(span, err)
			return "", err
		}
		if before, err = avd.ListDevices(env); err != nil {
			avd.RecordSpanError(span, err)
			return "", err
		}
	}
	if err := m.hub.StartAVD(ctx, opts.Name); err != nil {
		return "", err
	}
	if !opts.Wait {
		return "", nil
	}

	timeout := opts.BootTimeout
	if timeout == 0 {
		timeout = defaultBootTimeout
	}
	deadline := time.Now().Add(timeout)
	dev, err := m.hub.AwaitEmulator(ctx, before, timeout)
	if err != nil {
		avd.RecordSpanError(span, err)
		return "", err
	}
	span.SetAttributes(attribute.String("serial", dev.Serial))
	if err := m.WaitForBoot(dev.Serial, time.Until(deadline)); err != nil {
		return dev.Serial, err
	}
	return dev.Serial, nil
}

// Stop stops the emulator with the given serial. Physical devices are refused.
func (m *Manager) Stop(serial string) error {
	return m.hub.StopDevice(m.ctx(), serial)
}

// StopByName stops the running emulator for the AVD name and returns its serial.
func (m *Manager) StopByName(name string) (string, error) {
	return m.hub.StopAVD(m.ctx(), name)
}

// WaitForBoot waits for an emulator to fully boot Android.
func (m *Manager) WaitForBoot(serial string, timeout time.Duration) error {
	env, err := m.toolEnv(m.ctx())
	if err != nil {
		return err
	}
	return avd.WaitForBoot(env, serial, timeout)
}

// CheckForUpdate compares currentVersion with the latest published release.
func (m *Manager) CheckForUpdate(currentVersion string) (UpdateResult, error) {
	return m.updates.Check(m.ctx(), currentVersion)
}

// Describe returns the one-line, user-facing text for an error returned by
// the Manager.
func Describe(err error) string {
	return avd.Describe(err)
}
