// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package hub runs refresh cycles and the start/stop actions that trigger
// them, publishing every outcome to a state.Store.
package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/containerd/errdefs"
	"github.com/forkbombeu/emuhub/internal/avd"
	"github.com/forkbombeu/emuhub/internal/config"
	"github.com/forkbombeu/emuhub/internal/state"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultSettleDelay = 800 * time.Millisecond
	awaitPollInterval  = 500 * time.Millisecond
)

// ErrPhysicalDevice is returned when asked to stop a device that is not an
// emulator. Only emulators are ever stopped.
var ErrPhysicalDevice = fmt.Errorf("only emulators can be stopped: %w", errdefs.ErrInvalidArgument)

// SettingsSource yields the current settings. *config.Store satisfies it.
type SettingsSource interface {
	Settings() config.Settings
}

// StaticSettings is a SettingsSource that never changes.
type StaticSettings config.Settings

func (s StaticSettings) Settings() config.Settings { return config.Settings(s) }

type Hub struct {
	env         avd.Env
	settings    SettingsSource
	store       *state.Store
	settleDelay time.Duration
}

type Option func(*Hub)

// WithSettleDelay sets how long StartAVD waits before its follow-up refresh.
func WithSettleDelay(d time.Duration) Option {
	return func(h *Hub) { h.settleDelay = d }
}

func New(env avd.Env, settings SettingsSource, store *state.Store, opts ...Option) *Hub {
	if store == nil {
		store = &state.Store{}
	}
	h := &Hub{
		env:         env,
		settings:    settings,
		store:       store,
		settleDelay: defaultSettleDelay,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Store() *state.Store { return h.store }

func (h *Hub) Settings() config.Settings { return h.settings.Settings() }

// Toolchain resolves the SDK for the current settings. It is not cached:
// the SDK path may change between calls.
func (h *Hub) Toolchain() (avd.Toolchain, error) {
	return avd.ResolveToolchain(h.settings.Settings().SDKPath)
}

func (h *Hub) envFor(ctx context.Context) (avd.Env, error) {
	tc, err := h.Toolchain()
	if err != nil {
		return h.env.WithContext(ctx), err
	}
	return h.env.WithContext(ctx).WithToolchain(tc), nil
}

// Refresh runs one cycle: resolve the SDK, list AVDs, list devices, publish.
// Any failure publishes only the error and leaves both lists as they were.
func (h *Hub) Refresh(ctx context.Context) (state.Snapshot, error) {
	ctx, span := avd.StartSpan(h.env.WithContext(ctx), "hub.Refresh")
	defer span.End()

	h.store.SetRefreshing(true)
	avds, devices, err := h.collect(ctx)
	if err != nil {
		avd.RecordSpanError(span, err)
		avd.LogWarn(h.env.WithContext(ctx), "refresh failed", "error", avd.Describe(err))
		h.store.Publish(nil, nil, err)
		return h.store.Snapshot(), err
	}
	span.SetAttributes(attribute.Int("avds", len(avds)), attribute.Int("devices", len(devices)))
	h.store.Publish(devices, avds, nil)
	return h.store.Snapshot(), nil
}

func (h *Hub) collect(ctx context.Context) ([]avd.AVD, []avd.Device, error) {
	env, err := h.envFor(ctx)
	if err != nil {
		return nil, nil, err
	}
	names, err := avd.ListAVDs(env)
	if err != nil {
		return nil, nil, err
	}
	devices, err := avd.ListDevices(env)
	if err != nil {
		return nil, nil, err
	}
	avds := make([]avd.AVD, len(names))
	for i, name := range names {
		avds[i] = avd.AVD{Name: name}
	}
	return avds, devices, nil
}

// StartAVD launches name with the configured extra arguments, then refreshes
// once after a short settle delay. The refresh outcome lands in the store.
func (h *Hub) StartAVD(ctx context.Context, name string) error {
	ctx, span := avd.StartSpan(h.env.WithContext(ctx), "hub.StartAVD", attribute.String("avd", name))
	defer span.End()

	env, err := h.envFor(ctx)
	if err != nil {
		return h.fail(ctx, span, err)
	}
	if err := avd.StartEmulator(env, name, h.settings.Settings().ExtraArgs()...); err != nil {
		return h.fail(ctx, span, fmt.Errorf("start %s: %w", name, err))
	}

	timer := time.NewTimer(h.settleDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return nil
	case <-timer.C:
	}
	_, _ = h.Refresh(ctx)
	return nil
}

// StopDevice stops the emulator behind serial and refreshes once.
func (h *Hub) StopDevice(ctx context.Context, serial string) error {
	ctx, span := avd.StartSpan(h.env.WithContext(ctx), "hub.StopDevice", attribute.String("serial", serial))
	defer span.End()

	if avd.Classify(serial) != avd.KindEmulator {
		return h.fail(ctx, span, fmt.Errorf("stop %s: %w", serial, ErrPhysicalDevice))
	}
	env, err := h.envFor(ctx)
	if err != nil {
		return h.fail(ctx, span, err)
	}
	if err := avd.StopEmulator(env, serial); err != nil {
		return h.fail(ctx, span, err)
	}
	_, _ = h.Refresh(ctx)
	return nil
}

// StopAVD stops the running emulator whose console reports name.
func (h *Hub) StopAVD(ctx context.Context, name string) (string, error) {
	ctx, span := avd.StartSpan(h.env.WithContext(ctx), "hub.StopAVD", attribute.String("avd", name))
	defer span.End()

	serial, err := h.SerialForAVD(ctx, name)
	if err != nil {
		return "", h.fail(ctx, span, err)
	}
	span.SetAttributes(attribute.String("serial", serial))
	return serial, h.StopDevice(ctx, serial)
}

// SerialForAVD finds the serial of the running emulator for name.
func (h *Hub) SerialForAVD(ctx context.Context, name string) (string, error) {
	env, err := h.envFor(ctx)
	if err != nil {
		return "", err
	}
	devices, err := avd.ListDevices(env)
	if err != nil {
		return "", err
	}
	for _, d := range devices {
		if !d.IsEmulator() {
			continue
		}
		running, err := avd.AVDNameForSerial(env, d.Serial)
		if err != nil {
			avd.LogWarn(env, "avd name lookup failed", "serial", d.Serial, "error", avd.Describe(err))
			continue
		}
		if running == name {
			return d.Serial, nil
		}
	}
	return "", fmt.Errorf("no running emulator for AVD %q: %w", name, errdefs.ErrNotFound)
}

// AwaitEmulator polls the device list until an emulator serial not present
// in before shows up, or timeout passes.
func (h *Hub) AwaitEmulator(ctx context.Context, before []avd.Device, timeout time.Duration) (avd.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	known := make(map[string]bool, len(before))
	for _, d := range before {
		known[d.Serial] = true
	}
	env, err := h.envFor(ctx)
	if err != nil {
		return avd.Device{}, err
	}
	ticker := time.NewTicker(awaitPollInterval)
	defer ticker.Stop()
	for {
		devices, err := avd.ListDevices(env)
		if err == nil {
			for _, d := range devices {
				if d.IsEmulator() && !known[d.Serial] {
					return d, nil
				}
			}
		} else if ctx.Err() == nil {
			avd.LogWarn(env, "device poll failed", "error", avd.Describe(err))
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return avd.Device{}, fmt.Errorf("no new emulator after %s: %w", timeout, ctx.Err())
			}
			return avd.Device{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// fail records err on the span, the log and the store, then returns it.
func (h *Hub) fail(ctx context.Context, span trace.Span, err error) error {
	avd.RecordSpanError(span, err)
	avd.LogWarn(h.env.WithContext(ctx), "action failed", "error", avd.Describe(err))
	h.store.RecordError(err)
	return err
}
