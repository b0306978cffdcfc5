// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package emuhub

import (
	"context"
	"testing"

	"github.com/forkbombeu/emuhub/internal/sdktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func spanAttrs(span sdktrace.ReadOnlySpan) map[string]any {
	attrs := map[string]any{}
	for _, attr := range span.Attributes() {
		attrs[string(attr.Key)] = attr.Value.AsInterface()
	}
	return attrs
}

// The global tracer provider only delegates once, so every span assertion
// in this package lives in this one test.
func TestManagerSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	t.Run("start span carries correlation id", func(t *testing.T) {
		m := NewWithCorrelationID("corr-123")
		_, span := m.startSpan("emuhub.Start", attribute.String("avd_name", "Pixel_8"), attribute.Bool("wait", true))
		span.End()

		var found bool
		for _, s := range recorder.Ended() {
			if s.Name() != "emuhub.Start" {
				continue
			}
			found = true
			attrs := spanAttrs(s)
			assert.Equal(t, "corr-123", attrs["correlation_id"])
			assert.Equal(t, "Pixel_8", attrs["avd_name"])
			assert.Equal(t, true, attrs["wait"])
		}
		require.True(t, found, "emuhub.Start span not recorded")
	})

	t.Run("listing nests tool runs under the manager span", func(t *testing.T) {
		sdk := sdktest.New(t)
		sdk.SetDevices("emulator-5554\tdevice")
		m := NewWithEnv(Environment{SDKPath: sdk.Root, CorrelationID: "corr-456"})

		_, err := m.ListDevices()
		require.NoError(t, err)

		byName := map[string]sdktrace.ReadOnlySpan{}
		for _, s := range recorder.Ended() {
			if spanAttrs(s)["correlation_id"] == "corr-456" {
				byName[s.Name()] = s
			}
		}
		parent, ok := byName["emuhub.ListDevices"]
		require.True(t, ok, "emuhub.ListDevices span not recorded")
		child, ok := byName["avd.ListDevices"]
		require.True(t, ok, "avd.ListDevices span not recorded")
		assert.Equal(t, parent.SpanContext().SpanID(), child.Parent().SpanID())
		assert.Equal(t, int64(1), spanAttrs(child)["devices"])
	})
}
