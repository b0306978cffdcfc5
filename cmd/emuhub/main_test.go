// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package main

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/forkbombeu/emuhub/internal/avd"
	"github.com/forkbombeu/emuhub/internal/telemetry"
)

func TestExecuteFlushesTelemetryWhenCommandFails(t *testing.T) {
	boom := errors.New("adb devices failed")
	flushed := 0
	var shutdown telemetry.ShutdownFunc = func(context.Context) error { return nil }

	root := &cobra.Command{
		Use:           "emuhub",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			shutdown = func(ctx context.Context) error {
				flushed++
				assert.NoError(t, ctx.Err())
				return nil
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error { return boom },
	}
	root.SetArgs([]string{})

	err := execute(context.Background(), core.Env{}, root, func() telemetry.ShutdownFunc { return shutdown })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, flushed)
}

func TestExecuteIgnoresFlushFailure(t *testing.T) {
	root := &cobra.Command{
		Use:  "emuhub",
		RunE: func(cmd *cobra.Command, args []string) error { return nil },
	}
	root.SetArgs([]string{})

	flush := func() telemetry.ShutdownFunc {
		return func(context.Context) error { return errors.New("collector unreachable") }
	}
	assert.NoError(t, execute(context.Background(), core.Env{}, root, flush))
}
