// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	core "github.com/forkbombeu/emuhub/internal/avd"
	"github.com/forkbombeu/emuhub/internal/config"
	"github.com/forkbombeu/emuhub/internal/hub"
	"github.com/forkbombeu/emuhub/internal/state"
	"github.com/forkbombeu/emuhub/internal/telemetry"
	"github.com/forkbombeu/emuhub/internal/update"
	"github.com/forkbombeu/emuhub/internal/ws"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// intervalOverride replaces the configured refresh interval for one run.
type intervalOverride struct {
	hub.SettingsSource
	seconds int
}

func (o intervalOverride) Settings() config.Settings {
	s := o.SettingsSource.Settings()
	if o.seconds > 0 {
		s.AutoRefreshSeconds = o.seconds
	}
	return s
}

// execute runs root, then flushes telemetry whether or not the command
// failed. flush is called after the command so it sees the provider the
// command installed. A flush failure is logged, never returned.
func execute(ctx context.Context, env core.Env, root *cobra.Command, flush func() telemetry.ShutdownFunc) error {
	err := root.ExecuteContext(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if ferr := flush()(shutdownCtx); ferr != nil {
		core.LogWarn(env, "telemetry flush failed", "error", ferr.Error())
	}
	return err
}

func main() {
	env := core.Detect()
	st := newStyles()
	v := viper.New()

	var (
		cfg           *config.Store
		configPath    string
		logLevel      string
		correlationID string
		shutdown      telemetry.ShutdownFunc = func(context.Context) error { return nil }
	)

	newHub := func(settings hub.SettingsSource, store *state.Store) *hub.Hub {
		return hub.New(env, settings, store)
	}
	toolEnv := func(ctx context.Context) (core.Env, error) {
		tc, err := core.ResolveToolchain(cfg.Settings().SDKPath)
		if err != nil {
			return core.Env{}, err
		}
		return env.WithContext(ctx).WithToolchain(tc), nil
	}

	root := &cobra.Command{
		Use:           "emuhub",
		Short:         "Watch and control Android emulators and devices of the local SDK",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath, v)
			if err != nil {
				return err
			}
			level := cfg.Settings().LogLevel
			if cmd.Flags().Changed("log-level") {
				level = logLevel
			}
			lvl, err := core.ParseLevel(level)
			if err != nil {
				return err
			}
			core.ConfigureLogging(os.Stderr, lvl)
			if correlationID != "" {
				env.CorrelationID = correlationID
			}
			shutdown, err = telemetry.Setup(cmd.Context(), "emuhub", version)
			if err != nil {
				core.LogWarn(env, "telemetry disabled", "error", err.Error())
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $EMUHUB_CONFIG or ~/.config/emuhub/config.toml)")
	root.PersistentFlags().String("sdk", "", "Android SDK root (overrides sdk_path)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&correlationID, "correlation-id", "", "correlation ID for logs and traces (default: $EMUHUB_CORRELATION_ID)")
	_ = v.BindPFlag(config.KeySDKPath, root.PersistentFlags().Lookup("sdk"))

	// devices
	var devJSON, devNames bool
	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List devices adb sees (emulators and physical)",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := toolEnv(cmd.Context())
			if err != nil {
				return err
			}
			devices, err := core.ListDevices(env)
			if err != nil {
				return err
			}
			if devJSON {
				return writeJSON(os.Stdout, devices)
			}
			var names map[string]string
			if devNames {
				names = map[string]string{}
				for _, d := range devices {
					if !d.IsEmulator() {
						continue
					}
					if name, err := core.AVDNameForSerial(env, d.Serial); err == nil {
						names[d.Serial] = name
					}
				}
			}
			renderDevices(os.Stdout, st, devices, names)
			return nil
		},
	}
	devicesCmd.Flags().BoolVar(&devJSON, "json", false, "output JSON")
	devicesCmd.Flags().BoolVar(&devNames, "names", false, "ask each emulator for its AVD name")
	root.AddCommand(devicesCmd)

	// avds
	var avdsJSON bool
	avdsCmd := &cobra.Command{
		Use:   "avds",
		Short: "List configured AVDs",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := toolEnv(cmd.Context())
			if err != nil {
				return err
			}
			avds, err := core.ListAVDs(env)
			if err != nil {
				return err
			}
			if avdsJSON {
				return writeJSON(os.Stdout, avds)
			}
			renderAVDs(os.Stdout, st, avds)
			return nil
		},
	}
	avdsCmd.Flags().BoolVar(&avdsJSON, "json", false, "output JSON")
	root.AddCommand(avdsCmd)

	// sdk
	sdkCmd := &cobra.Command{
		Use:   "sdk",
		Short: "Show the resolved Android SDK toolchain",
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := core.ResolveToolchain(cfg.Settings().SDKPath)
			if err != nil {
				return err
			}
			fmt.Printf("SDK:      %s\nEmulator: %s\nADB:      %s\n", tc.SDKRoot, tc.Emulator, tc.ADB)
			return nil
		},
	}
	root.AddCommand(sdkCmd)

	// start
	var startWait bool
	var startTimeout time.Duration
	startCmd := &cobra.Command{
		Use:   "start NAME",
		Short: "Start an emulator for an AVD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			ctx := cmd.Context()
			h := newHub(cfg, nil)
			var before []core.Device
			if startWait {
				env, err := toolEnv(ctx)
				if err != nil {
					return err
				}
				if before, err = core.ListDevices(env); err != nil {
					return err
				}
			}
			if err := h.StartAVD(ctx, name); err != nil {
				return err
			}
			if !startWait {
				fmt.Printf("Started %s\n", name)
				return nil
			}
			deadline := time.Now().Add(startTimeout)
			dev, err := h.AwaitEmulator(ctx, before, startTimeout)
			if err != nil {
				return err
			}
			env, err := toolEnv(ctx)
			if err != nil {
				return err
			}
			if err := core.WaitForBoot(env, dev.Serial, time.Until(deadline)); err != nil {
				return err
			}
			fmt.Printf("Started %s on %s\n", name, dev.Serial)
			return nil
		},
	}
	startCmd.Flags().BoolVar(&startWait, "wait", false, "wait for the emulator to finish booting")
	startCmd.Flags().DurationVar(&startTimeout, "timeout", 3*time.Minute, "boot timeout (with --wait)")
	root.AddCommand(startCmd)

	// stop
	var stopAVD string
	stopCmd := &cobra.Command{
		Use:   "stop [SERIAL]",
		Short: "Stop a running emulator by serial or --avd name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := newHub(cfg, nil)
			switch {
			case len(args) == 1 && stopAVD == "":
				if err := h.StopDevice(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Printf("Stopped %s\n", args[0])
			case len(args) == 0 && stopAVD != "":
				serial, err := h.StopAVD(cmd.Context(), stopAVD)
				if err != nil {
					return err
				}
				fmt.Printf("Stopped %s (%s)\n", stopAVD, serial)
			default:
				return errors.New("use SERIAL or --avd NAME")
			}
			return nil
		},
	}
	stopCmd.Flags().StringVar(&stopAVD, "avd", "", "AVD name of the running emulator")
	root.AddCommand(stopCmd)

	// refresh
	var refreshJSON bool
	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Run one refresh cycle and print the snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := newHub(cfg, nil).Refresh(cmd.Context())
			if refreshJSON {
				if jerr := writeJSON(os.Stdout, snap); jerr != nil {
					return jerr
				}
				return err
			}
			if err != nil {
				return err
			}
			renderSnapshot(os.Stdout, st, snap, time.Now())
			return nil
		},
	}
	refreshCmd.Flags().BoolVar(&refreshJSON, "json", false, "output JSON")
	root.AddCommand(refreshCmd)

	// watch
	var watchInterval time.Duration
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh periodically and print every new snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := cfg.Watch(); err != nil {
				core.LogWarn(env, "config watch failed", "error", err.Error())
			}

			store := &state.Store{}
			updates, unsubscribe := store.Subscribe()
			defer unsubscribe()
			poller := hub.NewPoller(newHub(intervalOverride{SettingsSource: cfg, seconds: int(watchInterval / time.Second)}, store))
			poller.Start(ctx)
			defer poller.Wait()

			for {
				select {
				case snap := <-updates:
					if snap.Refreshing {
						continue
					}
					fmt.Println(st.header.Render(time.Now().Format(time.TimeOnly)))
					renderSnapshot(os.Stdout, st, snap, time.Now())
					fmt.Println()
				case <-ctx.Done():
					poller.Stop()
					return nil
				}
			}
		},
	}
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "refresh interval, clamped to 3s..60s (default: auto_refresh_seconds)")
	root.AddCommand(watchCmd)

	// serve
	var serveAddr string
	var serveMax int
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve snapshots over WebSocket and actions over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := cfg.Watch(); err != nil {
				core.LogWarn(env, "config watch failed", "error", err.Error())
			}
			cfg.OnChange(func(s config.Settings) {
				core.LogEvent(env, "settings applied", "refresh_interval", s.RefreshInterval().String(), "sdk_path", s.SDKPath)
			})

			addr := serveAddr
			if addr == "" {
				addr = cfg.Settings().ListenAddr
			}
			store := &state.Store{}
			h := newHub(cfg, store)
			poller := hub.NewPoller(h)
			broadcaster := ws.NewBroadcaster(env, store, serveMax)
			go broadcaster.Run(ctx)
			poller.Start(ctx)
			defer poller.Wait()

			srv := ws.NewServer(env, h, store, broadcaster)
			err := ws.ListenAndServe(ctx, env, addr, srv.Routes())
			poller.Stop()
			return err
		},
	}
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: listen_addr)")
	serveCmd.Flags().IntVar(&serveMax, "max-clients", ws.DefaultMaxClients, "maximum concurrent WebSocket clients")
	root.AddCommand(serveCmd)

	// check-update
	var cuJSON bool
	checkUpdateCmd := &cobra.Command{
		Use:   "check-update",
		Short: "Check whether a newer emuhub release exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := update.NewChecker(cfg.Settings().UpdateURL, nil).Check(cmd.Context(), version)
			if err != nil {
				return err
			}
			if cuJSON {
				return writeJSON(os.Stdout, res)
			}
			renderUpdate(os.Stdout, st, res)
			return nil
		},
	}
	checkUpdateCmd.Flags().BoolVar(&cuJSON, "json", false, "output JSON")
	root.AddCommand(checkUpdateCmd)

	// config
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change persisted settings",
	}
	var showJSON bool
	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print effective settings (file, environment and flags applied)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showJSON {
				return writeJSON(os.Stdout, cfg.Settings())
			}
			renderSettings(os.Stdout, st, cfg.Settings(), cfg.Path())
			return nil
		},
	}
	configShowCmd.Flags().BoolVar(&showJSON, "json", false, "output JSON")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(cfg.Path())
			return nil
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:       "set KEY VALUE",
		Short:     "Validate and persist one setting",
		Args:      cobra.ExactArgs(2),
		ValidArgs: config.Keys,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("%s = %s\n", args[0], args[1])
			return nil
		},
	})
	root.AddCommand(configCmd)

	// version
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the emuhub version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	flush := func() telemetry.ShutdownFunc { return shutdown }
	if err := execute(context.Background(), env, root, flush); err != nil {
		fmt.Fprintln(os.Stderr, "emuhub:", core.Describe(err))
		os.Exit(1)
	}
}
