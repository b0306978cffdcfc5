// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package config loads and persists user settings. Values come from, in
// increasing priority: built-in defaults, the TOML file, EMUHUB_* environment
// variables, and any flags bound on the underlying viper instance.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/forkbombeu/emuhub/internal/avd"
	"github.com/forkbombeu/emuhub/internal/update"
	"github.com/fsnotify/fsnotify"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	KeySDKPath            = "sdk_path"
	KeyEmulatorExtraArgs  = "emulator_extra_args"
	KeyAutoRefreshSeconds = "auto_refresh_seconds"
	KeyUpdateURL          = "update_url"
	KeyListenAddr         = "listen_addr"
	KeyLogLevel           = "log_level"
)

const (
	MinRefreshSeconds     = 3
	MaxRefreshSeconds     = 60
	DefaultRefreshSeconds = 10
	DefaultListenAddr     = "127.0.0.1:7654"
	DefaultLogLevel       = "info"

	envPrefix       = "EMUHUB"
	configType      = "toml"
	configFileMode  = 0o600
	configDirMode   = 0o700
	tempFilePattern = ".config-*.toml.tmp"
)

// Keys lists every recognised setting, sorted.
var Keys = []string{
	KeyAutoRefreshSeconds,
	KeyEmulatorExtraArgs,
	KeyListenAddr,
	KeyLogLevel,
	KeySDKPath,
	KeyUpdateURL,
}

type Settings struct {
	SDKPath            string `toml:"sdk_path" mapstructure:"sdk_path" json:"sdk_path"`
	EmulatorExtraArgs  string `toml:"emulator_extra_args" mapstructure:"emulator_extra_args" json:"emulator_extra_args"`
	AutoRefreshSeconds int    `toml:"auto_refresh_seconds" mapstructure:"auto_refresh_seconds" json:"auto_refresh_seconds"`
	UpdateURL          string `toml:"update_url" mapstructure:"update_url" json:"update_url"`
	ListenAddr         string `toml:"listen_addr" mapstructure:"listen_addr" json:"listen_addr"`
	LogLevel           string `toml:"log_level" mapstructure:"log_level" json:"log_level"`
}

func Defaults() Settings {
	return Settings{
		EmulatorExtraArgs:  avd.DefaultExtraArgs,
		AutoRefreshSeconds: DefaultRefreshSeconds,
		UpdateURL:          update.DefaultReleaseURL,
		ListenAddr:         DefaultListenAddr,
		LogLevel:           DefaultLogLevel,
	}
}

// ExtraArgs splits EmulatorExtraArgs on whitespace. Quoting is not supported.
func (s Settings) ExtraArgs() []string {
	return strings.Fields(s.EmulatorExtraArgs)
}

// RefreshInterval is AutoRefreshSeconds clamped to [3s, 60s].
func (s Settings) RefreshInterval() time.Duration {
	secs := s.AutoRefreshSeconds
	if secs == 0 {
		secs = DefaultRefreshSeconds
	}
	secs = min(max(secs, MinRefreshSeconds), MaxRefreshSeconds)
	return time.Duration(secs) * time.Second
}

// Validate checks every field, joining all problems into one error.
func (s Settings) Validate() error {
	var errs []error
	for _, key := range Keys {
		if err := validateValue(key, s.value(key)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s Settings) value(key string) string {
	switch key {
	case KeySDKPath:
		return s.SDKPath
	case KeyEmulatorExtraArgs:
		return s.EmulatorExtraArgs
	case KeyAutoRefreshSeconds:
		return strconv.Itoa(s.AutoRefreshSeconds)
	case KeyUpdateURL:
		return s.UpdateURL
	case KeyListenAddr:
		return s.ListenAddr
	case KeyLogLevel:
		return s.LogLevel
	}
	return ""
}

func validateValue(key, value string) error {
	switch key {
	case KeySDKPath, KeyEmulatorExtraArgs:
		return nil
	case KeyAutoRefreshSeconds:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%s must be a whole number of seconds: %w", key, errdefs.ErrInvalidArgument)
		}
		if n < MinRefreshSeconds || n > MaxRefreshSeconds {
			return fmt.Errorf("%s must be between %d and %d: %w", key, MinRefreshSeconds, MaxRefreshSeconds, errdefs.ErrInvalidArgument)
		}
		return nil
	case KeyUpdateURL:
		u, err := url.Parse(strings.TrimSpace(value))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s must be an http(s) URL: %w", key, errdefs.ErrInvalidArgument)
		}
		return nil
	case KeyListenAddr:
		if _, _, err := net.SplitHostPort(strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("%s must be host:port: %w", key, errdefs.ErrInvalidArgument)
		}
		return nil
	case KeyLogLevel:
		if _, err := avd.ParseLevel(value); err != nil {
			return fmt.Errorf("%s: %w: %w", key, err, errdefs.ErrInvalidArgument)
		}
		return nil
	}
	return fmt.Errorf("unknown setting %q (known: %s): %w", key, strings.Join(Keys, ", "), errdefs.ErrNotFound)
}

// DefaultPath is $EMUHUB_CONFIG or ~/.config/emuhub/config.toml.
func DefaultPath() string {
	if p := strings.TrimSpace(os.Getenv("EMUHUB_CONFIG")); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".emuhub", "config.toml")
	}
	return filepath.Join(home, ".config", "emuhub", "config.toml")
}

// Store is the live settings source. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	v         *viper.Viper
	path      string
	settings  Settings
	listeners []func(Settings)
	watching  bool
}

// Load reads path through v. A missing file is not an error: defaults,
// environment and flags still apply. A nil v gets a fresh instance.
func Load(path string, v *viper.Viper) (*Store, error) {
	if v == nil {
		v = viper.New()
	}
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	v.SetConfigFile(abs)
	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	defaults := Defaults()
	v.SetDefault(KeySDKPath, defaults.SDKPath)
	v.SetDefault(KeyEmulatorExtraArgs, defaults.EmulatorExtraArgs)
	v.SetDefault(KeyAutoRefreshSeconds, defaults.AutoRefreshSeconds)
	v.SetDefault(KeyUpdateURL, defaults.UpdateURL)
	v.SetDefault(KeyListenAddr, defaults.ListenAddr)
	v.SetDefault(KeyLogLevel, defaults.LogLevel)

	s := &Store{v: v, path: abs}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) reload() error {
	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read config file: %w", err)
		}
	}
	var next Settings
	if err := s.v.Unmarshal(&next); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	next.SDKPath = strings.TrimSpace(next.SDKPath)
	s.mu.Lock()
	s.settings = next
	s.mu.Unlock()
	return nil
}

// Settings returns the current settings.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Store) Path() string { return s.path }

// Viper exposes the underlying instance so callers can bind flags.
func (s *Store) Viper() *viper.Viper { return s.v }

// OnChange registers fn to run with the new settings after every reload.
func (s *Store) OnChange(fn func(Settings)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Set validates value, writes it to the config file and reloads. Unknown
// keys already present in the file are preserved.
func (s *Store) Set(key, value string) error {
	key = strings.TrimSpace(key)
	if err := validateValue(key, value); err != nil {
		return err
	}

	doc, err := s.readFile()
	if err != nil {
		return err
	}
	if key == KeyAutoRefreshSeconds {
		n, _ := strconv.Atoi(strings.TrimSpace(value))
		doc[key] = int64(n)
	} else {
		doc[key] = strings.TrimSpace(value)
	}
	if err := s.writeFile(doc); err != nil {
		return err
	}
	if err := s.reload(); err != nil {
		return err
	}
	s.notify()
	return nil
}

// Watch reloads the settings whenever the file changes on disk.
func (s *Store) Watch() error {
	s.mu.Lock()
	if s.watching {
		s.mu.Unlock()
		return nil
	}
	s.watching = true
	s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), configDirMode); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	s.v.OnConfigChange(func(event fsnotify.Event) {
		if err := s.reload(); err != nil {
			avd.LogWarn(avd.Env{}, "config reload failed", "path", event.Name, "error", err.Error())
			return
		}
		avd.LogEvent(avd.Env{}, "config reloaded", "path", event.Name, "op", event.Op.String())
		s.notify()
	})
	s.v.WatchConfig()
	return nil
}

func (s *Store) notify() {
	s.mu.RLock()
	settings := s.settings
	listeners := append([]func(Settings){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(settings)
	}
}

func (s *Store) readFile() (map[string]any, error) {
	doc := map[string]any{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}
	return doc, nil
}

func (s *Store) writeFile(doc map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(s.path), configDirMode); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(s.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tempFile.Chmod(configFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tempName, s.path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	cleanup = false
	return nil
}

// Effective returns every setting as a display string, sorted by key.
func (s Settings) Effective() [][2]string {
	out := make([][2]string, 0, len(Keys))
	for _, key := range Keys {
		out = append(out, [2]string{key, s.value(key)})
	}
	return out
}
