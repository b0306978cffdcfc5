// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	units "github.com/docker/go-units"

	core "github.com/forkbombeu/emuhub/internal/avd"
	"github.com/forkbombeu/emuhub/internal/config"
	"github.com/forkbombeu/emuhub/internal/state"
	"github.com/forkbombeu/emuhub/internal/update"
)

type styles struct {
	title    lipgloss.Style
	header   lipgloss.Style
	emulator lipgloss.Style
	physical lipgloss.Style
	ok       lipgloss.Style
	warning  lipgloss.Style
	empty    lipgloss.Style
	key      lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true),
		header:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		emulator: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		physical: lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		ok:       lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
		warning:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		empty:    lipgloss.NewStyle().Faint(true),
		key:      lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (st styles) stateLabel(d core.Device) string {
	switch {
	case d.IsUnauthorized():
		return st.warning.Render(d.State + " (accept the USB debugging prompt)")
	case d.IsOffline():
		return st.warning.Render(d.State)
	case d.State == core.StateDevice:
		return st.ok.Render(d.State)
	}
	return d.State
}

// renderDevices prints one device per line. names maps emulator serials to
// their AVD names and may be nil.
func renderDevices(w io.Writer, st styles, devices []core.Device, names map[string]string) {
	if len(devices) == 0 {
		fmt.Fprintln(w, st.empty.Render("(no devices)"))
		return
	}
	for _, d := range devices {
		serial := st.physical.Render(fmt.Sprintf("%-20s", d.Serial))
		if d.IsEmulator() {
			serial = st.emulator.Render(fmt.Sprintf("%-20s", d.Serial))
		}
		line := fmt.Sprintf("%s %-9s %s", serial, d.Kind(), st.stateLabel(d))
		if name := names[d.Serial]; name != "" {
			line += " " + st.header.Render(name)
		}
		fmt.Fprintln(w, line)
	}
}

func renderAVDs(w io.Writer, st styles, avds []string) {
	if len(avds) == 0 {
		fmt.Fprintln(w, st.empty.Render("(no AVDs; create one with Android Studio's Device Manager)"))
		return
	}
	for _, name := range avds {
		fmt.Fprintln(w, name)
	}
}

func ago(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return units.HumanDuration(now.Sub(t)) + " ago"
}

func renderSnapshot(w io.Writer, st styles, snap state.Snapshot, now time.Time) {
	fmt.Fprintln(w, st.title.Render("Devices"))
	renderDevices(w, st, snap.Devices, nil)

	names := make([]string, 0, len(snap.AVDs))
	for _, a := range snap.AVDs {
		names = append(names, a.Name)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, st.title.Render("AVDs"))
	renderAVDs(w, st, names)

	fmt.Fprintln(w)
	status := fmt.Sprintf("refreshed %s, %d running emulator(s)", ago(now, snap.LastRefresh), len(snap.RunningEmulators()))
	if snap.Refreshing {
		status += ", refreshing"
	}
	fmt.Fprintln(w, st.header.Render(status))
	if snap.LastError != "" {
		msg := snap.LastError
		if snap.ConsecutiveFailures > 1 {
			msg = fmt.Sprintf("%s (failed %d times, last success %s)", msg, snap.ConsecutiveFailures, ago(now, snap.LastSuccess))
		}
		fmt.Fprintln(w, st.warning.Render("error: "+msg))
	}
}

func renderSettings(w io.Writer, st styles, s config.Settings, path string) {
	fmt.Fprintln(w, st.header.Render("# "+path))
	for _, kv := range s.Effective() {
		value := kv[1]
		if strings.TrimSpace(value) == "" {
			value = st.empty.Render("(auto)")
		}
		fmt.Fprintf(w, "%s = %s\n", st.key.Render(fmt.Sprintf("%-22s", kv[0])), value)
	}
}

func renderUpdate(w io.Writer, st styles, res update.Result) {
	if res.DevelopmentBuild {
		fmt.Fprintln(w, st.header.Render(fmt.Sprintf("emuhub %s is a development build; latest release is %s", res.CurrentVersion, res.LatestVersion)))
		return
	}
	if !res.HasUpdate {
		fmt.Fprintln(w, st.ok.Render(fmt.Sprintf("emuhub %s is up to date (latest %s)", res.CurrentVersion, res.LatestVersion)))
		return
	}
	fmt.Fprintln(w, st.warning.Render(fmt.Sprintf("emuhub %s is available (running %s)", res.LatestVersion, res.CurrentVersion)))
	if res.ReleaseNotesURL != "" {
		fmt.Fprintf(w, "  notes:    %s\n", res.ReleaseNotesURL)
	}
	if res.DownloadURL != "" {
		fmt.Fprintf(w, "  download: %s\n", res.DownloadURL)
	}
}
