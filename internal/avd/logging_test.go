// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func captureLogs(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	previous := avdLogger
	avdLogger = newLogger(&buf, level)
	t.Cleanup(func() { avdLogger = previous })
	return &buf
}

func logRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("failed to parse log line %q: %v", line, err)
		}
		records = append(records, record)
	}
	return records
}

func TestLogEventIncludesCorrelationAndTimestamp(t *testing.T) {
	buf := captureLogs(t, slog.LevelInfo)

	env := Env{CorrelationID: "corr-123"}
	logEvent(env, "test message", "key", "value")

	records := logRecords(t, buf)
	if len(records) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(records))
	}
	record := records[0]
	if record["correlation_id"] != "corr-123" {
		t.Fatalf("expected correlation_id corr-123, got %#v", record["correlation_id"])
	}
	if _, ok := record["timestamp_ns"]; !ok {
		t.Fatal("expected timestamp_ns field in log record")
	}
	if record["key"] != "value" {
		t.Fatalf("expected key=value, got %#v", record["key"])
	}
}

func TestCommandLogWriterIncludesFields(t *testing.T) {
	buf := captureLogs(t, slog.LevelDebug)

	env := Env{CorrelationID: "corr-456"}
	writer := newCommandLogWriter(env, "adb", []string{"devices"})
	_, _ = writer.Write([]byte("bo"))
	_, _ = writer.Write([]byte("om\n\n"))

	records := logRecords(t, buf)
	if len(records) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(records))
	}
	record := records[0]
	if record["msg"] != "command stderr" {
		t.Fatalf("expected message 'command stderr', got %#v", record["msg"])
	}
	if record["command"] != "adb" {
		t.Fatalf("expected command adb, got %#v", record["command"])
	}
	if record["args"] != "devices" {
		t.Fatalf("expected args devices, got %#v", record["args"])
	}
	if record["line"] != "boom" {
		t.Fatalf("expected line boom, got %#v", record["line"])
	}
	if record["correlation_id"] != "corr-456" {
		t.Fatalf("expected correlation_id corr-456, got %#v", record["correlation_id"])
	}
}

func TestCommandStderrHiddenAtInfo(t *testing.T) {
	buf := captureLogs(t, slog.LevelInfo)

	writer := newCommandLogWriter(Env{}, "adb", nil)
	_, _ = writer.Write([]byte("noise\n"))

	if buf.Len() != 0 {
		t.Fatalf("expected no output at info level, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":       slog.LevelInfo,
		"debug":  slog.LevelDebug,
		" WARN ": slog.LevelWarn,
		"error":  slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
