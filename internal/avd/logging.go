// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

var avdLogger = newLogger(os.Stderr, slog.LevelInfo)

var otelLogger = global.Logger("github.com/forkbombeu/emuhub")

func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// ConfigureLogging sends structured logs to w, dropping records below level.
func ConfigureLogging(w io.Writer, level slog.Level) {
	avdLogger = newLogger(w, level)
}

// ParseLevel accepts debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// LogEvent writes an info record tagged with the env's correlation ID.
func LogEvent(env Env, message string, fields ...any) {
	logAt(env, slog.LevelInfo, message, fields...)
}

// LogWarn is LogEvent at warn level.
func LogWarn(env Env, message string, fields ...any) {
	logAt(env, slog.LevelWarn, message, fields...)
}

func logEvent(env Env, message string, fields ...any) {
	logAt(env, slog.LevelInfo, message, fields...)
}

func logDebug(env Env, message string, fields ...any) {
	logAt(env, slog.LevelDebug, message, fields...)
}

func logAt(env Env, level slog.Level, message string, fields ...any) {
	ctx := spanContext(env)
	if !avdLogger.Enabled(ctx, level) {
		return
	}
	baseFields := []any{"timestamp_ns", time.Now().UTC().UnixNano()}
	if env.CorrelationID != "" {
		baseFields = append(baseFields, "correlation_id", env.CorrelationID)
	}
	allFields := append(baseFields, fields...)
	avdLogger.Log(ctx, level, message, allFields...)
	emitOTel(ctx, level, message, allFields)
}

func emitOTel(ctx context.Context, level slog.Level, message string, fields []any) {
	var record otellog.Record
	record.SetTimestamp(time.Now())
	record.SetSeverity(otelSeverity(level))
	record.SetBody(otellog.StringValue(message))
	for i := 0; i+1 < len(fields); i += 2 {
		record.AddAttributes(otellog.String(fmt.Sprint(fields[i]), fmt.Sprint(fields[i+1])))
	}
	otelLogger.Emit(ctx, record)
}

func otelSeverity(level slog.Level) otellog.Severity {
	switch {
	case level >= slog.LevelError:
		return otellog.SeverityError
	case level >= slog.LevelWarn:
		return otellog.SeverityWarn
	case level >= slog.LevelInfo:
		return otellog.SeverityInfo
	default:
		return otellog.SeverityDebug
	}
}

type lineLogWriter struct {
	env    Env
	fields []any
	buffer []byte
	msg    string
}

func (writer *lineLogWriter) Write(payload []byte) (int, error) {
	writer.buffer = append(writer.buffer, payload...)
	for {
		newlineIndex := bytes.IndexByte(writer.buffer, '\n')
		if newlineIndex == -1 {
			break
		}
		line := strings.TrimSpace(string(writer.buffer[:newlineIndex]))
		writer.buffer = writer.buffer[newlineIndex+1:]
		if line != "" {
			logDebug(writer.env, writer.msg, append(writer.fields, "line", line)...)
		}
	}
	return len(payload), nil
}

func newLineLogWriterWithMessage(env Env, message string, fields ...any) io.Writer {
	return &lineLogWriter{
		env:    env,
		fields: fields,
		msg:    message,
	}
}

func newCommandLogWriter(env Env, command string, args []string) io.Writer {
	fields := []any{"command", command, "stream", "stderr"}
	if len(args) > 0 {
		fields = append(fields, "args", strings.Join(args, " "))
	}
	return newLineLogWriterWithMessage(env, "command stderr", fields...)
}
