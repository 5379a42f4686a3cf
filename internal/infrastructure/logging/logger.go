package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sloanware/latchline-core/internal/infrastructure/config"
)

// Logger is a slog.Logger carrying the service and version fields on
// every record. Safe for concurrent use; With derives child loggers
// without touching the parent.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from cfg. Format selects json (default) or
// text, Output selects stdout (default), stderr, or a file path, and
// Level filters records below it. The service and version values are
// stamped onto every record so multi-daemon log streams stay sortable.
func New(cfg config.LoggingConfig, service, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	out := openOutput(cfg.Output)

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", service),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// openOutput resolves the configured destination. A file destination
// is opened append-only and stays open for the process lifetime; if it
// cannot be opened the logger falls back to stderr rather than losing
// records.
func openOutput(dest string) io.Writer {
	switch strings.ToLower(dest) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: cannot open %s (%v), falling back to stderr\n", dest, err)
		return os.Stderr
	}
	return f
}

// parseLevel maps a config string onto a slog.Level. Unknown values
// mean info so a typo never silences the log.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child Logger with extra default attributes, typically
// a component tag:
//
//	mqttLog := log.With("component", "mqtt")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default returns a stdout JSON logger at info level for the window
// between process start and config load.
func Default(service string) *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, service, "dev")
}
