// Package logging builds the mtlog loggers used by both binaries.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/willibrandon/mtlog"
	"github.com/willibrandon/mtlog/core"
	"github.com/willibrandon/mtlog/sinks"
)

// ParseLevel maps a config level name to an mtlog level.
func ParseLevel(name string) (core.LogEventLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "verbose", "trace":
		return core.VerboseLevel, nil
	case "debug":
		return core.DebugLevel, nil
	case "", "info", "information":
		return core.InformationLevel, nil
	case "warn", "warning":
		return core.WarningLevel, nil
	case "error":
		return core.ErrorLevel, nil
	default:
		return core.InformationLevel, fmt.Errorf("unknown log level %q", name)
	}
}

// DefaultPath returns ~/.local/state/<app>/<app>.log.
func DefaultPath(app string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", app, app+".log"), nil
}

// Console returns a logger writing to w.
func Console(w io.Writer, level core.LogEventLevel) core.Logger {
	return mtlog.New(
		mtlog.WithSink(sinks.NewConsoleSinkWithWriter(w)),
		mtlog.WithMinimumLevel(level),
	)
}

// File returns a logger appending to path. A terminal UI owns stdout, so
// this is the only place its logs can go. If the file cannot be opened the
// logger writes to stderr instead. The returned func flushes and closes
// the file.
func File(path string, level core.LogEventLevel) (core.Logger, func()) {
	sink, err := sinks.NewFileSink(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot open log file %s: %v (logging to stderr)\n", path, err)
		return Console(os.Stderr, level), func() {}
	}
	logger := mtlog.New(
		mtlog.WithSink(sink),
		mtlog.WithMinimumLevel(level),
	)
	return logger, func() { _ = sink.Close() }
}

// Discard returns a logger with no sinks.
func Discard() core.Logger {
	return mtlog.New()
}
