// Package logging provides structured logging on top of log/slog.
//
// Output format is json or text; "auto" picks text when writing to a
// terminal and json otherwise. Every record carries service and version
// attributes. Never log meter or broker credentials.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/jgoulah/monthclose/internal/config"
)

// Logger wraps slog.Logger. Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New creates a Logger from the logging section of the config
func New(cfg config.LoggingConfig, version string) *Logger {
	var output *os.File
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	format := strings.ToLower(cfg.Format)
	if format == "auto" || format == "" {
		format = "json"
		if isatty.IsTerminal(output.Fd()) {
			format = "text"
		}
	}

	return newWithWriter(output, format, parseLevel(cfg.Level), version)
}

func newWithWriter(w io.Writer, format string, level slog.Level, version string) *Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "monthclose"),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// parseLevel converts a string log level to slog.Level, defaulting to info
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

// With returns a new Logger with additional default attributes.
//
//	syncLog := logger.With("component", "sync")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default creates a logger for use before configuration is loaded
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "auto",
		Output: "stderr",
	}, "dev")
}

// Discard returns a logger that drops everything. Intended for tests.
func Discard() *Logger {
	return newWithWriter(io.Discard, "json", slog.LevelError+1, "test")
}

// NewWriter creates a JSON logger writing to w at the given level
func NewWriter(w io.Writer, level string) *Logger {
	return newWithWriter(w, "json", parseLevel(level), "test")
}
