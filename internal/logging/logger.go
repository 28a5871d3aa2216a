// Package logging builds the structured logger every ShowSync process uses.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/AaronLay10/ShowSync/internal/config"
)

// New returns a slog logger configured from cfg. Every record carries the
// module name and build version.
func New(cfg config.LoggingConfig, module, version string) *slog.Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return NewWithWriter(out, cfg, module, version)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, module, version string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "showsync"),
		slog.String("module", module),
		slog.String("version", version),
	})
	return slog.New(handler)
}

// Default is used before the show document has been loaded.
func Default(module string) *slog.Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, module, "dev")
}

// Discard drops every record. Tests use it.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

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
