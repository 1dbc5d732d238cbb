package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/smartcat/habitat-core/internal/infrastructure/config"
)

// serviceName is attached to every record.
const serviceName = "habitat-core"

// Logger wraps slog.Logger with the service's default attributes.
//
// It is safe for concurrent use. Domain packages accept it through their own
// narrow Logger interfaces (Debug/Info/Warn/Error), which *Logger satisfies.
type Logger struct {
	*slog.Logger
}

// New creates a Logger from the logging section of the configuration.
//
// Output goes to stdout unless cfg.Output is "stderr". Format is JSON unless
// cfg.Format is "text". Every record carries service and version attributes.
//
// Parameters:
//   - cfg: level, format and output from the logging section
//   - version: build version recorded on every line
//
// Returns:
//   - *Logger: ready to use; it also satisfies every package's Logger interface
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		output = os.Stderr
	}
	return newWithWriter(output, cfg, version)
}

func newWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// parseLevel converts a string log level to slog.Level.
// Unrecognised values fall back to info.
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
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a child logger tagged with a component name, e.g.
// log.Component("alerts").Warn("persist failed", "error", err).
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default creates a JSON info-level logger for use before configuration is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
