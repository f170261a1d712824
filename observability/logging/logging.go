package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Options tunes the JSON handler built by New.
type Options struct {
	// Level is one of debug, info, warn or error. Empty means info.
	Level string
	// Writer receives the log lines. Nil means stdout.
	Writer io.Writer
}

// ParseLevel maps a textual level onto slog levels, defaulting to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

func replaceAttr(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		return slog.Attr{Key: "timestamp", Value: attr.Value}
	case slog.LevelKey:
		return slog.String("severity", strings.ToUpper(attr.Value.String()))
	case slog.MessageKey:
		return slog.Attr{Key: "message", Value: attr.Value}
	}
	if IsSensitive(attr.Key) && attr.Value.Kind() == slog.KindString {
		return MaskField(attr.Key, attr.Value.String())
	}
	return attr
}

// New builds a JSON logger tagged with the service and environment. Sensitive
// string attributes are masked on output.
func New(service, env string, opts Options) (*slog.Logger, slog.Handler) {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stdout
	}
	var handler slog.Handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level:       ParseLevel(opts.Level),
		ReplaceAttr: replaceAttr,
	})
	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	handler = handler.WithAttrs(attrs)
	return slog.New(handler), handler
}

// Setup installs the logger from New as the slog default and routes the std
// log package through it.
func Setup(service, env string, opts Options) *slog.Logger {
	logger, handler := New(service, env, opts)
	slog.SetDefault(logger)

	bridge := slog.NewLogLogger(handler, slog.LevelInfo)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")
	return logger
}
