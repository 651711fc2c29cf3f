// Package logging configures the process logger. Call sites use log/slog;
// records are written by zerolog as JSON or console lines.
//
//	logging.Init(logging.Config{Level: "debug", Format: "console"})
//	slog.Info("server listening", "addr", addr)
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level, format and destination.
type Config struct {
	// trace, debug, info, warn or error. Default info.
	Level string
	// json or console. Default json.
	Format string
	Caller bool
	// Default os.Stderr.
	Output io.Writer
}

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Init rebuilds the global zerolog logger and installs a slog default
// backed by it. Safe to call more than once.
func Init(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.Caller {
		// slog adds two frames between the call site and zerolog.
		ctx = ctx.CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 3)
	}
	l := ctx.Logger()

	mu.Lock()
	logger = l
	mu.Unlock()

	slog.SetDefault(slog.New(NewSlogHandler(l)))
	return l
}

// Logger returns the global zerolog logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// ParseLevel maps a level name to zerolog; unknown names mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Discard returns a slog logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(NewSlogHandler(zerolog.Nop()))
}
