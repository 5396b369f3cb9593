package logging

import (
	"io"
	"log/slog"
	"os"
	"runtime"

	"gopkg.in/natefinch/lumberjack.v2"

	"adsb_feeds/internal/config"
)

// ParseLevel maps a config level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the process logger. When cfg.File is set the output goes to a
// size-rotated file; otherwise to stdout. The returned closer releases the
// file and is a no-op for stdout.
func New(cfg config.LogConfig) (*slog.Logger, io.Closer) {
	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB, // MB
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		w, closer = lj, lj
	}

	return slog.New(newHandler(w, cfg)), closer
}

// Init builds the process logger and installs it as the slog default
func Init(cfg config.LogConfig) io.Closer {
	logger, closer := New(cfg)
	slog.SetDefault(logger)
	logger.Info("Logging initialized",
		"level", ParseLevel(cfg.Level).String(),
		"format", cfg.Format,
		"file", cfg.File,
		"goos", runtime.GOOS,
		"goarch", runtime.GOARCH)
	return closer
}

func newHandler(w io.Writer, cfg config.LogConfig) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
