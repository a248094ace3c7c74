package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// FilePath is the log file. Empty disables file logging.
	FilePath string
	// MaxSizeMB is the size that triggers rotation.
	MaxSizeMB int
	// MaxFiles is the number of rotated files kept.
	MaxFiles int
	// WriteToStderr mirrors log lines to stderr.
	WriteToStderr bool
}

// DefaultConfig returns file logging at info level, mirrored to stderr.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// DebugConfig is DefaultConfig at debug level.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	return cfg
}

// ServeConfig logs to the file only. stdout and stderr stay clean for
// the MCP transport.
func ServeConfig(level string) Config {
	cfg := DefaultConfig()
	cfg.Level = level
	cfg.WriteToStderr = false
	return cfg
}

// Setup builds a JSON logger for cfg and returns it with a cleanup func
// that flushes and closes the log file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var (
		writers []io.Writer
		rw      *RotatingWriter
	)
	if cfg.FilePath != "" {
		var err error
		rw, err = NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, rw)
	}
	if cfg.WriteToStderr {
		writers = append(writers, os.Stderr)
	}

	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	cleanup := func() {
		if rw != nil {
			_ = rw.Sync()
			_ = rw.Close()
		}
	}
	return slog.New(handler), cleanup, nil
}

// SetupDefault installs a logger for cfg as the slog default.
func SetupDefault(cfg Config) (func(), error) {
	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	logger.Debug("logging_initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level),
		slog.Bool("stderr", cfg.WriteToStderr))
	return cleanup, nil
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

// LevelFromString converts a level name to slog.Level. Unknown names map
// to info.
func LevelFromString(level string) slog.Level {
	return parseLevel(level)
}
