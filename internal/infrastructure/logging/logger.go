package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/tint"

	"github.com/nerrad567/droidpilot/internal/infrastructure/config"
)

// File permissions for the optional log file.
const (
	logDirPermissions  = 0750
	logFilePermissions = 0640
)

// consoleTimeFormat is the timestamp layout for the coloured console format.
const consoleTimeFormat = "15:04:05.000"

// Logger wraps slog.Logger with droidpilot-specific functionality.
//
// It provides structured logging with default fields and level-based filtering.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger

	// file is the optional log file; nil when logging to console only.
	file io.Closer
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output format (JSON for production, text or coloured console for development)
//   - Log level filtering
//   - Default fields (service name, version)
//   - Output destination, optionally teed to a file
//
// If the log file cannot be opened the logger falls back to console output
// and records a warning as its first entry.
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	var file *os.File
	var fileErr error
	if cfg.File.Path != "" {
		file, fileErr = openLogFile(cfg.File.Path)
		if fileErr == nil {
			output = io.MultiWriter(output, file)
		}
	}

	handler := newHandler(output, cfg.Format, parseLevel(cfg.Level))

	// Add default fields
	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "droidpilot"),
		slog.String("version", version),
	})

	l := &Logger{Logger: slog.New(handler)}
	if file != nil {
		l.file = file
	}
	if fileErr != nil {
		l.Warn("log file unavailable, logging to console only",
			"path", cfg.File.Path,
			"error", fileErr,
		)
	}
	return l
}

// newHandler builds the slog handler for the configured format.
func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch strings.ToLower(format) {
	case "text":
		return slog.NewTextHandler(w, opts)
	case "console":
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: consoleTimeFormat,
			NoColor:    !isTerminal(w),
		})
	default:
		return slog.NewJSONHandler(w, opts)
	}
}

// openLogFile opens (appending) the log file, creating its directory.
func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), logDirPermissions); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions) //nolint:gosec // Path comes from operator config
}

// isTerminal reports whether w is a character device, so colour codes
// are only emitted to interactive consoles.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
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
// The returned logger shares the parent's log file; only the parent
// should be closed.
//
// Parameters:
//   - args: Key-value pairs to add as default attributes
//
// Returns:
//   - *Logger: New logger with added attributes
//
// Example:
//
//	monLogger := logger.With("component", "monitor")
//	monLogger.Info("crash detected") // Includes component=monitor
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Close releases the log file, if one was opened.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stdout in JSON format at info level.
// It should only be used during early startup before config is available.
//
// Returns:
//   - *Logger: Default logger
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

