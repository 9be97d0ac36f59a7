package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

var (
	globalLogger *slog.Logger
	errorLogger  *slog.Logger
	verboseMode  bool
)

func init() {
	globalLogger = slog.New(&silentHandler{})
	errorLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Init initializes the global logger. When logFile is set, every record is
// also written to a daily-rotated file kept for a week, regardless of verbose.
func Init(verbose bool, logFile string) error {
	verboseMode = verbose

	var sink io.Writer
	if logFile != "" {
		rotated, err := newRotatingWriter(logFile)
		if err != nil {
			return err
		}
		sink = rotated
	}

	switch {
	case verbose && sink != nil:
		verboseMode = true
		globalLogger = slog.New(slog.NewTextHandler(io.MultiWriter(os.Stderr, sink), &slog.HandlerOptions{Level: slog.LevelDebug}))
		errorLogger = globalLogger
	case verbose:
		globalLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		errorLogger = globalLogger
	case sink != nil:
		// The file receives info and above even when the terminal is quiet.
		verboseMode = true
		globalLogger = slog.New(slog.NewJSONHandler(sink, &slog.HandlerOptions{Level: slog.LevelInfo}))
		errorLogger = globalLogger
	default:
		globalLogger = slog.New(&silentHandler{})
		errorLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}

	slog.SetDefault(globalLogger)
	return nil
}

func newRotatingWriter(logFile string) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(logFile), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	w, err := rotatelogs.New(
		logFile+".%Y%m%d",
		rotatelogs.WithLinkName(logFile),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(7*24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return w, nil
}

// silentHandler discards all log messages when verbose mode is disabled
type silentHandler struct{}

func (h *silentHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return false
}

func (h *silentHandler) Handle(_ context.Context, _ slog.Record) error {
	return nil
}

func (h *silentHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *silentHandler) WithGroup(_ string) slog.Handler {
	return h
}

// With returns a child of the global logger carrying attrs.
func With(args ...any) *slog.Logger {
	return globalLogger.With(args...)
}

// Debug logs debug messages only in verbose mode
func Debug(msg string, args ...any) {
	if verboseMode {
		globalLogger.Debug(msg, args...)
	}
}

// Info logs info messages only in verbose mode
func Info(msg string, args ...any) {
	if verboseMode {
		globalLogger.Info(msg, args...)
	}
}

// Warn logs warning messages only in verbose mode
func Warn(msg string, args ...any) {
	if verboseMode {
		globalLogger.Warn(msg, args...)
	}
}

// Error always logs error messages regardless of verbose mode
func Error(msg string, args ...any) {
	errorLogger.Error(msg, args...)
}

// Logger returns the global logger, for components that take a *slog.Logger.
func Logger() *slog.Logger {
	return globalLogger
}

// IsVerbose returns whether verbose mode is enabled
func IsVerbose() bool {
	return verboseMode
}
