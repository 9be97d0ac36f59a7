package security

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
)

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

// SecureLogger emits JSON log lines with credentials and personal data redacted.
type SecureLogger struct {
	logger *slog.Logger
}

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-._~+/]+=*`),
	regexp.MustCompile(`(?i)(access_token|refresh_token|id_token)["':=\s]*["']?([A-Za-z0-9\-._~+/]+=*)`),
	regexp.MustCompile(`(?i)(client_secret|code_verifier)["':=\s]*["']?([A-Za-z0-9\-._~+/]{8,})`),
	regexp.MustCompile(`([?&](?:code|state|code_challenge)=)([^&\s"]+)`),
	regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
}

// NewSecureLogger writes to stderr when verbose, otherwise discards everything.
func NewSecureLogger(verbose bool) *SecureLogger {
	if !verbose {
		return &SecureLogger{logger: slog.New(&silentHandler{})}
	}
	return NewSecureLoggerTo(os.Stderr, slog.LevelInfo)
}

// NewSecureLoggerTo builds a redacting logger on an arbitrary writer.
func NewSecureLoggerTo(w io.Writer, level slog.Level) *SecureLogger {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindString {
				a.Value = slog.StringValue(RedactString(a.Value.String()))
			}
			return a
		},
	}
	return &SecureLogger{logger: slog.New(slog.NewJSONHandler(w, opts))}
}

func (sl *SecureLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *SecureLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *SecureLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *SecureLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

// LogSecurityEvent logs a security-related event with standard fields
func (sl *SecureLogger) LogSecurityEvent(event string, severity ErrorSeverity, details map[string]any) {
	attrs := []any{
		slog.String("event_type", "security"),
		slog.String("event", event),
		slog.String("severity", severity.String()),
	}
	for k, v := range details {
		attrs = append(attrs, slog.Any(k, v))
	}

	switch severity {
	case SeverityCritical:
		sl.logger.Error("Security event", attrs...)
	case SeverityWarning:
		sl.logger.Warn("Security event", attrs...)
	default:
		sl.logger.Info("Security event", attrs...)
	}
}

// LogAuthEvent logs authentication-related events
func (sl *SecureLogger) LogAuthEvent(operation string, success bool, details map[string]any) {
	attrs := []any{
		slog.String("event_type", "authentication"),
		slog.String("operation", operation),
		slog.Bool("success", success),
	}
	for k, v := range details {
		attrs = append(attrs, slog.Any(k, v))
	}

	if success {
		sl.logger.Info("Authentication event", attrs...)
	} else {
		sl.logger.Warn("Authentication event", attrs...)
	}
}

// LogNetworkEvent logs a completed provider request.
func (sl *SecureLogger) LogNetworkEvent(method, url string, statusCode int, duration string) {
	sl.logger.Info("Network event",
		slog.String("event_type", "network"),
		slog.String("method", method),
		slog.String("url", url),
		slog.Int("status_code", statusCode),
		slog.String("duration", duration),
	)
}

// WithContext returns a logger with additional context fields
func (sl *SecureLogger) WithContext(attrs ...any) *SecureLogger {
	return &SecureLogger{logger: sl.logger.With(attrs...)}
}

// RedactString removes tokens, secrets, OAuth query values and email addresses from input.
func RedactString(input string) string {
	result := input
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			sub := pattern.FindStringSubmatch(match)
			if len(sub) >= 3 {
				return sub[1] + "[REDACTED]"
			}
			return "[REDACTED]"
		})
	}
	return result
}
