package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger provides structured logging with run correlation and sensitive
// data redaction.
//
// Built on Go's slog package, it supports:
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - JSON output for production, text for development
//   - Automatic trace/tenant correlation from context
//   - Redaction of secrets (API keys, bearer tokens) in log values
type Logger struct {
	logger  *slog.Logger
	redacts []*regexp.Regexp
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format specifies output format: "json" or "text".
	Format string

	// Output is the writer for log output (defaults to os.Stdout).
	Output io.Writer

	// RedactPatterns are additional regex patterns for sensitive data redaction.
	RedactPatterns []string
}

type contextKey string

const (
	// TraceIDKey is the context key carrying the current run's trace ID.
	TraceIDKey contextKey = "trace_id"

	// TenantIDKey is the context key carrying the current tenant ID.
	TenantIDKey contextKey = "tenant_id"

	// SourceKey is the context key carrying the inbound channel source.
	SourceKey contextKey = "source"
)

// DefaultRedactPatterns covers common secret shapes.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`,
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	`sk-[a-zA-Z0-9]{48,}`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// NewLogger creates a structured logger.
//
// If config.Output is nil, logs go to os.Stdout. Level defaults to "info",
// format to "json".
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(config.Format) == "text" {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	patterns := append([]string{}, DefaultRedactPatterns...)
	patterns = append(patterns, config.RedactPatterns...)
	redacts := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{
		logger:  slog.New(handler),
		redacts: redacts,
	}
}

// Slog returns the underlying slog.Logger for components that take one directly.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

// WithContext returns a slog.Logger enriched with correlation attributes
// found in ctx (trace_id, tenant_id, source).
func (l *Logger) WithContext(ctx context.Context) *slog.Logger {
	logger := l.logger
	if v, ok := ctx.Value(TraceIDKey).(string); ok && v != "" {
		logger = logger.With("trace_id", v)
	}
	if v, ok := ctx.Value(TenantIDKey).(string); ok && v != "" {
		logger = logger.With("tenant_id", v)
	}
	if v, ok := ctx.Value(SourceKey).(string); ok && v != "" {
		logger = logger.With("source", v)
	}
	return logger
}

// Redact masks secret-shaped substrings in s.
func (l *Logger) Redact(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// Debug logs at debug level with context correlation and value redaction.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Debug(msg, l.redactArgs(args)...)
}

// Info logs at info level with context correlation and value redaction.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Info(msg, l.redactArgs(args)...)
}

// Warn logs at warn level with context correlation and value redaction.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Warn(msg, l.redactArgs(args)...)
}

// Error logs at error level with context correlation and value redaction.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Error(msg, l.redactArgs(args)...)
}

func (l *Logger) redactArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if s, ok := a.(string); ok && i%2 == 1 {
			out[i] = l.Redact(s)
			continue
		}
		out[i] = a
	}
	return out
}

// WithTraceID stores a trace ID in the context for log correlation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithTenantID stores a tenant ID in the context for log correlation.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// WithSource stores the inbound channel source in the context.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, SourceKey, source)
}
