package logger

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/arvelin/wg-provision/internal/shared/errors"
)

// Logger wraps slog.Logger with domain-specific helpers while staying thin
type Logger struct {
	*slog.Logger
	config Config
}

// Level represents the logging level
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format represents the log output format
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config holds configuration for the logger
type Config struct {
	Level      Level  `mapstructure:"level"`
	Format     Format `mapstructure:"format"`
	AddSource  bool   `mapstructure:"add_source"`
	Component  string `mapstructure:"component"`
	TimeFormat string `mapstructure:"time_format"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Format:     FormatText,
		AddSource:  false,
		Component:  "wg-provision",
		TimeFormat: time.RFC3339,
	}
}

// New creates a new logger with the provided configuration
func New(config Config) *Logger {
	level := parseLevel(config.Level)
	handler := createHandler(config, level)

	return &Logger{
		Logger: slog.New(handler),
		config: config,
	}
}

// NewDevelopment creates a logger optimized for development
func NewDevelopment(component string) *Logger {
	return New(Config{
		Level:      LevelDebug,
		Format:     FormatText,
		AddSource:  true,
		Component:  component,
		TimeFormat: time.Kitchen,
	})
}

// Context keys for structured logging
type contextKey string

const (
	OperationIDKey contextKey = "operation_id"
	UsernameKey    contextKey = "username"
	OperationKey   contextKey = "operation"
)

// With returns a new logger with additional attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
	}
}

// WithComponent returns a logger scoped to a sub-component
func (l *Logger) WithComponent(name string) *Logger {
	cfg := l.config
	cfg.Component = name
	return &Logger{
		Logger: l.Logger,
		config: cfg,
	}
}

// WithContext extracts logging context and returns a scoped logger
func (l *Logger) WithContext(ctx context.Context) *Logger {
	attrs := extractContextAttrs(ctx)
	attrs = append(attrs, slog.String("component", l.config.Component))

	return &Logger{
		Logger: l.Logger.With(attrsToAny(attrs)...),
		config: l.config,
	}
}

// Unwrap returns the underlying slog.Logger for direct access
func (l *Logger) Unwrap() *slog.Logger {
	return l.Logger
}

// ErrorCtx logs an error with automatic context enrichment. Domain errors
// contribute their code, domain, retryability, and metadata as attributes.
func (l *Logger) ErrorCtx(ctx context.Context, msg string, err error, args ...any) {
	attrs := []any{slog.String("error", err.Error())}

	if domainErr, ok := err.(errors.DomainError); ok {
		attrs = append(attrs,
			slog.String("error_domain", domainErr.Domain()),
			slog.String("error_code", domainErr.Code()),
			slog.Bool("retryable", domainErr.Retryable()),
		)

		if metadata := domainErr.Metadata(); len(metadata) > 0 {
			for k, v := range metadata {
				attrs = append(attrs, slog.Any(k, v))
			}
		}
	}

	attrs = append(attrs, args...)
	l.WithContext(ctx).Error(msg, attrs...)
}

// InfoContext logs at Info level with context enrichment
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Info(msg, args...)
}

// DebugContext logs at Debug level with context enrichment
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Debug(msg, args...)
}

// WarnContext logs at Warn level with context enrichment
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Warn(msg, args...)
}

// Helper functions

func parseLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func createHandler(config Config, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}

	switch config.Format {
	case FormatText:
		return tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: config.TimeFormat,
			AddSource:  config.AddSource,
		})
	default:
		return slog.NewJSONHandler(os.Stderr, opts)
	}
}

func extractContextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr

	contextKeys := []contextKey{OperationIDKey, UsernameKey, OperationKey}
	for _, key := range contextKeys {
		if val, ok := ctx.Value(key).(string); ok && val != "" {
			attrs = append(attrs, slog.String(string(key), val))
		}
	}

	return attrs
}

func attrsToAny(attrs []slog.Attr) []any {
	result := make([]any, len(attrs))
	for i, attr := range attrs {
		result[i] = attr
	}
	return result
}

// Context helper functions

// WithOperationID attaches a unique operation id to the context
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, OperationIDKey, id)
}

// WithUsername attaches the target username to the context
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, UsernameKey, username)
}

// GetOperationID retrieves the operation id from context
func GetOperationID(ctx context.Context) string {
	if val, ok := ctx.Value(OperationIDKey).(string); ok {
		return val
	}
	return ""
}
