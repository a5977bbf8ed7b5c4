package log

import (
	"context"
	"log/slog"
	"net/http"
)

// ContextKey type for context keys
type ContextKey string

const (
	// LoggerContextKey is the context key for the logger
	LoggerContextKey ContextKey = "logger"
)

// NewContext returns a copy of ctx carrying logger.
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// FromContext extracts a logger from the request context
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	return &Logger{
		Logger:    slog.Default(),
		component: "unknown",
	}
}

// StructuredLogger provides structured logging methods with context awareness
type StructuredLogger struct {
	logger *Logger
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

// LogHTTPStart logs the start of an HTTP request
func (sl *StructuredLogger) LogHTTPStart(ctx context.Context, r *http.Request, requestID, clientIP string) {
	fields := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent")).
		WithRequestID(requestID).
		WithClientIP(clientIP)

	sl.logger.DebugContext(ctx, "HTTP request started", fields.ToSlice()...)
}

// LogHTTPEnd logs the completion of an HTTP request; the level follows the status class
func (sl *StructuredLogger) LogHTTPEnd(ctx context.Context, r *http.Request, requestID string, statusCode int, durationMs int64, clientIP string) {
	level := slog.LevelInfo
	if statusCode >= 400 && statusCode < 500 {
		level = slog.LevelWarn
	} else if statusCode >= 500 {
		level = slog.LevelError
	}

	fields := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, "").
		WithHTTPResponse(statusCode, durationMs).
		WithRequestID(requestID).
		WithClientIP(clientIP).
		WithComponent(sl.logger.component)

	sl.logger.Logger.Log(ctx, level, "HTTP request completed", fields.ToSlice()...)
}
