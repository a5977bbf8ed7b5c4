package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"spendly/internal/log"
)

// ContextKey type for context keys
type ContextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey ContextKey = "request_id"

	// RequestIDHeader is echoed back so clients can quote it in reports
	RequestIDHeader = "X-Request-ID"
)

// Middleware handles request tracing and logging
type Middleware struct {
	extractIP  func(*http.Request) string
	logger     *log.Logger
	structured *log.StructuredLogger
	metrics    *Metrics
}

// Metrics tracks request metrics
type Metrics struct {
	TotalRequests       int64
	AverageResponseTime int64 // in microseconds
}

// NewMiddleware creates a new trace middleware
func NewMiddleware(logger *log.Logger, extractIP func(*http.Request) string) *Middleware {
	logger = logger.WithComponent(log.ComponentHTTP)
	return &Middleware{
		extractIP:  extractIP,
		logger:     logger,
		structured: log.NewStructuredLogger(logger),
		metrics:    &Metrics{},
	}
}

// Middleware returns HTTP middleware for request tracing. Handlers find a
// request-scoped logger with log.FromContext.
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := ""
		if m.extractIP != nil {
			clientIP = m.extractIP(r)
		}

		requestID := GenerateRequestID()
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		ctx = log.NewContext(ctx, m.logger.With(log.FieldRequestID, requestID))
		r = r.WithContext(ctx)
		w.Header().Set(RequestIDHeader, requestID)

		m.structured.LogHTTPStart(ctx, r, requestID, clientIP)
		atomic.AddInt64(&m.metrics.TotalRequests, 1)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		durationMs := time.Since(start).Milliseconds()
		atomic.StoreInt64(&m.metrics.AverageResponseTime, durationMs*1000)

		m.structured.LogHTTPEnd(ctx, r, requestID, rw.statusCode, durationMs, clientIP)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	wrote      bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wrote {
		rw.statusCode = code
		rw.wrote = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wrote = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach Flush on the real writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// GenerateRequestID creates a unique request ID for tracing
func GenerateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetMetrics returns current metrics
func (m *Middleware) GetMetrics() Metrics {
	return Metrics{
		TotalRequests:       atomic.LoadInt64(&m.metrics.TotalRequests),
		AverageResponseTime: atomic.LoadInt64(&m.metrics.AverageResponseTime),
	}
}
