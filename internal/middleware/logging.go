// Package middleware provides shared HTTP middleware utilities.
package middleware

import (
	"context"
	"net/http"
	"time"

	"ilpsdk/pkg/logger"
	"ilpsdk/pkg/metrics"

	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 64
)

type requestIDKey struct{}

// RequestID tags the request with the caller's X-Request-ID, or a fresh one
// when it is missing or not a plain token, and echoes it in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestIDFromContext returns the id set by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

// LoggingMiddleware logs every request and records it in the request metrics.
type LoggingMiddleware struct {
	logger  logger.Logger
	metrics *metrics.Metrics
}

// NewLoggingMiddleware constructs a LoggingMiddleware. m may be nil.
func NewLoggingMiddleware(log logger.Logger, m *metrics.Metrics) *LoggingMiddleware {
	return &LoggingMiddleware{logger: log, metrics: m}
}

// Log wraps handlers with structured request/response logging.
func (m *LoggingMiddleware) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		elapsed := time.Since(start)
		if m.metrics != nil {
			m.metrics.Request(r.Method, wrapped.statusCode, elapsed)
		}
		m.logger.Info("HTTP Request", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": elapsed.Milliseconds(),
			"ip":          r.RemoteAddr,
			"request_id":  RequestIDFromContext(r.Context()),
		})
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
