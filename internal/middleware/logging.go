// Package middleware holds the HTTP middleware shared by every route
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"claim-enricher/internal/common/logging"
)

// RequestIDHeader carries the correlation id in and out of the service
const RequestIDHeader = "X-Request-ID"

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RequestID reuses the caller's X-Request-ID or generates one, echoes it on
// the response and stores it in the request context for the logger.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

// LoggingMiddleware logs all HTTP requests with method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		// BearerAuth fills the slot further down the chain
		r = r.WithContext(context.WithValue(r.Context(), callerKey{}, new(string)))
		next.ServeHTTP(wrapped, r)

		fields := []logging.Field{
			{Key: "method", Value: r.Method},
			{Key: "path", Value: r.URL.Path},
			{Key: "status", Value: wrapped.statusCode},
			{Key: "duration_ms", Value: time.Since(start).Milliseconds()},
			{Key: "remote_addr", Value: r.RemoteAddr},
		}

		if ua := r.Header.Get("User-Agent"); ua != "" {
			fields = append(fields, logging.Field{Key: "user_agent", Value: ua})
		}

		if caller := CallerFromContext(r.Context()); caller != "" {
			fields = append(fields, logging.Field{Key: "caller", Value: caller})
		}

		logger := logging.WithContext(r.Context())
		if wrapped.statusCode >= 500 {
			logger.Error("HTTP request completed", nil, fields...)
		} else if wrapped.statusCode >= 400 {
			logger.Warn("HTTP request completed", fields...)
		} else {
			logger.Info("HTTP request completed", fields...)
		}
	})
}
