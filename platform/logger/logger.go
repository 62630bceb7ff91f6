// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

// RequestIDKey is the context key for request ID
const RequestIDKey contextKey = "request_id"

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	return NewWithWriter(env, os.Stdout)
}

// NewWithWriter creates a logger that writes to w. Tests pass io.Discard.
func NewWithWriter(env string, w io.Writer) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return NewWithWriter("production", io.Discard)
}

// WithContext returns a logger carrying the request_id stored in ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		return l.WithRequestID(requestID)
	}
	return l
}

// WithRequestID returns a logger with request ID
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("request_id", requestID)),
	}
}

// WithCallID returns a logger scoped to one voice call.
func (l *Logger) WithCallID(callID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("call_id", callID)),
	}
}

// WithLead returns a logger scoped to one ledger row.
func (l *Logger) WithLead(leadID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("lead_id", leadID)),
	}
}

// WithBuyer returns a logger scoped to one roster position.
func (l *Logger) WithBuyer(buyerIndex int) *Logger {
	return &Logger{
		Logger: l.With(slog.Int("buyer_index", buyerIndex)),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// LeadTransition logs a committed ledger status change.
func (l *Logger) LeadTransition(leadID, from, to string) {
	l.Info("lead_transition",
		slog.String("lead_id", leadID),
		slog.String("from", from),
		slog.String("to", to),
	)
}

// RateLimitExceeded logs rate limit events
func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", clientIP),
		slog.String("path", path),
	)
}
