package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	// LogFieldRequestID is the field name for request ID.
	LogFieldRequestID = "request_id"
	// LogFieldUserID is the field name for user ID.
	LogFieldUserID = "user_id"
	// LogFieldRoute is the field name for the matched route.
	LogFieldRoute = "route"
	// LogFieldSessionID is the field name for edit session ID.
	LogFieldSessionID = "session_id"
	// LogFieldConversationID is the field name for conversation ID.
	LogFieldConversationID = "conversation_id"
	// LogFieldDuration is the field name for duration in milliseconds.
	LogFieldDuration = "duration_ms"
	// LogFieldStatus is the field name for the response status.
	LogFieldStatus = "status"
	// LogFieldErrorCode is the field name for error code.
	LogFieldErrorCode = "error_code"
)

// RequestContext represents the context for a single request with structured logging.
type RequestContext struct {
	RequestID      string
	UserID         int32
	Route          string
	SessionID      int32
	ConversationID int32
	StartTime      time.Time
	Logger         *slog.Logger
}

// NewRequestContext creates a new request context with a generated request ID.
func NewRequestContext(logger *slog.Logger, route string, userID int32) *RequestContext {
	return NewRequestContextWithID(logger, generateRequestID(), route, userID)
}

// NewRequestContextWithID creates a new request context with a specific request ID.
func NewRequestContextWithID(logger *slog.Logger, requestID, route string, userID int32) *RequestContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestContext{
		RequestID: requestID,
		UserID:    userID,
		Route:     route,
		StartTime: time.Now(),
		Logger:    logger,
	}
}

// Info logs an info message.
func (r *RequestContext) Info(msg string, attrs ...slog.Attr) {
	r.Logger.LogAttrs(context.Background(), slog.LevelInfo, msg, r.baseAttrsAppended(attrs...)...)
}

// Debug logs a debug message.
func (r *RequestContext) Debug(msg string, attrs ...slog.Attr) {
	r.Logger.LogAttrs(context.Background(), slog.LevelDebug, msg, r.baseAttrsAppended(attrs...)...)
}

// Warn logs a warning message.
func (r *RequestContext) Warn(msg string, attrs ...slog.Attr) {
	r.Logger.LogAttrs(context.Background(), slog.LevelWarn, msg, r.baseAttrsAppended(attrs...)...)
}

// Error logs an error message with the error.
func (r *RequestContext) Error(msg string, err error, attrs ...slog.Attr) {
	allAttrs := append(attrs, slog.String("error", err.Error()))
	r.Logger.LogAttrs(context.Background(), slog.LevelError, msg, r.baseAttrsAppended(allAttrs...)...)
}

// Duration returns the elapsed time since the request started.
func (r *RequestContext) Duration() time.Duration {
	return time.Since(r.StartTime)
}

// DurationMs returns the elapsed time in milliseconds.
func (r *RequestContext) DurationMs() int64 {
	return r.Duration().Milliseconds()
}

// baseAttrs returns the base attributes. Session and conversation ids are
// only present once a handler resolved them.
func (r *RequestContext) baseAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String(LogFieldRequestID, r.RequestID),
		slog.Int64(LogFieldUserID, int64(r.UserID)),
		slog.String(LogFieldRoute, r.Route),
	}
	if r.SessionID != 0 {
		attrs = append(attrs, slog.Int64(LogFieldSessionID, int64(r.SessionID)))
	}
	if r.ConversationID != 0 {
		attrs = append(attrs, slog.Int64(LogFieldConversationID, int64(r.ConversationID)))
	}
	return attrs
}

func (r *RequestContext) baseAttrsAppended(attrs ...slog.Attr) []slog.Attr {
	return append(r.baseAttrs(), attrs...)
}

// generateRequestID generates a unique request ID using full UUID.
func generateRequestID() string {
	return uuid.New().String()
}

type ctxKey struct{}

// WithRequestContext adds the request context to the context.
func WithRequestContext(ctx context.Context, reqCtx *RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, reqCtx)
}

// FromContext extracts the request context from the context.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	reqCtx, ok := ctx.Value(ctxKey{}).(*RequestContext)
	return reqCtx, ok
}
