package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyRequestID contextKey = "request_id"
	keyUserID    contextKey = "user_id"
	keySessionID contextKey = "session_id"
	keyFeature   contextKey = "feature"
)

// WithRequestID adds the request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestID extracts the request ID from the context.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}

// WithUserID adds the user ID to the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, keyUserID, userID)
}

// UserID extracts the user ID from the context.
func UserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyUserID).(string)
	return v, ok && v != ""
}

// WithSessionID adds the conversation session ID to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, keySessionID, sessionID)
}

// SessionID extracts the conversation session ID from the context.
func SessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keySessionID).(string)
	return v, ok && v != ""
}

// WithFeature adds the requesting feature name to the context.
func WithFeature(ctx context.Context, feature string) context.Context {
	return context.WithValue(ctx, keyFeature, feature)
}

// Feature extracts the requesting feature name from the context.
func Feature(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyFeature).(string)
	return v, ok && v != ""
}
