package services

import "context"

type contextKey string

const (
	loadItemIDKey contextKey = "load_item_id"
	requestIDKey  contextKey = "request_id"
)

// WithLoadItemID annotates context with the load item being worked on.
func WithLoadItemID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, loadItemIDKey, id)
}

// LoadItemIDFromContext extracts the load item identifier if present.
func LoadItemIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(loadItemIDKey).(int64)
	return id, ok
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
