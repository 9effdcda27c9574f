package logging

import (
	"context"
	"log/slog"

	"grabber/internal/services"
)

const (
	// FieldComponent names the subsystem emitting the line.
	FieldComponent = "component"
	// FieldLoadItemID identifies the load item (one movie or episode download).
	FieldLoadItemID = "load_item_id"
	// FieldFileItemID identifies a single file attempt.
	FieldFileItemID = "file_item_id"
	// FieldMovieID identifies the site movie.
	FieldMovieID = "movie_id"
	// FieldDownloadID is the transfer engine id.
	FieldDownloadID = "download_id"
	// FieldEventType classifies a line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests a next step to the operator.
	FieldErrorHint = "error_hint"
	// FieldImpact describes the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldCorrelationID carries the request id of the originating message.
	FieldCorrelationID = "correlation_id"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if id, ok := services.LoadItemIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldLoadItemID, id))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
