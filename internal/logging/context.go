package logging

import (
	"context"
	"log/slog"
)

// ContextKey is a distinct type for context keys used by this package,
// so they cannot collide with raw string keys.
type ContextKey string

const (
	// JobIDKey is the context key under which a job ID is stored.
	JobIDKey ContextKey = "log_job_id"
	// UserIDKey is the context key under which a user ID is stored.
	UserIDKey ContextKey = "log_user_id"
)

// WithJobID returns a copy of ctx carrying the given job ID.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// WithUserID returns a copy of ctx carrying the given user ID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetJobID returns the job ID stored in ctx, or "" if absent or not a string.
func GetJobID(ctx context.Context) string {
	if v, ok := ctx.Value(JobIDKey).(string); ok {
		return v
	}
	return ""
}

// GetUserID returns the user ID stored in ctx, or "" if absent or not a string.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext returns logger enriched with any job ID or user ID attributes
// found in ctx. If ctx is nil or carries neither ID, logger is returned
// unchanged.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if ctx == nil {
		return logger
	}
	var attrs []any
	if jobID := GetJobID(ctx); jobID != "" {
		attrs = append(attrs, slog.String("job_id", jobID))
	}
	if userID := GetUserID(ctx); userID != "" {
		attrs = append(attrs, slog.String("user_id", userID))
	}
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(attrs...)
}
