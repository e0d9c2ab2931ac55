// Package ctxkeys holds the context keys shared between the HTTP layer and
// the request loggers, so neither imports the other for a string.
package ctxkeys

import "context"

type contextKey string

const (
	requestIDKey    contextKey = "request_id"
	experimentIDKey contextKey = "experiment_id"
)

// WithRequestID attaches the per-request correlation ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID reads the correlation ID, if one was attached.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithExperimentID attaches the experiment a request operates on.
func WithExperimentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, experimentIDKey, id)
}

// ExperimentID reads the experiment ID, if one was attached.
func ExperimentID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(experimentIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
