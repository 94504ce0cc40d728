package services

import "context"

type contextKey string

const (
	dreamIDKey   contextKey = "dream_id"
	segmentIDKey contextKey = "segment_id"
	checkInIDKey contextKey = "checkin_id"
	stageKey     contextKey = "stage"
	requestIDKey contextKey = "request_id"
)

// WithDreamID annotates context with the dream identifier.
func WithDreamID(ctx context.Context, id string) context.Context {
	return withString(ctx, dreamIDKey, id)
}

// DreamIDFromContext extracts the dream identifier if present.
func DreamIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, dreamIDKey)
}

// WithSegmentID annotates context with the segment identifier.
func WithSegmentID(ctx context.Context, id string) context.Context {
	return withString(ctx, segmentIDKey, id)
}

// SegmentIDFromContext extracts the segment identifier if present.
func SegmentIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, segmentIDKey)
}

// WithCheckInID annotates context with the check-in identifier.
func WithCheckInID(ctx context.Context, id string) context.Context {
	return withString(ctx, checkInIDKey, id)
}

// CheckInIDFromContext extracts the check-in identifier if present.
func CheckInIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, checkInIDKey)
}

// WithStage annotates context with the enrichment stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, stageKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestIDKey)
}

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
