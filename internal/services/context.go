package services

import "context"

// Context keys use unexported types so packages cannot collide with them.
type (
	itemIDCtxKey    struct{}
	stageCtxKey     struct{}
	sceneCtxKey     struct{}
	requestIDCtxKey struct{}
)

// WithItemID records the queue item being processed.
func WithItemID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, itemIDCtxKey{}, id)
}

// ItemIDFromContext returns the queue item identifier, if recorded.
func ItemIDFromContext(ctx context.Context) (int64, bool) {
	switch val := ctx.Value(itemIDCtxKey{}).(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	}
	return 0, false
}

// WithStage records the pipeline stage currently executing.
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, stageCtxKey{}, stage)
}

// StageFromContext returns the executing stage name, if recorded.
func StageFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, stageCtxKey{})
}

// WithScene records the scene slug whose assets are being generated.
func WithScene(ctx context.Context, scene string) context.Context {
	return withString(ctx, sceneCtxKey{}, scene)
}

// SceneFromContext returns the scene slug, if recorded.
func SceneFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, sceneCtxKey{})
}

// WithRequestID records a correlation identifier for external calls.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDCtxKey{}, id)
}

// RequestIDFromContext returns the correlation identifier, if recorded.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestIDCtxKey{})
}

func withString(ctx context.Context, key any, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key any) (string, bool) {
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
