package logging

import "context"

type fieldsKey struct{}

// WithFields returns a context whose log lines carry the given key/value
// pairs in addition to the fields already attached to ctx. The orchestrator
// attaches the batch id this way so every service touched by a batch logs it.
func WithFields(ctx context.Context, args ...any) context.Context {
	if len(args) == 0 {
		return ctx
	}
	prev := Fields(ctx)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(merged, prev...)
	merged = append(merged, args...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// Fields returns the key/value pairs attached to ctx, oldest first.
func Fields(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(fieldsKey{}).([]any)
	return f
}
