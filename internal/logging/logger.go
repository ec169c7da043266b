// Package logging defines the structured-logging interface used across
// treevault and its log/slog implementation. Fields attached to a context
// with WithFields are added to every line logged with that context.
package logging

import "context"

// Logger takes a message and key/value pairs:
//
//	log.Info(ctx, "uploaded", "blob", key, "node", node.ID)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given pairs.
	With(args ...any) Logger
}
