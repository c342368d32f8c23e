package core

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

type loggerCtxKey struct{}

var baseLogger = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.WarnLevel)

// WithLogger returns a context carrying l, retrievable via Logger(ctx).
// Used by the client facade to bind a per-call logger (e.g. with
// client_request_id already attached) before invoking the pipeline and
// policy engine.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, l)
}

// Logger returns the zerolog.Logger bound to ctx, or the package default
// logger (stderr, warn level unless SetLevel changed it) if none was bound.
// The debug-level dropped-parameter logging named in §4.1 goes through
// this; unknown frames dropped by the pipeline (§4.2) are not logged or
// counted.
func Logger(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(zerolog.Logger); ok {
		return l
	}
	return baseLogger
}

// SetLevel adjusts the package default logger's level; intended for CLI
// --verbose wiring, not for use by library callers embedding conduit.
func SetLevel(level zerolog.Level) {
	baseLogger = baseLogger.Level(level)
}
