package observability

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const loggerCtxKey ctxKey = "relaycore.logger"

// WithLogger attaches a turn-scoped logger (already carrying turnId/userId/
// sessionId fields) to ctx, so every stage can pull a consistently tagged
// logger without threading it through every function signature.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey, l)
}

// LoggerFrom returns the turn-scoped logger if one was attached, otherwise
// the global logger.
func LoggerFrom(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerCtxKey).(zerolog.Logger); ok {
			return &l
		}
	}
	l := log.Logger
	return &l
}
