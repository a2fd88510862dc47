package logging

import (
	"context"
	"io"
	"log"
	"os"
)

type logCtxKey int

const logCtx logCtxKey = 0
const logFlags = log.LstdFlags | log.Lmicroseconds

func Logger(ctx context.Context) *log.Logger {
	if logger, ok := ctx.Value(logCtx).(*log.Logger); ok {
		return logger
	}
	return log.New(os.Stdout, "[???] ", logFlags)
}

func LoggingContext(ctx context.Context, w io.Writer, prefix string) context.Context {
	logger := log.New(w, prefix, logFlags)
	return context.WithValue(ctx, logCtx, logger)
}

// Discard returns a context whose logger drops everything. Tests use it to
// keep output quiet.
func Discard(ctx context.Context) context.Context {
	return LoggingContext(ctx, io.Discard, "")
}

// WithLogger attaches the logger already carried by from to ctx.
func WithLogger(ctx, from context.Context) context.Context {
	if logger, ok := from.Value(logCtx).(*log.Logger); ok {
		return context.WithValue(ctx, logCtx, logger)
	}
	return ctx
}
