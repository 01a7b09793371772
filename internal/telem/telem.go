package telem

import (
	"context"

	kitlog "github.com/go-kit/kit/log"
	"go.opencensus.io/trace"
)

// ctxKey namespaces values stored in a context by this package.
type ctxKey string

const loggerKey = ctxKey("LoggerKey")

// WithLogger stashes a logger in the context, for retrieval with LoggerFrom.
func WithLogger(ctx context.Context, logger kitlog.Logger, keyvals ...interface{}) context.Context {
	if len(keyvals) > 0 {
		logger = kitlog.With(logger, keyvals...)
	}

	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFrom returns the context logger, decorated with keyvals. If no logger was
// stashed we return a no-op logger, so library code can log unconditionally.
func LoggerFrom(ctx context.Context, keyvals ...interface{}) kitlog.Logger {
	logger, ok := ctx.Value(loggerKey).(kitlog.Logger)
	if !ok {
		logger = kitlog.NewNopLogger()
	}

	if len(keyvals) > 0 {
		logger = kitlog.With(logger, keyvals...)
	}

	return logger
}

// StartSpan opens a span and returns a logger decorated with its trace ID. The new logger
// is stashed in the returned context, so anything called beneath it logs the same ID.
//
//	ctx, span, logger := telem.StartSpan(ctx, "pkg/bigquery/Client.Query")
//	defer span.End()
func StartSpan(ctx context.Context, name string) (context.Context, *trace.Span, kitlog.Logger) {
	ctx, span, logger := Logger(ctx, LoggerFrom(ctx))(trace.StartSpan(ctx, name))
	return WithLogger(ctx, logger), span, logger
}

// Logger can be used to tie logs to an on-going span. It is intended to wrap a
// trace.StartSpan call, like so:
//
//	telem.Logger(ctx, logger)(trace.StartSpan(ctx, "pkg/dashboard.Publisher.Publish"))
//
// The logs will be decorated with a trace_id. Root context is provided to avoid doubly
// annotating the trace ID onto the same logger.
func Logger(rootCtx context.Context, logger kitlog.Logger) func(context.Context, *trace.Span) (context.Context, *trace.Span, kitlog.Logger) {
	return func(ctx context.Context, span *trace.Span) (context.Context, *trace.Span, kitlog.Logger) {
		// If the root context already has a trace, assume our logger has been tagged and do
		// nothing.
		if trace.FromContext(rootCtx) != nil {
			return ctx, span, logger
		}

		// If there's no span, we can assume no tracing is configured. No point annotating the
		// logger with a nil trace ID.
		if span == nil {
			return ctx, span, logger
		}

		return ctx, span, kitlog.With(logger,
			"trace_id", span.SpanContext().TraceID)
	}
}
