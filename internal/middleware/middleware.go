package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gfxtelemetry/bigquery-shim/internal/telem"

	"contrib.go.opencensus.io/exporter/stackdriver/propagation"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	kitlog "github.com/go-kit/kit/log"
	"go.opencensus.io/plugin/ochttp"
	"go.opencensus.io/trace"
	httpmw "goa.design/goa/v3/http/middleware"
	"goa.design/goa/v3/middleware"
)

// ObserveHTTP configures a standard HTTP o11y stack. The handler wrappers are run in
// reverse order that they are applied, which means we have to 'wrap' our custom behaviour
// before any of the vendor middleware that it depends on.
func ObserveHTTP(logger kitlog.Logger) func(h http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		h = observeHTTP(logger)(h)

		// Initialises a Sentry hub for the request, if Sentry is configured
		h = sentryhttp.New(sentryhttp.Options{
			Repanic: true,
		}).Handle(h)

		// Stash a request ID in the context, taken from the X-Request-Id header or
		// generated when absent
		h = httpmw.RequestID(
			httpmw.UseXRequestIDHeaderOption(true),
			httpmw.XRequestHeaderLimitOption(128),
		)(h)

		h = &ochttp.Handler{
			Handler: h,
			// Use the Google propagation format, as this is what most of our services will use.
			Propagation: &propagation.HTTPFormat{},
			// Filter traces for the health check, or we start sending a lot of traces!
			IsHealthEndpoint: func(r *http.Request) bool {
				return strings.HasPrefix(r.URL.Path, "/health/check")
			},
		}

		return h
	}
}

// observeHTTP should only be called from ObserveHTTP, as that configures the required
// dependencies that need to run before we hit this handler.
func observeHTTP(logger kitlog.Logger) func(h http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := ctx.Value(middleware.RequestIDKey)
			if requestID == nil {
				requestID = "unknown"
			}

			logger := kitlog.With(logger, "request_id", requestID)
			if span := trace.FromContext(ctx); span != nil {
				logger = kitlog.With(logger, "trace_id", span.SpanContext().TraceID)
			}

			// Stash the logger into the context, so any downstream code can access it
			r = r.WithContext(telem.WithLogger(ctx, logger))

			started := time.Now()
			rw := httpmw.CaptureResponse(w)
			h.ServeHTTP(rw, r)

			if rw.StatusCode >= http.StatusInternalServerError {
				if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
					hub.Scope().SetTag("request_id", fmt.Sprintf("%v", requestID))
					if eventID := hub.CaptureMessage(http.StatusText(rw.StatusCode)); eventID != nil {
						logger.Log("event", "capture_message", "event_id", *eventID)
					}
				}
			}

			logger.Log(
				"event", "http_request",
				"http_method", r.Method,
				"http_path", r.URL.Path,
				"http_status", rw.StatusCode,
				"http_bytes", rw.ContentLength,
				"http_duration", time.Since(started).Seconds(),
			)
		})
	}
}
