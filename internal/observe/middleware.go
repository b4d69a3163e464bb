package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// routeLabel maps a request path to one of the routes the metrics server
// exposes. Anything else is "other", so scanners cannot inflate the
// cardinality of the duration histogram.
func routeLabel(path string) string {
	switch path {
	case "/metrics", "/healthz", "/readyz":
		return path
	}
	return "other"
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware wraps the metrics server's handler. Each request gets a server
// span named after its route and a sample in [Metrics.HTTPRequestDuration]
// labelled by route and status. Scrapes and health checks are logged at debug
// level; server errors such as a failing /readyz at warn.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := routeLabel(r.URL.Path)

			ctx, span := StartSpan(r.Context(), "http "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
				),
			)
			defer span.End()

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r.WithContext(ctx))

			elapsed := time.Since(start)
			span.SetAttributes(semconv.HTTPResponseStatusCode(sw.status))
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(Attr("route", route), attribute.Int("status", sw.status)))

			level := slog.LevelDebug
			if sw.status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			Logger(ctx).Log(ctx, level, "observe: http request",
				"method", r.Method,
				"route", route,
				"status", sw.status,
				"elapsed", elapsed,
			)
		})
	}
}
