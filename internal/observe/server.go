package observe

import (
	"net/http"
	"time"

	"github.com/MrWong99/doppelganger/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMetricsServer returns an HTTP server on addr that exposes g at /metrics
// plus the endpoints of [health.Handler], with checks backing /readyz. A nil g
// serves the default Prometheus registry. Requests pass through
// [Middleware].
func NewMetricsServer(addr string, g prometheus.Gatherer, m *Metrics, checks ...health.Checker) *http.Server {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	health.New(checks).Register(mux)
	return &http.Server{
		Addr:              addr,
		Handler:           Middleware(m)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
