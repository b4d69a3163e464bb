package observe

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultServiceName is reported when [ProviderConfig.ServiceName] is empty.
const DefaultServiceName = "doppelganger"

// ProviderConfig configures [InitProvider].
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string

	// Attributes are extra resource attributes such as
	// deployment.environment.
	Attributes map[string]string

	// TraceExporter receives finished spans. Nil records spans without
	// exporting them.
	TraceExporter sdktrace.SpanExporter
}

// Resource describes this process to OpenTelemetry. Attributes are added in
// key order after service.name and service.version.
func (c ProviderConfig) Resource() *resource.Resource {
	name := c.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if c.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(c.ServiceVersion))
	}
	for _, k := range slices.Sorted(maps.Keys(c.Attributes)) {
		attrs = append(attrs, attribute.String(k, c.Attributes[k]))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// Telemetry owns the SDK providers installed by [InitProvider].
type Telemetry struct {
	registry *prometheus.Registry
	shutdown []func(context.Context) error
}

// Gatherer returns the registry holding the pipeline metrics and the Go
// runtime and process collectors.
func (t *Telemetry) Gatherer() prometheus.Gatherer {
	return t.registry
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

// InitProvider installs global meter and tracer providers. Metrics go to a
// private Prometheus registry served by [NewMetricsServer].
func InitProvider(_ context.Context, cfg ProviderConfig) (*Telemetry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}

	res := cfg.Resource()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp))
	otel.SetMeterProvider(mp)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	return &Telemetry{registry: reg, shutdown: []func(context.Context) error{mp.Shutdown, tp.Shutdown}}, nil
}
