// Package observability wires OpenTelemetry traces and metrics for the gate,
// the ledger writer and the chain verifier.
//
// When disabled, every instrument is backed by the global no-op providers so
// callers never need nil checks.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "helm.gate"

// Config configures the OpenTelemetry providers. OTLPEndpoint is a gRPC
// host:port; SampleRate is clamped to [0, 1].
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns the defaults used when no config is supplied.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "helm-gate",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
	}
}

// Option customises a Provider.
type Option func(*Provider)

// WithMeterProvider routes metrics to mp instead of the global provider.
// Tests use it with a manual reader.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(p *Provider) { p.meterOverride = mp }
}

// Provider owns the trace and metric providers and the instruments recorded
// by the gate and ledger.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	meterOverride  metric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	requestCounter   metric.Int64Counter
	errorCounter     metric.Int64Counter
	durationHist     metric.Float64Histogram
	activeOperations metric.Int64UpDownCounter

	gateDecisions  metric.Int64Counter
	ledgerAppends  metric.Int64Counter
	verifyFailures metric.Int64Counter
	unknownReasons metric.Int64Counter
	signalFailures metric.Int64Counter
}

// New creates a provider. A nil config means DefaultConfig.
func New(ctx context.Context, config *Config, opts ...Option) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	for _, opt := range opts {
		opt(p)
	}

	if config.Enabled {
		res, err := resource.Merge(
			resource.Default(),
			resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
				semconv.DeploymentEnvironment(config.Environment),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
		if err := p.initTraceProvider(ctx, res); err != nil {
			return nil, fmt.Errorf("failed to init trace provider: %w", err)
		}
		if p.meterOverride == nil {
			if err := p.initMetricProvider(ctx, res); err != nil {
				return nil, fmt.Errorf("failed to init metric provider: %w", err)
			}
		}
		p.logger.InfoContext(ctx, "observability initialized",
			"service", config.ServiceName,
			"environment", config.Environment,
			"endpoint", config.OTLPEndpoint,
			"sample_rate", config.SampleRate,
		)
	} else {
		p.logger.DebugContext(ctx, "observability disabled")
	}

	p.tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(config.ServiceVersion))
	if p.meterOverride != nil {
		p.meter = p.meterOverride.Meter(instrumentationName)
	} else {
		p.meter = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(config.ServiceVersion))
	}

	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&p.requestCounter, "helm_gate.operations.total", "Operations started", "{operation}"},
		{&p.errorCounter, "helm_gate.errors.total", "Operations that returned an error", "{error}"},
		{&p.gateDecisions, "helm_gate.gate.decisions", "Gate decisions by readiness and verdict", "{decision}"},
		{&p.ledgerAppends, "helm_gate.ledger.appends", "Ledger appends by outcome", "{event}"},
		{&p.verifyFailures, "helm_gate.ledger.verify_failures", "Chain verifications that found a violation", "{violation}"},
		{&p.unknownReasons, "helm_gate.reason_codes.unknown", "Reason codes quarantined as unknown", "{code}"},
		{&p.signalFailures, "helm_gate.signals.failures", "Readiness signal fetches that failed", "{failure}"},
	}
	for _, c := range counters {
		*c.dst, err = p.meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return err
		}
	}

	p.durationHist, err = p.meter.Float64Histogram("helm_gate.operation.duration",
		metric.WithDescription("Operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		return err
	}
	p.activeOperations, err = p.meter.Int64UpDownCounter("helm_gate.operations.active",
		metric.WithDescription("Operations in flight"),
		metric.WithUnit("{operation}"),
	)
	return err
}

// Shutdown flushes and stops the providers this package created.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

func (p *Provider) Tracer() trace.Tracer { return p.tracer }
func (p *Provider) Meter() metric.Meter  { return p.meter }

// TrackOperation starts a span and the RED instruments for name. Call the
// returned function exactly once with the operation's error.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if p == nil {
		return ctx, func(error) {}
	}
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	opAttrs := append([]attribute.KeyValue{AttrOperation.String(name)}, attrs...)
	set := metric.WithAttributes(opAttrs...)
	p.activeOperations.Add(ctx, 1, set)
	p.requestCounter.Add(ctx, 1, set)

	return ctx, func(err error) {
		p.activeOperations.Add(ctx, -1, set)
		p.durationHist.Record(ctx, time.Since(start).Seconds(), set)
		if err != nil {
			span.RecordError(err)
			errAttrs := append(opAttrs, attribute.String("error.type", fmt.Sprintf("%T", err)))
			p.errorCounter.Add(ctx, 1, metric.WithAttributes(errAttrs...))
		}
		span.End()
	}
}
