package observability

import (
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	meterNoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	traceNoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultMessagingSystem is reported as messaging.system on every span.
	DefaultMessagingSystem = "ackq"
	// DefaultInstrumentationVersion is the version of the tracer and meter scopes.
	DefaultInstrumentationVersion = "1.0.0"
)

// DefaultDurationBuckets are the histogram bounds, in seconds, of the duration metrics.
// They reach up to the longest ack timeouts a session is usually configured with.
var DefaultDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300}

// Config holds the observability settings shared by the sessions and listeners
// of one application. Build one with NewConfig; every provider defaults to noop.
type Config struct {
	tracerProvider  trace.TracerProvider
	meterProvider   metric.MeterProvider
	propagator      propagation.TextMapPropagator
	version         string
	system          string
	attributes      []attribute.KeyValue
	durationBuckets []float64
}

// Option configures observability.
type Option interface {
	apply(*Config)
}

type option func(*Config)

func (o option) apply(c *Config) {
	o(c)
}

func NewConfig(opts ...Option) *Config {
	c := &Config{
		tracerProvider:  traceNoop.NewTracerProvider(),
		meterProvider:   meterNoop.NewMeterProvider(),
		propagator:      otel.GetTextMapPropagator(),
		version:         DefaultInstrumentationVersion,
		system:          DefaultMessagingSystem,
		durationBuckets: DefaultDurationBuckets,
	}

	for _, opt := range opts {
		opt.apply(c)
	}

	return c
}

// WithTracerProvider sets the tracer provider. nil keeps tracing disabled.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return option(func(c *Config) {
		if tp == nil {
			tp = traceNoop.NewTracerProvider()
		}

		c.tracerProvider = tp
	})
}

// WithMeterProvider sets the meter provider. nil keeps metrics disabled.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return option(func(c *Config) {
		if mp == nil {
			mp = meterNoop.NewMeterProvider()
		}

		c.meterProvider = mp
	})
}

// WithPropagator sets the propagator used to read producer trace context from message properties.
func WithPropagator(propagator propagation.TextMapPropagator) Option {
	return option(func(c *Config) {
		if propagator != nil {
			c.propagator = propagator
		}
	})
}

// WithInstrumentationVersion sets the version of the tracer and meter scopes.
func WithInstrumentationVersion(version string) Option {
	return option(func(c *Config) {
		c.version = version
	})
}

// WithMessagingSystem names the broker behind the transport, e.g. "aws_sqs".
func WithMessagingSystem(system string) Option {
	return option(func(c *Config) {
		if system != "" {
			c.system = system
		}
	})
}

// WithAttributes adds attributes to every span and metric data point,
// e.g. the destination a consumer reads from. Repeated calls accumulate.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return option(func(c *Config) {
		c.attributes = append(slices.Clone(c.attributes), attrs...)
	})
}

// WithDurationBuckets replaces the histogram bounds of the duration metrics.
func WithDurationBuckets(bounds ...float64) Option {
	return option(func(c *Config) {
		if len(bounds) > 0 {
			c.durationBuckets = slices.Sorted(slices.Values(bounds))
		}
	})
}

func (c *Config) TracerProvider() trace.TracerProvider {
	return c.tracerProvider
}

func (c *Config) MeterProvider() metric.MeterProvider {
	return c.meterProvider
}

func (c *Config) Propagator() propagation.TextMapPropagator {
	return c.propagator
}

func (c *Config) InstrumentationVersion() string {
	return c.version
}

func (c *Config) MessagingSystem() string {
	return c.system
}

// Attributes returns a copy of the common attributes.
func (c *Config) Attributes() []attribute.KeyValue {
	return slices.Clone(c.attributes)
}

func (c *Config) DurationBuckets() []float64 {
	return slices.Clone(c.durationBuckets)
}

// OrDefault returns c, or a disabled config when c is nil.
func (c *Config) OrDefault() *Config {
	if c == nil {
		return NewConfig()
	}

	return c
}
