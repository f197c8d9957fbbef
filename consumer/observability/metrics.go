package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records consumer metrics by registered name.
type Metrics interface {
	Counter(ctx context.Context, name MetricName, value int64, opts ...MetricOption)
	Histogram(ctx context.Context, name MetricName, value float64, opts ...MetricOption)
	// RecordDuration records d in seconds on a duration histogram.
	RecordDuration(ctx context.Context, name MetricName, d time.Duration, opts ...MetricOption)
	// ObserveSession reports the gauges of a consumer session on every collection
	// until the returned func is called.
	ObserveSession(consumerName string, gauges SessionGauges) (unregister func() error, err error)
}

// SessionGauges reads the point-in-time sizes of a consumer session.
// A nil func leaves its gauge unreported.
type SessionGauges struct {
	Unacked     func() int64
	Queued      func() int64
	PendingAcks func() int64
}

func (g SessionGauges) readers() map[MetricName]func() int64 {
	return map[MetricName]func() int64{
		MetricUnackedMessages:   g.Unacked,
		MetricReceiverQueueSize: g.Queued,
		MetricPendingAcks:       g.PendingAcks,
	}
}

var errUnknownMetric = errors.New("ackq: metric is not registered")

// otelMetrics creates every instrument of the registry up front. The maps are
// never written after NewMetrics returns.
type otelMetrics struct {
	meter      metric.Meter
	counters   map[MetricName]metric.Int64Counter
	histograms map[MetricName]metric.Float64Histogram
	gauges     map[MetricName]metric.Int64ObservableGauge
	common     []attribute.KeyValue
}

func NewMetrics(cfg *Config) Metrics {
	m := &otelMetrics{
		meter: cfg.MeterProvider().Meter(
			meterName,
			metric.WithInstrumentationVersion(cfg.InstrumentationVersion()),
		),
		counters:   make(map[MetricName]metric.Int64Counter),
		histograms: make(map[MetricName]metric.Float64Histogram),
		gauges:     make(map[MetricName]metric.Int64ObservableGauge),
		common:     cfg.Attributes(),
	}

	for name, meta := range metricInfo {
		if err := m.register(name, meta, cfg.DurationBuckets()); err != nil {
			otel.Handle(fmt.Errorf("register %s: %w", name, err))
		}
	}

	return m
}

func (m *otelMetrics) register(name MetricName, meta MetricMetadata, durationBuckets []float64) error {
	switch meta.Kind {
	case KindCounter:
		c, err := m.meter.Int64Counter(string(name), metric.WithDescription(meta.Description), metric.WithUnit(meta.Unit))
		if err != nil {
			return err
		}

		m.counters[name] = c
	case KindHistogram:
		bounds := meta.Buckets
		if bounds == nil {
			bounds = durationBuckets
		}

		h, err := m.meter.Float64Histogram(string(name),
			metric.WithDescription(meta.Description),
			metric.WithUnit(meta.Unit),
			metric.WithExplicitBucketBoundaries(bounds...),
		)
		if err != nil {
			return err
		}

		m.histograms[name] = h
	case KindSessionGauge:
		g, err := m.meter.Int64ObservableGauge(string(name), metric.WithDescription(meta.Description), metric.WithUnit(meta.Unit))
		if err != nil {
			return err
		}

		m.gauges[name] = g
	}

	return nil
}

func (m *otelMetrics) Counter(ctx context.Context, name MetricName, value int64, opts ...MetricOption) {
	counter, ok := m.counters[name]
	if !ok {
		otel.Handle(fmt.Errorf("counter %s: %w", name, errUnknownMetric))
		return
	}

	counter.Add(ctx, value, metric.WithAttributes(m.attributes(opts...)...))
}

func (m *otelMetrics) Histogram(ctx context.Context, name MetricName, value float64, opts ...MetricOption) {
	histogram, ok := m.histograms[name]
	if !ok {
		otel.Handle(fmt.Errorf("histogram %s: %w", name, errUnknownMetric))
		return
	}

	histogram.Record(ctx, value, metric.WithAttributes(m.attributes(opts...)...))
}

func (m *otelMetrics) RecordDuration(ctx context.Context, name MetricName, d time.Duration, opts ...MetricOption) {
	m.Histogram(ctx, name, d.Seconds(), opts...)
}

func (m *otelMetrics) ObserveSession(consumerName string, gauges SessionGauges) (func() error, error) {
	readers := gauges.readers()
	observables := make([]metric.Observable, 0, len(readers))

	for name, read := range readers {
		if read == nil {
			delete(readers, name)
			continue
		}

		if g, ok := m.gauges[name]; ok {
			observables = append(observables, g)
		}
	}

	if len(observables) == 0 {
		return func() error { return nil }, nil
	}

	attrs := metric.WithAttributes(m.attributes(WithConsumerMetric(consumerName))...)

	reg, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for name, read := range readers {
			if g, ok := m.gauges[name]; ok {
				o.ObserveInt64(g, read(), attrs)
			}
		}

		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register session gauges of %s: %w", consumerName, err)
	}

	return reg.Unregister, nil
}

// attributes prepends the configured common attributes to opts.
func (m *otelMetrics) attributes(opts ...MetricOption) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(m.common)+len(opts))
	attrs = append(attrs, m.common...)

	for _, opt := range opts {
		attrs = append(attrs, opt())
	}

	return attrs
}
