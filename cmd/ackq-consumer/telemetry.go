package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	serviceName    = "ackq-consumer"
	serviceVersion = "1.0.0"
)

// telemetry owns the providers and the metrics server. Shutdown flushes both providers.
type telemetry struct {
	tracerProvider *trace.TracerProvider
	meterProvider  *metric.MeterProvider
	server         *http.Server
	logger         *slog.Logger
}

func setupTelemetry(ctx context.Context, cfg *Configuration, logger *slog.Logger) (*telemetry, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	t := &telemetry{logger: logger}

	traceOpts := []trace.TracerProviderOption{trace.WithResource(res)}
	metricOpts := []metric.Option{metric.WithResource(res)}

	if cfg.OTLPEndpoint != "" {
		endpoint, insecure, err := parseOTLPEndpoint(cfg.OTLPEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to parse OTLP endpoint: %w", err)
		}

		traceExporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		metricExporterOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}

		if insecure {
			traceExporterOpts = append(traceExporterOpts, otlptracehttp.WithInsecure())
			metricExporterOpts = append(metricExporterOpts, otlpmetrichttp.WithInsecure())
		}

		traceExporter, err := otlptracehttp.New(ctx, traceExporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}

		metricExporter, err := otlpmetrichttp.New(ctx, metricExporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}

		traceOpts = append(traceOpts, trace.WithBatcher(traceExporter, trace.WithBatchTimeout(time.Second)))
		metricOpts = append(metricOpts, metric.WithReader(metric.NewPeriodicReader(metricExporter, metric.WithInterval(10*time.Second))))

		logger.Info("OTLP exporters initialized", slog.String("endpoint", endpoint), slog.Bool("insecure", insecure))
	}

	if cfg.EnableStdoutTelemetry {
		traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithoutTimestamps())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}

		metricExporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint(), stdoutmetric.WithoutTimestamps())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
		}

		traceOpts = append(traceOpts, trace.WithBatcher(traceExporter))
		metricOpts = append(metricOpts, metric.WithReader(metric.NewPeriodicReader(metricExporter, metric.WithInterval(15*time.Second))))

		logger.Info("stdout exporters enabled")
	}

	if cfg.MetricsAddr != "" {
		promExporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}

		metricOpts = append(metricOpts, metric.WithReader(promExporter))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		t.server = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	t.tracerProvider = trace.NewTracerProvider(traceOpts...)
	t.meterProvider = metric.NewMeterProvider(metricOpts...)

	otel.SetTracerProvider(t.tracerProvider)
	otel.SetMeterProvider(t.meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// Serve runs the Prometheus metrics server until ctx is done.
func (t *telemetry) Serve(ctx context.Context) error {
	if t.server == nil {
		return nil
	}

	errCh := make(chan error, 1)

	go func() {
		t.logger.Info("starting metrics server", slog.String("addr", t.server.Addr))
		errCh <- t.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		return t.server.Shutdown(shutdownCtx)
	}
}

func (t *telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.tracerProvider.Shutdown(ctx),
		t.meterProvider.Shutdown(ctx),
	)
}

// parseOTLPEndpoint parses an OTLP endpoint URL and returns the host:port and insecure flag
func parseOTLPEndpoint(endpoint string) (host string, insecure bool, err error) {
	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid OTLP endpoint URL: %w", err)
	}

	host = parsedURL.Host
	if host == "" {
		return "", false, fmt.Errorf("OTLP endpoint URL must include host")
	}

	if parsedURL.Port() == "" {
		switch parsedURL.Scheme {
		case "https":
			host += ":443"
		case "http":
			host += ":4318" // default OTLP HTTP port
		default:
			return "", false, fmt.Errorf("unsupported scheme %q in OTLP endpoint", parsedURL.Scheme)
		}
	}

	return host, parsedURL.Scheme == "http", nil
}
