// Package telemetry sets up OpenTelemetry metrics and tracing for dictation
// sessions.
package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"auraly/internal/domain"
)

const instrumentationName = "auraly/internal/telemetry"

// Config selects which exporters are active.
type Config struct {
	ServiceName string
	// MetricsAddr serves Prometheus metrics when set, e.g. "127.0.0.1:9464".
	MetricsAddr string
	// TraceStdout pretty-prints spans to TraceWriter (stdout by default).
	TraceStdout bool
	TraceWriter io.Writer
}

// Provider owns the global meter and tracer providers.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	traceProvider *sdktrace.TracerProvider
	server        *http.Server
	log           *slog.Logger
}

// Setup installs global meter and tracer providers and, when configured,
// starts the Prometheus endpoint.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "auraly"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, err
	}

	p := &Provider{log: logger.With("component", "telemetry")}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceStdout {
		writer := cfg.TraceWriter
		if writer == nil {
			writer = os.Stdout
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(writer), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}
	p.traceProvider = sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(p.traceProvider)

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	var handler http.Handler
	if cfg.MetricsAddr != "" {
		exporter, err := prometheus.New()
		if err != nil {
			p.log.Warn("failed to initialize prometheus exporter", "error", err)
		} else {
			meterOpts = append(meterOpts, sdkmetric.WithReader(exporter))
			handler = promhttp.Handler()
		}
	}
	p.meterProvider = sdkmetric.NewMeterProvider(meterOpts...)
	otel.SetMeterProvider(p.meterProvider)

	if handler != nil {
		if err := p.serve(cfg.MetricsAddr, handler); err != nil {
			_ = p.Shutdown(ctx)
			return nil, err
		}
	}

	p.log.Info("telemetry initialized", "metrics_addr", cfg.MetricsAddr, "trace_stdout", cfg.TraceStdout)
	return p, nil
}

func (p *Provider) serve(addr string, handler http.Handler) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	p.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := p.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.Error("metrics server stopped", "error", err)
		}
	}()
	return nil
}

// MeterProvider exposes the SDK meter provider.
func (p *Provider) MeterProvider() metric.MeterProvider { return p.meterProvider }

// Shutdown flushes exporters and stops the metrics endpoint.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.server != nil {
		errs = append(errs, p.server.Shutdown(ctx))
	}
	if p.meterProvider != nil {
		errs = append(errs, p.meterProvider.Shutdown(ctx))
	}
	if p.traceProvider != nil {
		errs = append(errs, p.traceProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// SessionMetrics records recording and outcome instruments.
type SessionMetrics struct {
	started  metric.Int64Counter
	outcomes metric.Int64Counter
	duration metric.Float64Histogram
}

// NewSessionMetrics creates the session instruments on mp. A nil mp uses the
// global meter provider.
func NewSessionMetrics(mp metric.MeterProvider) (*SessionMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	started, err := meter.Int64Counter("auraly.recordings.started",
		metric.WithDescription("Recordings started"))
	if err != nil {
		return nil, err
	}
	outcomes, err := meter.Int64Counter("auraly.transcriptions.outcomes",
		metric.WithDescription("Finished recordings by outcome"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("auraly.session.duration",
		metric.WithDescription("Time from recording start to outcome"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &SessionMetrics{
		started:  started,
		outcomes: outcomes,
		duration: duration,
	}, nil
}

func (m *SessionMetrics) RecordingStarted(ctx context.Context, backend string) {
	m.started.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

func (m *SessionMetrics) OutcomeRecorded(ctx context.Context, backend string, outcome domain.Outcome, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("outcome", string(outcome.Kind)),
	)
	m.outcomes.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
