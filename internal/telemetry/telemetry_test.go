package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"auraly/internal/domain"
)

func TestSessionMetricsRecordsOutcomes(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	metrics, err := NewSessionMetrics(provider)
	if err != nil {
		t.Fatalf("new metrics failed: %v", err)
	}

	ctx := context.Background()
	metrics.RecordingStarted(ctx, "subprocess")
	metrics.RecordingStarted(ctx, "subprocess")
	metrics.OutcomeRecorded(ctx, "subprocess", domain.Success("hi"), 2*time.Second)
	metrics.OutcomeRecorded(ctx, "subprocess", domain.Failure("boom"), time.Second)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect failed: %v", err)
	}

	started := findSum(t, rm, "auraly.recordings.started")
	if len(started.DataPoints) != 1 || started.DataPoints[0].Value != 2 {
		t.Fatalf("unexpected started points: %+v", started.DataPoints)
	}

	outcomes := findSum(t, rm, "auraly.transcriptions.outcomes")
	byKind := map[string]int64{}
	for _, dp := range outcomes.DataPoints {
		kind, _ := dp.Attributes.Value(attribute.Key("outcome"))
		byKind[kind.AsString()] += dp.Value
	}
	if byKind["success"] != 1 || byKind["failure"] != 1 {
		t.Fatalf("unexpected outcome counts: %+v", byKind)
	}
}

func TestSetupWithStdoutTraces(t *testing.T) {
	var out bytes.Buffer
	provider, err := Setup(context.Background(), Config{TraceStdout: true, TraceWriter: &out}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "probe")
	span.End()

	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte(`"probe"`)) {
		t.Fatalf("expected span in stdout exporter output, got %s", out.String())
	}
}

func findSum(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Sum[int64] {
	t.Helper()
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is %T, not an int64 sum", name, m.Data)
			}
			return sum
		}
	}
	t.Fatalf("metric %s not found", name)
	return metricdata.Sum[int64]{}
}
