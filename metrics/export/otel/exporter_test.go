package otel

import (
	"context"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrEthical07/panelauth"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot panelauth.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() panelauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := panelauth.MetricsSnapshot{
		Counters:   make(map[panelauth.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[panelauth.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumValue(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 {
		t.Fatalf("expected one int64 sum point, got %#v", data)
	}
	return sum.DataPoints[0].Value
}

func gaugeValue(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	gauge, ok := data.(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) != 1 {
		t.Fatalf("expected one int64 gauge point, got %#v", data)
	}
	return gauge.DataPoints[0].Value
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: panelauth.MetricsSnapshot{
			Counters: map[panelauth.MetricID]uint64{
				panelauth.MetricLoginSuccess:       3,
				panelauth.MetricEmergencyTokenUsed: 1,
			},
			Histograms: map[panelauth.MetricID][]uint64{
				panelauth.MetricLoginLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 4,
	}

	exp, err := NewExporterFromSource(provider.Meter("panelauth-test"), src)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}()

	data := collect(t, reader)
	if got := sumValue(t, data["panelauth_login_success_total"]); got != 3 {
		t.Fatalf("login success = %d", got)
	}
	if got := sumValue(t, data["panelauth_emergency_token_used_total"]); got != 1 {
		t.Fatalf("emergency used = %d", got)
	}
	if got := sumValue(t, data["panelauth_audit_dropped_total"]); got != 4 {
		t.Fatalf("audit dropped = %d", got)
	}
	if got := gaugeValue(t, data["panelauth_login_latency_seconds_bucket_le_0_25"]); got != 3 {
		t.Fatalf("cumulative 250ms bucket = %d", got)
	}
	if got := gaugeValue(t, data["panelauth_login_latency_seconds_count"]); got != 8 {
		t.Fatalf("latency count = %d", got)
	}
}

func TestExporterRejectsNil(t *testing.T) {
	_, provider := newReader()
	meter := provider.Meter("panelauth-test")

	if _, err := NewExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil engine, got %v", err)
	}
	if _, err := NewExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: panelauth.MetricsSnapshot{
			Counters:   map[panelauth.MetricID]uint64{panelauth.MetricLoginSuccess: 1},
			Histograms: map[panelauth.MetricID][]uint64{},
		},
	}

	exp, err := NewExporterFromSource(provider.Meter("panelauth-test"), src)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[panelauth.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
