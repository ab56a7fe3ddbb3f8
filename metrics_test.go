package panelauth

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsCountersConcurrent(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(MetricLoginFailure)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricLoginFailure); got != 8000 {
		t.Fatalf("expected 8000, got %d", got)
	}
	snap := m.Snapshot()
	if snap.Counters[MetricLoginFailure] != 8000 {
		t.Fatalf("snapshot mismatch: %d", snap.Counters[MetricLoginFailure])
	}
	if _, ok := snap.Counters[MetricLoginLatency]; ok {
		t.Fatal("latency is a histogram, not a counter")
	}
}

func TestMetricsLatencyBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricLoginLatency, 10*time.Millisecond)
	m.Observe(MetricLoginLatency, 400*time.Millisecond)
	m.Observe(MetricLoginLatency, time.Minute)
	m.Observe(MetricLoginFailure, time.Millisecond)

	buckets := m.Snapshot().Histograms[MetricLoginLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	if buckets[0] != 1 || buckets[3] != 1 || buckets[7] != 1 {
		t.Fatalf("unexpected buckets %v", buckets)
	}
}

func TestMetricsDisabledAndNil(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)
	if m.Value(MetricLoginSuccess) != 0 || len(m.Snapshot().Counters) != 0 {
		t.Fatal("disabled metrics must not record")
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess)
	nilMetrics.Observe(MetricLoginLatency, time.Second)
	if nilMetrics.Enabled() || nilMetrics.Value(MetricLoginSuccess) != 0 {
		t.Fatal("nil metrics must be inert")
	}
}

func TestEngineSnapshotWithMetricsDisabled(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *Config) { cfg.Metrics.Enabled = false }))
	env.addUser(t, "ops@example.com")
	env.login(t, "ops@example.com")

	if got := len(env.engine.MetricsSnapshot().Counters); got != 0 {
		t.Fatalf("expected empty snapshot, got %d counters", got)
	}
}
