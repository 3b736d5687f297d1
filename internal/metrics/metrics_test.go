package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// New registers against the global default registry, so tests exercise the
// collector behavior against an isolated registry instead of calling New()
// directly — grounded on observability/metrics_test.go's same caveat.

func TestAgentInflightTurnsGaugeTracksConcurrency(t *testing.T) {
	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "test_agent_inflight_turns", Help: "test"},
		[]string{"channel"},
	)
	registry.MustRegister(gauge)

	gauge.WithLabelValues("telegram").Inc()
	gauge.WithLabelValues("telegram").Inc()
	gauge.WithLabelValues("telegram").Dec()

	if got := testutil.ToFloat64(gauge.WithLabelValues("telegram")); got != 1 {
		t.Fatalf("expected gauge value 1, got %v", got)
	}
}

func TestSubagentsTotalCounterTracksStatus(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "test_subagents_total", Help: "test"},
		[]string{"status"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("completed").Inc()
	counter.WithLabelValues("failed").Inc()
	counter.WithLabelValues("completed").Inc()

	if count := testutil.CollectAndCount(counter); count != 2 {
		t.Fatalf("expected 2 distinct status label combinations, got %d", count)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("completed")); got != 2 {
		t.Fatalf("expected 2 completed runs, got %v", got)
	}
}
