package gitproto

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsForRegistererMemoizesDefaultRegisterer(t *testing.T) {
	a := metricsForRegisterer(prometheus.DefaultRegisterer)
	b := metricsForRegisterer(prometheus.DefaultRegisterer)
	if a != b {
		t.Fatal("metricsForRegisterer(DefaultRegisterer) returned distinct instances, want the same singleton")
	}
}

func TestMetricsForRegistererIsFreshPerCustomRegistry(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()

	m1 := metricsForRegisterer(reg1)
	m2 := metricsForRegisterer(reg2)
	if m1 == m2 {
		t.Fatal("metricsForRegisterer returned the same instance for two distinct registries")
	}
}

func TestNewDoesNotPanicOnRepeatedDefaultRegistererUse(t *testing.T) {
	// Regression: New() used to call newHTTPMetrics(prometheus.DefaultRegisterer)
	// unconditionally, and a second registration of the same collector names
	// against the same registerer panics via MustRegister.
	for i := 0; i < 3; i++ {
		New(t.TempDir(), Options{})
	}
}

func TestGathererForRegistererUsesCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := gathererForRegisterer(reg)
	if g != reg {
		t.Fatal("gathererForRegisterer did not return the custom *prometheus.Registry as its own gatherer")
	}
}

func TestGathererForRegistererFallsBackToDefault(t *testing.T) {
	g := gathererForRegisterer(noopRegisterer{})
	if g != prometheus.DefaultGatherer {
		t.Fatal("gathererForRegisterer should fall back to prometheus.DefaultGatherer for a non-Gatherer Registerer")
	}
}

type noopRegisterer struct{}

func (noopRegisterer) Register(prometheus.Collector) error { return nil }
func (noopRegisterer) MustRegister(...prometheus.Collector) {}
func (noopRegisterer) Unregister(prometheus.Collector) bool { return true }
