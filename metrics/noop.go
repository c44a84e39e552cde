package metrics

import (
	"time"

	"github.com/nutrify-app/offline-gateway/types"
)

// NoopMetrics satisfies the metrics interface without recording anything.
// It backs deployments that run with metrics disabled.
type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) Start() error    { return nil }
func (n *NoopMetrics) Stop() error     { return nil }
func (n *NoopMetrics) IsRunning() bool { return true }

func (n *NoopMetrics) Counter(name string, labels map[string]string) types.Counter {
	return noopCounter{}
}

func (n *NoopMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	return noopGauge{}
}

func (n *NoopMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	return noopHistogram{}
}

func (n *NoopMetrics) GetMetrics() ([]byte, error) {
	return []byte("[]"), nil
}

func (n *NoopMetrics) GetStats() ([]byte, error) {
	return []byte("{}"), nil
}

type noopCounter struct{}

func (noopCounter) Inc()         {}
func (noopCounter) Add(float64)  {}
func (noopCounter) Get() float64 { return 0 }

type noopGauge struct{}

func (noopGauge) Set(float64)  {}
func (noopGauge) Inc()         {}
func (noopGauge) Dec()         {}
func (noopGauge) Add(float64)  {}
func (noopGauge) Sub(float64)  {}
func (noopGauge) Get() float64 { return 0 }

type noopHistogram struct{}

func (noopHistogram) Observe(float64)           {}
func (noopHistogram) ObserveDuration(time.Time) {}
func (noopHistogram) GetCount() uint64          { return 0 }
func (noopHistogram) GetSum() float64           { return 0 }
