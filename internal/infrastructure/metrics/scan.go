// Package metrics содержит Prometheus-метрики сессий сканирования.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"pest-scan/internal/domain/entity"
	"pest-scan/internal/domain/port"
)

// ScanMetrics метрики контроллера сессий
type ScanMetrics struct {
	Transitions       *prometheus.CounterVec
	Detections        *prometheus.CounterVec
	DetectionDuration prometheus.Histogram
	PreviewHandles    prometheus.Gauge
}

// NewScanMetrics создаёт метрики и регистрирует их в registry
func NewScanMetrics(registry prometheus.Registerer) (*ScanMetrics, error) {
	m := &ScanMetrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pestscan_session_transitions_total",
			Help: "Total number of scan session transitions by target state.",
		}, []string{"state"}),
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pestscan_detections_total",
			Help: "Total number of resolved detection calls by outcome.",
		}, []string{"outcome"}),
		DetectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pestscan_detection_duration_seconds",
			Help:    "Duration of detection calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		PreviewHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pestscan_preview_handles",
			Help: "Number of preview handles not yet released.",
		}),
	}

	for _, c := range []prometheus.Collector{m.Transitions, m.Detections, m.DetectionDuration, m.PreviewHandles} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register scan metrics: %w", err)
		}
	}

	return m, nil
}

func (m *ScanMetrics) Transition(state entity.SessionState) {
	m.Transitions.WithLabelValues(string(state)).Inc()
}

func (m *ScanMetrics) DetectionResolved(outcome string, seconds float64) {
	m.Detections.WithLabelValues(outcome).Inc()
	m.DetectionDuration.Observe(seconds)
}

func (m *ScanMetrics) PreviewsLive(delta int) {
	m.PreviewHandles.Add(float64(delta))
}

var _ port.ScanObserver = (*ScanMetrics)(nil)
