package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/torrin/pkg/upload"
)

// uploadMetrics is the Prometheus implementation of upload.Metrics.
type uploadMetrics struct {
	operations     *prometheus.HistogramVec
	chunkBytes     prometheus.Counter
	activeSessions prometheus.Gauge
	sessionEvents  *prometheus.CounterVec
}

// NewUploadMetrics creates a Prometheus-backed upload.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called); the
// upload service treats nil as disabled.
func NewUploadMetrics() upload.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &uploadMetrics{
		operations: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "torrin_upload_operation_duration_seconds",
				Help:    "Duration of upload service operations by operation and outcome",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "outcome"},
		),
		chunkBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "torrin_upload_chunk_bytes_total",
				Help: "Total bytes accepted across all chunk uploads",
			},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "torrin_upload_active_sessions",
				Help: "Number of non-terminal upload sessions",
			},
		),
		sessionEvents: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "torrin_upload_sessions_total",
				Help: "Total session lifecycle events by type",
			},
			[]string{"event"}, // "created", "completed", "canceled", "expired"
		),
	}
}

// ObserveOperation records the duration and outcome of one service operation.
func (m *uploadMetrics) ObserveOperation(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Observe(d.Seconds())
}

// RecordChunkBytes records bytes accepted by a chunk upload.
func (m *uploadMetrics) RecordChunkBytes(n int64) {
	if m == nil {
		return
	}
	m.chunkBytes.Add(float64(n))
}

// RecordActiveSessions adjusts the active session gauge.
func (m *uploadMetrics) RecordActiveSessions(delta int) {
	if m == nil {
		return
	}
	m.activeSessions.Add(float64(delta))
}

// RecordSession counts a session lifecycle event.
func (m *uploadMetrics) RecordSession(event string) {
	if m == nil {
		return
	}
	m.sessionEvents.WithLabelValues(event).Inc()
}
