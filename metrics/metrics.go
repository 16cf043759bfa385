// Package metrics exposes transfer counters for Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Directions used as label values.
const (
	DirectionSend    = "send"
	DirectionReceive = "receive"
)

// Outcomes used as label values.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeRejected  = "rejected"
)

// Metrics holds the collectors on a dedicated registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	transfersStarted  *prometheus.CounterVec
	transfersFinished *prometheus.CounterVec
	bytesTransferred  *prometheus.CounterVec
	activeSessions    *prometheus.GaugeVec
	archiveDuration   *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		transfersStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wyrmhole_transfers_started_total",
				Help: "Transfers started, by direction.",
			},
			[]string{"direction"},
		),
		transfersFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wyrmhole_transfers_finished_total",
				Help: "Transfers that reached a terminal state, by direction and outcome.",
			},
			[]string{"direction", "outcome"},
		),
		bytesTransferred: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wyrmhole_bytes_transferred_total",
				Help: "Payload bytes moved, by direction.",
			},
			[]string{"direction"},
		),
		activeSessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wyrmhole_active_sessions",
				Help: "Live sessions per registry table.",
			},
			[]string{"table"},
		),
		archiveDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wyrmhole_archive_duration_seconds",
				Help:    "Time spent packing or unpacking archives.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// Registry returns the registry backing these collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// TransferStarted counts a new transfer.
func (m *Metrics) TransferStarted(direction string) {
	if m == nil {
		return
	}
	m.transfersStarted.WithLabelValues(direction).Inc()
}

// TransferFinished counts a terminal outcome.
func (m *Metrics) TransferFinished(direction, outcome string) {
	if m == nil {
		return
	}
	m.transfersFinished.WithLabelValues(direction, outcome).Inc()
}

// AddBytes adds moved payload bytes.
func (m *Metrics) AddBytes(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(direction).Add(float64(n))
}

// SetActive records the size of a session table.
func (m *Metrics) SetActive(table string, n int) {
	if m == nil {
		return
	}
	m.activeSessions.WithLabelValues(table).Set(float64(n))
}

// ObserveArchive records how long a pack or unpack took.
func (m *Metrics) ObserveArchive(operation string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.archiveDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
