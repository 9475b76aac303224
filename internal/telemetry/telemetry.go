// Package telemetry provides opt-in Prometheus metrics for the sync engine.
//
// Metrics stay local: they are only exposed when the caller registers them
// and serves the registry. A nil *Metrics is valid and records nothing, so
// components can be built without telemetry.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "offlinesync"

// Flush trigger labels.
const (
	TriggerManual    = "manual"
	TriggerReconnect = "reconnect"
	TriggerPeriodic  = "periodic"
	TriggerRerun     = "rerun"
)

// Action result labels.
const (
	ResultSucceeded    = "succeeded"
	ResultFailed       = "failed"
	ResultDeadLettered = "dead_lettered"
	ResultEnqueued     = "enqueued"
)

// Metrics holds the collectors exported by the engine.
type Metrics struct {
	flushes       *prometheus.CounterVec
	actions       *prometheus.CounterVec
	storageErrors *prometheus.CounterVec
	pending       prometheus.Gauge
	online        prometheus.Gauge
	flushDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Queue flush passes, by trigger.",
		}, []string{"trigger"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Pending actions processed, by result.",
		}, []string{"result"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Recovered storage failures, by component and error code.",
		}, []string{"component", "code"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_actions",
			Help:      "Actions waiting in the queue after the last change.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "1 when the last connectivity report was online.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Wall time of one flush pass.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{m.flushes, m.actions, m.storageErrors, m.pending, m.online, m.flushDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// IsEnabled reports whether m records anything.
func (m *Metrics) IsEnabled() bool {
	return m != nil
}

// RecordFlush counts one flush pass.
func (m *Metrics) RecordFlush(trigger string, duration time.Duration) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues(trigger).Inc()
	m.flushDuration.Observe(duration.Seconds())
}

// RecordAction counts one processed action.
func (m *Metrics) RecordAction(result string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(result).Inc()
}

// RecordStorageError counts one recovered storage failure.
func (m *Metrics) RecordStorageError(component, code string) {
	if m == nil {
		return
	}
	m.storageErrors.WithLabelValues(component, code).Inc()
}

// SetPending sets the pending action gauge.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

// SetOnline sets the connectivity gauge.
func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
}
