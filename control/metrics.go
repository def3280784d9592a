// File: control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for the descriptor-passing core.
// Prometheus counters behind a thread-safe snapshot registry with
// dynamic registration, nil-safe so hot paths never branch on
// "metrics enabled".

package control

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates the counters the reactor and endpoint layers
// update. A nil *Metrics is valid and turns every update into a no-op.
type Metrics struct {
	Registrations       prometheus.Counter
	Wakeups             prometheus.Counter
	ReadyEvents         prometheus.Counter
	Timeouts            prometheus.Counter
	DescriptorsSent     prometheus.Counter
	DescriptorsReceived prometheus.Counter
	PendingOps          prometheus.Gauge
}

// NewMetrics builds the metric set and registers it with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hioload_fd_registrations_total",
			Help: "One-shot readiness registrations accepted by the reactor.",
		}),
		Wakeups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hioload_fd_wakeups_total",
			Help: "Cross-thread eventfd wakeups of the reactor loop.",
		}),
		ReadyEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hioload_fd_ready_events_total",
			Help: "Registrations resolved by readiness.",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hioload_fd_timeouts_total",
			Help: "Registrations resolved by deadline expiry.",
		}),
		DescriptorsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hioload_fd_descriptors_sent_total",
			Help: "Descriptors successfully passed to a peer.",
		}),
		DescriptorsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hioload_fd_descriptors_received_total",
			Help: "Valid descriptors received from a peer.",
		}),
		PendingOps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hioload_fd_pending_operations",
			Help: "Suspended operations currently awaiting readiness.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Registrations, m.Wakeups, m.ReadyEvents,
			m.Timeouts, m.DescriptorsSent, m.DescriptorsReceived, m.PendingOps)
	}
	return m
}

func (m *Metrics) IncRegistrations() {
	if m != nil {
		m.Registrations.Inc()
		m.PendingOps.Inc()
	}
}

func (m *Metrics) IncWakeups() {
	if m != nil {
		m.Wakeups.Inc()
	}
}

func (m *Metrics) IncReady() {
	if m != nil {
		m.ReadyEvents.Inc()
		m.PendingOps.Dec()
	}
}

func (m *Metrics) IncTimeouts() {
	if m != nil {
		m.Timeouts.Inc()
		m.PendingOps.Dec()
	}
}

func (m *Metrics) IncSent() {
	if m != nil {
		m.DescriptorsSent.Inc()
	}
}

func (m *Metrics) IncReceived() {
	if m != nil {
		m.DescriptorsReceived.Inc()
	}
}

// MetricsRegistry holds mutable and read-only snapshot values keyed by
// name, for debug probes that want a map instead of an exposition
// endpoint.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]any
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics: make(map[string]any),
	}
}

// Set sets or updates a metric key.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// GetSnapshot returns the latest metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}
