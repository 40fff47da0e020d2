// Package metrics provides Prometheus collectors for the offline worker.
// All methods are nil-safe: calls on a nil *Metrics are no-ops.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wthr_offline"

// Metrics groups every collector the worker reports to
type Metrics struct {
	// CacheLookups counts fetch lookups, labeled by result ("hit", "miss").
	CacheLookups *prometheus.CounterVec

	// NetworkFetches counts network fetches, labeled by outcome
	// ("ok", "error").
	NetworkFetches *prometheus.CounterVec

	// WriteBacks counts detached cache writes, labeled by outcome
	// ("stored", "skipped", "error").
	WriteBacks *prometheus.CounterVec

	OfflineFallbacks prometheus.Counter

	// Syncs counts sync attempts, labeled by trigger and outcome.
	Syncs *prometheus.CounterVec

	Notifications prometheus.Counter

	// LifecycleState is 1 for the current state label and 0 for the rest.
	LifecycleState *prometheus.GaugeVec
}

// New creates and registers the collectors with reg. If reg is nil the
// collectors are created but not registered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups made by the fetch interceptor",
		}, []string{"result"}),
		NetworkFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "fetches_total",
			Help:      "Network fetches made after a cache miss",
		}, []string{"outcome"}),
		WriteBacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "write_backs_total",
			Help:      "Responses considered for storing in the live bucket",
		}, []string{"outcome"}),
		OfflineFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "offline_fallbacks_total",
			Help:      "Navigation requests answered with the cached root document",
		}),
		Syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "attempts_total",
			Help:      "Weather data sync attempts",
		}, []string{"trigger", "outcome"}),
		Notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "notifications_total",
			Help:      "Notifications shown from push payloads",
		}),
		LifecycleState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "state",
			Help:      "Current worker lifecycle state",
		}, []string{"state"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.CacheLookups,
			m.NetworkFetches,
			m.WriteBacks,
			m.OfflineFallbacks,
			m.Syncs,
			m.Notifications,
			m.LifecycleState,
		)
	}
	return m
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.CacheLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) NetworkFetch(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.NetworkFetches.WithLabelValues("error").Inc()
	} else {
		m.NetworkFetches.WithLabelValues("ok").Inc()
	}
}

func (m *Metrics) WriteBack(outcome string) {
	if m == nil {
		return
	}
	m.WriteBacks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OfflineFallback() {
	if m == nil {
		return
	}
	m.OfflineFallbacks.Inc()
}

func (m *Metrics) Sync(trigger string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Syncs.WithLabelValues(trigger, outcome).Inc()
}

func (m *Metrics) Notification() {
	if m == nil {
		return
	}
	m.Notifications.Inc()
}

// SetState marks state as current and clears every other known state
func (m *Metrics) SetState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		if s == state {
			m.LifecycleState.WithLabelValues(s).Set(1)
		} else {
			m.LifecycleState.WithLabelValues(s).Set(0)
		}
	}
}
