package bgsync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Prober reports whether the upstream origin is reachable
type Prober interface {
	Probe(ctx context.Context) error
}

// Connectivity receives online and offline transitions
type Connectivity interface {
	Online(ctx context.Context)
	Offline(ctx context.Context)
}

// Monitor probes the origin on an interval and reports transitions. When
// the origin comes back, pending deferred syncs are flushed.
type Monitor struct {
	log      *zap.Logger
	prober   Prober
	events   Connectivity
	registry *Registry
	interval time.Duration

	mu     sync.Mutex
	online bool
}

// NewMonitor creates a monitor that starts in the online state
func NewMonitor(log *zap.Logger, prober Prober, events Connectivity, registry *Registry, interval time.Duration) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		log:      log.With(zap.String("component", "monitor")),
		prober:   prober,
		events:   events,
		registry: registry,
		interval: interval,
		online:   true,
	}
}

// Online reports the last observed connectivity
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Run probes until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check probes once and dispatches a transition if connectivity changed
func (m *Monitor) Check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	err := m.prober.Probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}

	online := err == nil
	m.mu.Lock()
	changed := online != m.online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}

	if m.registry != nil {
		m.registry.SetOnline(online)
	}
	if online {
		m.log.Info("Origin reachable again")
		m.events.Online(ctx)
		if m.registry != nil {
			m.registry.Flush(ctx)
		}
		return
	}
	m.log.Warn("Origin unreachable", zap.Error(err))
	m.events.Offline(ctx)
}
