package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheLookup(true)
		m.NetworkFetch(nil)
		m.WriteBack("stored")
		m.OfflineFallback()
		m.Sync("online", nil)
		m.Notification()
		m.SetState("active", []string{"active"})
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.NetworkFetch(errors.New("offline"))
	m.Sync("periodic", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NetworkFetches.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Syncs.WithLabelValues("periodic", "ok")))
}

func TestSetState(t *testing.T) {
	m := New(nil)
	all := []string{"installing", "waiting", "active"}

	m.SetState("waiting", all)
	m.SetState("active", all)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.LifecycleState.WithLabelValues("waiting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LifecycleState.WithLabelValues("active")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LifecycleState.WithLabelValues("installing")))
}
