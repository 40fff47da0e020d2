package worker

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSyncBroadcast verifies every client receives exactly one
// WEATHER_DATA_SYNCED message after a 2xx sync.
func TestSyncBroadcast(t *testing.T) {
	h := newHarness(t, Options{})
	a := &fakeClient{id: "a", url: "/"}
	b := &fakeClient{id: "b", url: "/forecast"}
	h.clients.clients = []*fakeClient{a, b}

	h.d.Sync(context.Background(), SyncTag)

	for _, c := range []*fakeClient{a, b} {
		msgs := c.received()
		require.Len(t, msgs, 1, c.id)
		assert.Equal(t, "WEATHER_DATA_SYNCED", msgs[0].Type)
		assert.Equal(t, int64(1700000000000), msgs[0].Timestamp)
	}

	h.origin.mu.Lock()
	defer h.origin.mu.Unlock()
	assert.Equal(t, []string{"application/json"}, h.origin.syncTypes)
	assert.Equal(t, []string{"{}"}, h.origin.syncBodies)
}

func TestSyncFailureSendsNothing(t *testing.T) {
	h := newHarness(t, Options{})
	a := &fakeClient{id: "a", url: "/"}
	h.clients.clients = []*fakeClient{a}
	h.origin.syncStatus = http.StatusInternalServerError

	assert.NotPanics(t, func() {
		h.d.Sync(context.Background(), SyncTag)
	})
	assert.Empty(t, a.received())

	assert.Error(t, h.d.SyncWeatherData(context.Background()))
}

func TestSyncTriggers(t *testing.T) {
	tests := []struct {
		name     string
		trigger  func(d *Dispatcher)
		expected int
	}{
		{"deferred sync tag", func(d *Dispatcher) { d.Sync(context.Background(), SyncTag) }, 1},
		{"other deferred tag", func(d *Dispatcher) { d.Sync(context.Background(), "something-else") }, 0},
		{"periodic tag", func(d *Dispatcher) { d.PeriodicSync(context.Background(), PeriodicSyncTag) }, 1},
		{"other periodic tag", func(d *Dispatcher) { d.PeriodicSync(context.Background(), SyncTag) }, 0},
		{"online", func(d *Dispatcher) { d.Online(context.Background()) }, 1},
		{"offline", func(d *Dispatcher) { d.Offline(context.Background()) }, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			tt.trigger(h.d)
			assert.Equal(t, tt.expected, h.origin.hitCount(DefaultSyncEndpoint))
		})
	}
}

func TestSyncCustomEndpoint(t *testing.T) {
	h := newHarness(t, Options{SyncEndpoint: "/api/v2/sync"})
	h.d.Sync(context.Background(), SyncTag)
	assert.Equal(t, 1, h.origin.hitCount("/api/v2/sync"))
}
