package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/swelljoe/wthr-offline/internal/platform"
)

// Sync handles a deferred-sync event. Only SyncTag triggers a data sync.
func (d *Dispatcher) Sync(ctx context.Context, tag string) {
	if tag != SyncTag {
		d.log.Debug("Ignoring sync tag", zap.String("tag", tag))
		return
	}
	d.syncAndLog(ctx, "sync")
}

// PeriodicSync handles a periodic-sync event. Only PeriodicSyncTag triggers a
// data sync.
func (d *Dispatcher) PeriodicSync(ctx context.Context, tag string) {
	if tag != PeriodicSyncTag {
		d.log.Debug("Ignoring periodic sync tag", zap.String("tag", tag))
		return
	}
	d.syncAndLog(ctx, "periodic")
}

func (d *Dispatcher) syncAndLog(ctx context.Context, trigger string) {
	err := d.SyncWeatherData(ctx)
	d.metrics.Sync(trigger, err)
	if err != nil {
		d.log.Error("Weather data sync failed", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	d.log.Info("Weather data synced successfully", zap.String("trigger", trigger))
}

// SyncWeatherData posts a sync request to the origin and, on a 2xx reply,
// tells every open page that fresh data is available.
func (d *Dispatcher) SyncWeatherData(ctx context.Context) error {
	d.log.Debug("Syncing weather data")

	resp, err := d.syncHTTP.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody([]byte("{}")).
		Post(d.network.Resolve(d.syncEndpoint))
	if err != nil {
		return fmt.Errorf("sync request failed: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("sync endpoint returned %d", resp.StatusCode())
	}

	clients, err := d.clients.MatchAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list clients: %w", err)
	}

	msg := platform.Message{
		Type:      platform.MessageDataSynced,
		Timestamp: d.now().UnixMilli(),
	}
	for _, c := range clients {
		if err := c.PostMessage(ctx, msg); err != nil {
			d.log.Warn("Failed to notify client", zap.String("client", c.ID()), zap.Error(err))
		}
	}
	return nil
}
